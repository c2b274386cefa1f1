package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/medvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-m string   gRPC health-check bind address
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      session validity, minutes
//	-k string   record encryption key (hex) or passphrase
//	-r string   Redis address, empty for the in-process cache
//	-b string   S3 bucket name
//	-e string   S3 base endpoint
//	-l string   ledger source: rpc or kafka
//	-n string   ledger JSON-RPC URL
//	-x string   consent contract address
//	-v string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-m", "-d", "-s", "-t", "-k", "-r", "-b", "-e", "-l", "-n", "-x", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to serve HTTP")
	fs.StringVar(&config.HealthGRPCAddr, "m", config.HealthGRPCAddr, "address and port for gRPC health checks")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JWTSecret, "s", config.JWTSecret, "JWT secret key")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")

	fs.StringVar(&config.RecordKey, "k", config.RecordKey, "record encryption key")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LedgerSource, "l", config.LedgerSource, "ledger source (rpc|kafka)")
	fs.StringVar(&config.LedgerRPCURL, "n", config.LedgerRPCURL, "ledger JSON-RPC URL")
	fs.StringVar(&config.LedgerContract, "x", config.LedgerContract, "consent contract address")
	fs.StringVar(&config.LedgerEmergencyContract, "y", config.LedgerEmergencyContract, "emergency access contract address")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only an explicit -t replaces a sub-minute value set by an earlier layer
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		}
	})
}
