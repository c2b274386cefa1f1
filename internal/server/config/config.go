// Package config handles configuration for the MedVault server: defaults,
// a JSON file overlay, MEDVAULT_* environment variables and command-line
// flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Ledger source kinds.
const (
	LedgerSourceRPC   = "rpc"
	LedgerSourceKafka = "kafka"
)

// Config holds runtime settings for the MedVault server.
//
// Secrets (JWTSecret, RecordKey) and the database DSN have no defaults;
// Validate rejects a configuration that leaves them empty.
type Config struct {
	HTTPAddr       string
	HealthGRPCAddr string
	LogLevel       string

	DatabaseDSN string

	JWTSecret  string
	SessionTTL time.Duration

	// RecordKey is either 64 hex characters (a raw AES-256 key) or a
	// passphrase that is stretched with RecordKeySalt.
	RecordKey     string
	RecordKeySalt string

	// RedisAddr selects the shared cache. When empty an in-process cache is
	// used, which is only suitable for a single instance.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTimeout  time.Duration

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	BlobTimeout    time.Duration

	MaxUploadSize int

	AuthRateLimit float64
	AuthRateBurst int

	// LedgerSource is "rpc" (poll a JSON-RPC node) or "kafka" (consume a
	// relay topic).
	LedgerSource            string
	LedgerRPCURL            string
	LedgerContract          string
	// LedgerEmergencyContract is the optional emergency access contract.
	LedgerEmergencyContract string
	LedgerStartBlock        uint64
	LedgerConfirmations     uint64
	LedgerPollInterval      time.Duration
	KafkaBrokers            []string
	KafkaTopic              string
	KafkaGroupID            string

	ShutdownTimeout time.Duration
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.HealthGRPCAddr = ":50051"
	c.LogLevel = "info"
	c.SessionTTL = time.Hour
	c.RedisAddr = "127.0.0.1:6379"
	c.CacheTimeout = 2 * time.Second
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "medvault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.BlobTimeout = 10 * time.Second
	c.MaxUploadSize = 10 << 20
	c.AuthRateLimit = 5
	c.AuthRateBurst = 10
	c.LedgerSource = LedgerSourceRPC
	c.LedgerConfirmations = 0
	c.LedgerPollInterval = 2 * time.Second
	c.KafkaTopic = "medvault.ledger"
	c.KafkaGroupID = "medvault-server"
	c.ShutdownTimeout = 10 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	}
	if c.RecordKey == "" {
		errs = append(errs, errors.New("record encryption key is required"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session lifetime must be positive"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}

	switch c.LedgerSource {
	case LedgerSourceRPC:
		if c.LedgerRPCURL == "" {
			errs = append(errs, errors.New("ledger RPC URL is required"))
		}
		if c.LedgerContract == "" {
			errs = append(errs, errors.New("ledger contract address is required"))
		}
	case LedgerSourceKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka brokers and topic are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger source %q", c.LedgerSource))
	}

	return errors.Join(errs...)
}
