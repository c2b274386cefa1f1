package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/medvault/internal/flagx"
	"github.com/dmitrijs2005/medvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations are
// timex.Duration so both "90s" and integer nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddr       string `json:"http_addr"`
	HealthGRPCAddr string `json:"health_grpc_addr"`
	LogLevel       string `json:"log_level"`

	DatabaseDSN string `json:"database_dsn"`

	JWTSecret  string         `json:"jwt_secret"`
	SessionTTL timex.Duration `json:"session_ttl"`

	RecordKey     string `json:"record_key"`
	RecordKeySalt string `json:"record_key_salt"`

	RedisAddr     string         `json:"redis_addr"`
	RedisPassword string         `json:"redis_password"`
	RedisDB       int            `json:"redis_db"`
	CacheTimeout  timex.Duration `json:"cache_timeout"`

	S3RootUser     string         `json:"s3_root_user"`
	S3RootPassword string         `json:"s3_root_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	BlobTimeout    timex.Duration `json:"blob_timeout"`

	MaxUploadSize int `json:"max_upload_size"`

	AuthRateLimit float64 `json:"auth_rate_limit"`
	AuthRateBurst int     `json:"auth_rate_burst"`

	LedgerSource        string         `json:"ledger_source"`
	LedgerRPCURL        string         `json:"ledger_rpc_url"`
	LedgerContract      string         `json:"ledger_contract"`
	LedgerEmergency     string         `json:"ledger_emergency_contract"`
	LedgerStartBlock    uint64         `json:"ledger_start_block"`
	LedgerConfirmations uint64         `json:"ledger_confirmations"`
	LedgerPollInterval  timex.Duration `json:"ledger_poll_interval"`
	KafkaBrokers        []string       `json:"kafka_brokers"`
	KafkaTopic          string         `json:"kafka_topic"`
	KafkaGroupID        string         `json:"kafka_group_id"`

	ShutdownTimeout timex.Duration `json:"shutdown_timeout"`
}

// parseJson loads the file named by -c/-config, if any, and copies every
// field present in it into config. Keys missing from the file keep their
// current values. An unreadable or malformed file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	str(&config.HTTPAddr, c.HTTPAddr)
	str(&config.HealthGRPCAddr, c.HealthGRPCAddr)
	str(&config.LogLevel, c.LogLevel)
	str(&config.DatabaseDSN, c.DatabaseDSN)
	str(&config.JWTSecret, c.JWTSecret)
	dur(&config.SessionTTL, c.SessionTTL)
	str(&config.RecordKey, c.RecordKey)
	str(&config.RecordKeySalt, c.RecordKeySalt)
	str(&config.RedisAddr, c.RedisAddr)
	str(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != 0 {
		config.RedisDB = c.RedisDB
	}
	dur(&config.CacheTimeout, c.CacheTimeout)
	str(&config.S3RootUser, c.S3RootUser)
	str(&config.S3RootPassword, c.S3RootPassword)
	str(&config.S3Bucket, c.S3Bucket)
	str(&config.S3Region, c.S3Region)
	str(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	dur(&config.BlobTimeout, c.BlobTimeout)
	if c.MaxUploadSize != 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	if c.AuthRateLimit != 0 {
		config.AuthRateLimit = c.AuthRateLimit
	}
	if c.AuthRateBurst != 0 {
		config.AuthRateBurst = c.AuthRateBurst
	}
	str(&config.LedgerSource, c.LedgerSource)
	str(&config.LedgerRPCURL, c.LedgerRPCURL)
	str(&config.LedgerContract, c.LedgerContract)
	str(&config.LedgerEmergencyContract, c.LedgerEmergency)
	if c.LedgerStartBlock != 0 {
		config.LedgerStartBlock = c.LedgerStartBlock
	}
	if c.LedgerConfirmations != 0 {
		config.LedgerConfirmations = c.LedgerConfirmations
	}
	dur(&config.LedgerPollInterval, c.LedgerPollInterval)
	if len(c.KafkaBrokers) > 0 {
		config.KafkaBrokers = c.KafkaBrokers
	}
	str(&config.KafkaTopic, c.KafkaTopic)
	str(&config.KafkaGroupID, c.KafkaGroupID)
	dur(&config.ShutdownTimeout, c.ShutdownTimeout)
}

func str(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func dur(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
