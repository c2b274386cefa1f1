package config

import "github.com/dmitrijs2005/medvault/internal/flagx"

const envPrefix = "MEDVAULT_"

// parseEnv overlays MEDVAULT_* environment variables. Blank and unparsable
// values leave the current setting untouched.
func parseEnv(c *Config) {
	flagx.EnvString(envPrefix+"HTTP_ADDR", &c.HTTPAddr)
	flagx.EnvString(envPrefix+"HEALTH_GRPC_ADDR", &c.HealthGRPCAddr)
	flagx.EnvString(envPrefix+"LOG_LEVEL", &c.LogLevel)

	flagx.EnvString(envPrefix+"DATABASE_DSN", &c.DatabaseDSN)

	flagx.EnvString(envPrefix+"JWT_SECRET", &c.JWTSecret)
	flagx.EnvDuration(envPrefix+"SESSION_TTL", &c.SessionTTL)

	flagx.EnvString(envPrefix+"RECORD_KEY", &c.RecordKey)
	flagx.EnvString(envPrefix+"RECORD_KEY_SALT", &c.RecordKeySalt)

	flagx.EnvString(envPrefix+"REDIS_ADDR", &c.RedisAddr)
	flagx.EnvString(envPrefix+"REDIS_PASSWORD", &c.RedisPassword)
	flagx.EnvInt(envPrefix+"REDIS_DB", &c.RedisDB)
	flagx.EnvDuration(envPrefix+"CACHE_TIMEOUT", &c.CacheTimeout)

	flagx.EnvString(envPrefix+"S3_ROOT_USER", &c.S3RootUser)
	flagx.EnvString(envPrefix+"S3_ROOT_PASSWORD", &c.S3RootPassword)
	flagx.EnvString(envPrefix+"S3_BUCKET", &c.S3Bucket)
	flagx.EnvString(envPrefix+"S3_REGION", &c.S3Region)
	flagx.EnvString(envPrefix+"S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	flagx.EnvDuration(envPrefix+"BLOB_TIMEOUT", &c.BlobTimeout)

	flagx.EnvInt(envPrefix+"MAX_UPLOAD_SIZE", &c.MaxUploadSize)
	flagx.EnvFloat(envPrefix+"AUTH_RATE_LIMIT", &c.AuthRateLimit)
	flagx.EnvInt(envPrefix+"AUTH_RATE_BURST", &c.AuthRateBurst)

	flagx.EnvString(envPrefix+"LEDGER_SOURCE", &c.LedgerSource)
	flagx.EnvString(envPrefix+"LEDGER_RPC_URL", &c.LedgerRPCURL)
	flagx.EnvString(envPrefix+"LEDGER_CONTRACT", &c.LedgerContract)
	flagx.EnvString(envPrefix+"LEDGER_EMERGENCY_CONTRACT", &c.LedgerEmergencyContract)
	flagx.EnvUint64(envPrefix+"LEDGER_START_BLOCK", &c.LedgerStartBlock)
	flagx.EnvUint64(envPrefix+"LEDGER_CONFIRMATIONS", &c.LedgerConfirmations)
	flagx.EnvDuration(envPrefix+"LEDGER_POLL_INTERVAL", &c.LedgerPollInterval)
	flagx.EnvList(envPrefix+"KAFKA_BROKERS", &c.KafkaBrokers)
	flagx.EnvString(envPrefix+"KAFKA_TOPIC", &c.KafkaTopic)
	flagx.EnvString(envPrefix+"KAFKA_GROUP_ID", &c.KafkaGroupID)

	flagx.EnvDuration(envPrefix+"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
}
