package constants

import "time"

// Stream names and consumer group defaults.
const (
	DefaultStream           = "jobrelay:events"
	DefaultDeadLetterStream = "jobrelay:events:dlq"
	DefaultConsumerGroup    = "jobrelay-workers"
	DefaultReadCount        = 10
	DefaultReadBlock        = 5 * time.Second
	DefaultErrorBackoff     = 2 * time.Second
)

// Redis connection defaults.
const (
	DefaultRedisAddr = "localhost:6379"
	DefaultRedisPool = 10
)

// Metrics endpoint defaults.
const (
	DefaultMetricsAddr = ":9090"
	DefaultMetricsPath = "/metrics"
	MetricsNamespace   = "jobrelay"
)

// CLI defaults.
const (
	DefaultConfigPath = "./config.toml"
	DefaultEnvFile    = "./.env"
)
