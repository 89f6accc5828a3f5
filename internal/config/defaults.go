package config

import (
	"fmt"
	"os"

	"github.com/aatumaykin/jobrelay/internal/constants"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Addr:               constants.DefaultRedisAddr,
			PoolSize:           constants.DefaultRedisPool,
			DialTimeoutSeconds: 5,
		},
		Stream: StreamConfig{
			Name:       constants.DefaultStream,
			DeadLetter: constants.DefaultDeadLetterStream,
			Store:      StoreRedis,
		},
		Scheduler: SchedulerConfig{
			CleanupIntervalMinutes:   int(constants.DefaultCleanupInterval.Minutes()),
			ExecutedRetentionMinutes: int(constants.DefaultExecutedRetention.Minutes()),
			PublishAttempts:          constants.DefaultPublishAttempts,
			PublishBackoffMs:         int(constants.DefaultPublishBackoff.Milliseconds()),
			PublishMaxBackoffMs:      int(constants.DefaultPublishMaxBackoff.Milliseconds()),
			BreakerThreshold:         5,
			BreakerTimeoutSeconds:    30,
		},
		Consumer: ConsumerConfig{
			Group:          constants.DefaultConsumerGroup,
			Name:           defaultConsumerName(),
			Count:          constants.DefaultReadCount,
			BlockMs:        int(constants.DefaultReadBlock.Milliseconds()),
			ErrorBackoffMs: int(constants.DefaultErrorBackoff.Milliseconds()),
			Concurrency:    1,
		},
		Validator: ValidatorConfig{
			Store: StoreRedis,
		},
		Metrics: MetricsConfig{
			Addr: constants.DefaultMetricsAddr,
			Path: constants.DefaultMetricsPath,
		},
	}
}

// defaultConsumerName is unique per process on a host.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "jobrelay"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
