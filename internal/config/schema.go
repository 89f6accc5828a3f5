// Package config provides configuration loading and validation for jobrelay.
// It reads TOML or YAML files (chosen by extension), expands environment
// variable references, applies defaults and validates the result.
//
// Configuration structure:
//   - [logging]: Logging level, format, and output
//   - [redis]: Redis connection used by the stream store and the whitelist
//   - [stream]: Stream names, trimming and store backend
//   - [scheduler]: Time zone, cleanup and publish retry settings
//   - [consumer]: Consumer group membership and read loop tuning
//   - [validator]: Whitelist gate for outbound messages
//   - [metrics]: Prometheus endpoint
//   - [[jobs]]: Jobs created when the service starts
//
// Environment variables:
// Environment variables can be referenced anywhere using ${VAR} or
// ${VAR:default} syntax. For example: password = "${REDIS_PASSWORD:}"
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	Stream    StreamConfig    `toml:"stream" yaml:"stream"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Consumer  ConsumerConfig  `toml:"consumer" yaml:"consumer"`
	Validator ValidatorConfig `toml:"validator" yaml:"validator"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Jobs      []JobConfig     `toml:"jobs" yaml:"jobs"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Output string `toml:"output" yaml:"output"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr               string `toml:"addr" yaml:"addr"`
	Username           string `toml:"username" yaml:"username"`
	Password           string `toml:"password" yaml:"password"`
	DB                 int    `toml:"db" yaml:"db"`
	PoolSize           int    `toml:"pool_size" yaml:"pool_size"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
}

// DialTimeout returns the dial timeout as a duration.
func (c RedisConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// Stream store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// StreamConfig names the event streams.
type StreamConfig struct {
	Name       string `toml:"name" yaml:"name"`
	DeadLetter string `toml:"dead_letter" yaml:"dead_letter"`
	MaxLen     int64  `toml:"max_len" yaml:"max_len"`
	Store      string `toml:"store" yaml:"store"` // redis or memory
}

// SchedulerConfig configures the job scheduler and its publisher.
type SchedulerConfig struct {
	Timezone                 string `toml:"timezone" yaml:"timezone"`
	CleanupIntervalMinutes   int    `toml:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"`
	ExecutedRetentionMinutes int    `toml:"executed_retention_minutes" yaml:"executed_retention_minutes"`
	PublishAttempts          int    `toml:"publish_attempts" yaml:"publish_attempts"`
	PublishBackoffMs         int    `toml:"publish_backoff_ms" yaml:"publish_backoff_ms"`
	PublishMaxBackoffMs      int    `toml:"publish_max_backoff_ms" yaml:"publish_max_backoff_ms"`
	BreakerThreshold         uint32 `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeoutSeconds    int    `toml:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds"`
}

// Location loads the configured time zone. An empty zone is time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// CleanupInterval returns the executed-job cleanup period.
func (c SchedulerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// ExecutedRetention returns how long executed oneshot jobs are kept.
func (c SchedulerConfig) ExecutedRetention() time.Duration {
	return time.Duration(c.ExecutedRetentionMinutes) * time.Minute
}

// PublishBackoff returns the first retry delay.
func (c SchedulerConfig) PublishBackoff() time.Duration {
	return time.Duration(c.PublishBackoffMs) * time.Millisecond
}

// PublishMaxBackoff returns the retry delay cap.
func (c SchedulerConfig) PublishMaxBackoff() time.Duration {
	return time.Duration(c.PublishMaxBackoffMs) * time.Millisecond
}

// BreakerTimeout returns the open-state duration of the publish breaker.
func (c SchedulerConfig) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSeconds) * time.Second
}

// ConsumerConfig configures consumer group membership.
type ConsumerConfig struct {
	Group            string `toml:"group" yaml:"group"`
	Name             string `toml:"name" yaml:"name"`
	Count            int64  `toml:"count" yaml:"count"`
	BlockMs          int    `toml:"block_ms" yaml:"block_ms"`
	ErrorBackoffMs   int    `toml:"error_backoff_ms" yaml:"error_backoff_ms"`
	ClaimIdleSeconds int    `toml:"claim_idle_seconds" yaml:"claim_idle_seconds"`
	Concurrency      int    `toml:"concurrency" yaml:"concurrency"`
}

// Block returns the read block duration.
func (c ConsumerConfig) Block() time.Duration {
	return time.Duration(c.BlockMs) * time.Millisecond
}

// ErrorBackoff returns the pause after a failed read.
func (c ConsumerConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMs) * time.Millisecond
}

// ClaimIdle returns the idle threshold for claiming entries of dead members.
func (c ConsumerConfig) ClaimIdle() time.Duration {
	return time.Duration(c.ClaimIdleSeconds) * time.Second
}

// ValidatorConfig configures the send_message whitelist gate.
type ValidatorConfig struct {
	Enabled            bool                `toml:"enabled" yaml:"enabled"`
	DefaultCountryCode string              `toml:"default_country_code" yaml:"default_country_code"`
	RatePerMinute      float64             `toml:"rate_per_minute" yaml:"rate_per_minute"`
	Burst              int                 `toml:"burst" yaml:"burst"`
	Store              string              `toml:"store" yaml:"store"` // redis or memory
	Whitelists         map[string][]string `toml:"whitelists" yaml:"whitelists"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
	Path    string `toml:"path" yaml:"path"`
}

// JobConfig is a job created at startup. Recurring jobs set Schedule;
// oneshot jobs set either At (YYYYMMDDHHMMSS) or In ([Nh][Nm][Ns]).
type JobConfig struct {
	Name     string         `toml:"name" yaml:"name"`
	Schedule string         `toml:"schedule" yaml:"schedule"`
	At       string         `toml:"at" yaml:"at"`
	In       string         `toml:"in" yaml:"in"`
	Disabled bool           `toml:"disabled" yaml:"disabled"`
	Payload  map[string]any `toml:"payload" yaml:"payload"`
}
