package config

import (
	"strings"

	"github.com/wasilibs/go-re2"

	"github.com/aatumaykin/jobrelay/internal/cron"
	"github.com/aatumaykin/jobrelay/internal/timefmt"
)

var countryCode = re2.MustCompile(`^\+?[1-9][0-9]{0,2}$`)

// Validate checks the whole configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateStream()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validateConsumer()...)
	errs = append(errs, c.validateValidator()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateJobs()...)
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fieldError("logging.level", "invalid value %q (expected: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fieldError("logging.format", "invalid value %q (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errs = append(errs, fieldError("logging.output", "is required"))
	}
	return errs
}

func (c *Config) validateStream() []error {
	var errs []error
	if c.Stream.Name == "" {
		errs = append(errs, fieldError("stream.name", "is required"))
	}
	if c.Stream.DeadLetter == c.Stream.Name {
		errs = append(errs, fieldError("stream.dead_letter", "must differ from stream.name"))
	}
	if c.Stream.MaxLen < 0 {
		errs = append(errs, fieldError("stream.max_len", "must be >= 0"))
	}
	switch c.Stream.Store {
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fieldError("redis.addr", "is required when stream.store is redis"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fieldError("stream.store", "invalid value %q (expected: redis, memory)", c.Stream.Store))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fieldError("redis.db", "must be >= 0"))
	}
	return errs
}

func (c *Config) validateScheduler() []error {
	var errs []error
	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fieldError("scheduler.timezone", "unknown time zone %q", c.Scheduler.Timezone))
	}
	if c.Scheduler.PublishAttempts < 1 {
		errs = append(errs, fieldError("scheduler.publish_attempts", "must be >= 1"))
	}
	if c.Scheduler.PublishBackoffMs < 0 || c.Scheduler.PublishMaxBackoffMs < c.Scheduler.PublishBackoffMs {
		errs = append(errs, fieldError("scheduler.publish_max_backoff_ms", "must be >= publish_backoff_ms"))
	}
	if c.Scheduler.CleanupIntervalMinutes < 0 || c.Scheduler.ExecutedRetentionMinutes < 0 {
		errs = append(errs, fieldError("scheduler.cleanup_interval_minutes", "cleanup settings must be >= 0"))
	}
	return errs
}

func (c *Config) validateConsumer() []error {
	var errs []error
	if c.Consumer.Group == "" {
		errs = append(errs, fieldError("consumer.group", "is required"))
	}
	if c.Consumer.Name == "" {
		errs = append(errs, fieldError("consumer.name", "is required"))
	}
	if c.Consumer.Count < 1 {
		errs = append(errs, fieldError("consumer.count", "must be >= 1"))
	}
	if c.Consumer.BlockMs < 0 {
		errs = append(errs, fieldError("consumer.block_ms", "must be >= 0"))
	}
	if c.Consumer.ErrorBackoffMs < 0 {
		errs = append(errs, fieldError("consumer.error_backoff_ms", "must be >= 0"))
	}
	if c.Consumer.ClaimIdleSeconds < 0 {
		errs = append(errs, fieldError("consumer.claim_idle_seconds", "must be >= 0"))
	}
	if c.Consumer.Concurrency < 1 {
		errs = append(errs, fieldError("consumer.concurrency", "must be >= 1"))
	}
	return errs
}

func (c *Config) validateValidator() []error {
	if !c.Validator.Enabled {
		return nil
	}
	var errs []error
	if c.Validator.DefaultCountryCode != "" && !countryCode.MatchString(c.Validator.DefaultCountryCode) {
		errs = append(errs, fieldError("validator.default_country_code", "invalid value %q (expected 1-3 digits)", c.Validator.DefaultCountryCode))
	}
	if c.Validator.RatePerMinute < 0 {
		errs = append(errs, fieldError("validator.rate_per_minute", "must be >= 0"))
	}
	if c.Validator.Burst < 0 {
		errs = append(errs, fieldError("validator.burst", "must be >= 0"))
	}
	switch c.Validator.Store {
	case StoreRedis, StoreMemory:
	default:
		errs = append(errs, fieldError("validator.store", "invalid value %q (expected: redis, memory)", c.Validator.Store))
	}
	for actor, list := range c.Validator.Whitelists {
		for _, r := range list {
			if strings.TrimSpace(r) == "" {
				errs = append(errs, fieldError("validator.whitelists."+actor, "contains an empty entry"))
				break
			}
		}
	}
	return errs
}

func (c *Config) validateMetrics() []error {
	if !c.Metrics.Enabled {
		return nil
	}
	var errs []error
	if c.Metrics.Addr == "" {
		errs = append(errs, fieldError("metrics.addr", "is required when metrics are enabled"))
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fieldError("metrics.path", "must start with /"))
	}
	return errs
}

func (c *Config) validateJobs() []error {
	var errs []error
	names := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		field := jobField(i, j)
		if j.Name == "" {
			errs = append(errs, fieldError(field+".name", "is required"))
		} else if names[j.Name] {
			errs = append(errs, fieldError(field+".name", "duplicate job name %q", j.Name))
		}
		names[j.Name] = true

		set := 0
		for _, v := range []string{j.Schedule, j.At, j.In} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			errs = append(errs, fieldError(field, "exactly one of schedule, at, in must be set"))
			continue
		}

		switch {
		case j.Schedule != "":
			if err := cron.ValidateSchedule(j.Schedule); err != nil {
				errs = append(errs, fieldError(field+".schedule", "%v", err))
			}
		case j.At != "":
			if _, err := timefmt.ParseAbsolute(j.At); err != nil {
				errs = append(errs, fieldError(field+".at", "%v", err))
			}
		case j.In != "":
			if _, err := timefmt.ParseDuration(j.In); err != nil {
				errs = append(errs, fieldError(field+".in", "%v", err))
			}
		}
	}
	return errs
}
