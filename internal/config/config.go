package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wasilibs/go-re2"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path. Files ending in .yaml or .yml
// are parsed as YAML, everything else as TOML. Environment references are
// expanded before parsing and defaults are applied afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, formatOf(path))
}

// Config file formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Parse decodes configuration data in the given format.
func Parse(data []byte, format string) (*Config, error) {
	data = expandEnv(data)

	var cfg Config
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse config file: unknown key %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (expected: toml, yaml)", format)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envRef = re2.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default} references. An unset or empty
// variable without a default expands to the empty string.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if val := os.Getenv(string(m[1])); val != "" {
			return []byte(val)
		}
		return m[2]
	})
}

// applyDefaults fills every unset field with its default.
func applyDefaults(c *Config) {
	d := Default()

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = d.Redis.PoolSize
	}
	if c.Redis.DialTimeoutSeconds == 0 {
		c.Redis.DialTimeoutSeconds = d.Redis.DialTimeoutSeconds
	}

	if c.Stream.Name == "" {
		c.Stream.Name = d.Stream.Name
	}
	if c.Stream.DeadLetter == "" {
		c.Stream.DeadLetter = c.Stream.Name + ":dlq"
	}
	if c.Stream.Store == "" {
		c.Stream.Store = d.Stream.Store
	}

	if c.Scheduler.CleanupIntervalMinutes == 0 {
		c.Scheduler.CleanupIntervalMinutes = d.Scheduler.CleanupIntervalMinutes
	}
	if c.Scheduler.ExecutedRetentionMinutes == 0 {
		c.Scheduler.ExecutedRetentionMinutes = d.Scheduler.ExecutedRetentionMinutes
	}
	if c.Scheduler.PublishAttempts == 0 {
		c.Scheduler.PublishAttempts = d.Scheduler.PublishAttempts
	}
	if c.Scheduler.PublishBackoffMs == 0 {
		c.Scheduler.PublishBackoffMs = d.Scheduler.PublishBackoffMs
	}
	if c.Scheduler.PublishMaxBackoffMs == 0 {
		c.Scheduler.PublishMaxBackoffMs = d.Scheduler.PublishMaxBackoffMs
	}
	if c.Scheduler.BreakerThreshold == 0 {
		c.Scheduler.BreakerThreshold = d.Scheduler.BreakerThreshold
	}
	if c.Scheduler.BreakerTimeoutSeconds == 0 {
		c.Scheduler.BreakerTimeoutSeconds = d.Scheduler.BreakerTimeoutSeconds
	}

	if c.Consumer.Group == "" {
		c.Consumer.Group = d.Consumer.Group
	}
	if c.Consumer.Name == "" {
		c.Consumer.Name = d.Consumer.Name
	}
	if c.Consumer.Count == 0 {
		c.Consumer.Count = d.Consumer.Count
	}
	if c.Consumer.BlockMs == 0 {
		c.Consumer.BlockMs = d.Consumer.BlockMs
	}
	if c.Consumer.ErrorBackoffMs == 0 {
		c.Consumer.ErrorBackoffMs = d.Consumer.ErrorBackoffMs
	}
	if c.Consumer.Concurrency == 0 {
		c.Consumer.Concurrency = d.Consumer.Concurrency
	}

	if c.Validator.Store == "" {
		c.Validator.Store = c.Stream.Store
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
}
