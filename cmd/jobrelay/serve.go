package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/jobrelay/internal/app"
	"github.com/aatumaykin/jobrelay/internal/config"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/version"
)

var (
	serveConfigPath string
	serveLogLevel   string
	serveEnvFile    string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, publisher and consumer (main command)",
	Long: `Start jobrelay with the specified configuration.
This creates the seed jobs, starts the scheduler and the consumer, exposes
metrics when enabled and shuts everything down on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, app.Options{})
	},
}

// consumeCmd runs only the consumer side.
var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run a consumer-only worker",
	Long: `Start a worker that joins the consumer group and handles events
without scheduling any jobs. Run several to spread the load of one stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd, app.Options{ConsumeOnly: true})
	},
}

func init() {
	for _, c := range []*cobra.Command{serveCmd, consumeCmd} {
		c.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to the config file (toml or yaml)")
		c.Flags().StringVarP(&serveLogLevel, "log-level", "l", "", "override the configured log level")
		c.Flags().StringVar(&serveEnvFile, "env-file", constants.DefaultEnvFile, "dotenv file loaded before the config")
	}
}

// loadServiceConfig resolves the configuration for serve and consume. A
// missing default config file falls back to the built-in defaults; a missing
// explicit one is an error.
func loadServiceConfig() (*config.Config, string, error) {
	if err := config.LoadEnvOptional(serveEnvFile); err != nil {
		return nil, "", fmt.Errorf("failed to load env file: %w", err)
	}

	configPath := serveConfigPath
	var cfg *config.Config
	if configPath == "" {
		configPath = constants.DefaultConfigPath
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			d := config.Default()
			cfg = &d
			configPath = ""
		}
	}
	if cfg == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}

	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msg := "configuration validation failed:"
		for _, e := range errs {
			msg += "\n  - " + e.Error()
		}
		return nil, "", fmt.Errorf("%s", msg)
	}
	return cfg, configPath, nil
}

func runService(cmd *cobra.Command, opts app.Options) error {
	cfg, configPath, err := loadServiceConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)

	log.Info(version.FormatStartupMessage(),
		logger.Field{Key: "command", Value: cmd.Name()},
		logger.Field{Key: "git_commit", Value: version.Get().GitCommit},
		logger.Field{Key: "config", Value: configPath},
		logger.Field{Key: "stream", Value: cfg.Stream.Name},
		logger.Field{Key: "store", Value: cfg.Stream.Store},
		logger.Field{Key: "group", Value: cfg.Consumer.Group},
		logger.Field{Key: "consumer", Value: cfg.Consumer.Name})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, log, opts)
	if err := application.Run(ctx); err != nil {
		log.Error("application stopped with error", err)
		return err
	}
	return nil
}
