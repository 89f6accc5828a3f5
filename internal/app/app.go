// Package app wires the scheduler, publisher, consumer and validator into one
// running service and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/jobrelay/internal/app/builders"
	"github.com/aatumaykin/jobrelay/internal/config"
	"github.com/aatumaykin/jobrelay/internal/consumer"
	"github.com/aatumaykin/jobrelay/internal/cron"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/publisher"
	"github.com/aatumaykin/jobrelay/internal/relay"
	"github.com/aatumaykin/jobrelay/internal/stream"
	"github.com/aatumaykin/jobrelay/internal/validator"
)

// Options adjust how the application is assembled.
type Options struct {
	// ConsumeOnly runs the consumer without the scheduler, for horizontal
	// fan-out of event handling.
	ConsumeOnly bool
	// Sender delivers relayed messages. Defaults to a LogSender.
	Sender relay.Sender
	// Registry receives the Prometheus metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	config *config.Config
	logger *logger.Logger
	opts   Options

	// Infrastructure
	infra         *builders.Infra
	metrics       metrics.Sink
	metricsServer *http.Server

	// Relay components
	gate      *validator.Gate
	publisher *publisher.Publisher
	scheduler *cron.Scheduler
	consumer  *consumer.Consumer

	ctx    context.Context
	cancel context.CancelFunc
	// loops runs the consumer and the metrics server while Run is active.
	loops *errgroup.Group

	mu      sync.RWMutex
	started bool
}

// New creates a new App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger, opts Options) *App {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Sender == nil {
		opts.Sender = relay.LogSender{Logger: log.Component("sender")}
	}
	return &App{
		config: cfg,
		logger: log,
		opts:   opts,
	}
}

// Run initializes the application and blocks until ctx is cancelled or a
// component fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(a.ctx)
	a.mu.Lock()
	a.loops = g
	a.mu.Unlock()

	g.Go(func() error {
		if err := a.consumer.Start(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			a.logger.Info("metrics server listening",
				logger.Field{Key: "addr", Value: a.config.Metrics.Addr},
				logger.Field{Key: "path", Value: a.config.Metrics.Path})
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	a.logger.Info("application is running",
		logger.Field{Key: "consume_only", Value: a.opts.ConsumeOnly})

	<-gctx.Done()

	shutdownErr := a.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// Scheduler returns the job scheduler, nil in consume-only mode.
func (a *App) Scheduler() *cron.Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scheduler
}

// Consumer returns the event consumer.
func (a *App) Consumer() *consumer.Consumer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.consumer
}

// Gate returns the validator gate.
func (a *App) Gate() *validator.Gate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gate
}

// Store returns the stream store.
func (a *App) Store() stream.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.infra == nil {
		return nil
	}
	return a.infra.Store
}
