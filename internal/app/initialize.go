package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/jobrelay/internal/app/builders"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/consumer"
	"github.com/aatumaykin/jobrelay/internal/cron"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/publisher"
	"github.com/aatumaykin/jobrelay/internal/relay"
	"github.com/aatumaykin/jobrelay/internal/retry"
)

// Initialize builds all components and starts the scheduler.
// It sets up metrics, the stream store, the validator gate, the publisher,
// the consumer with its handlers and, unless consume-only, the scheduler
// with its seed jobs.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("application already initialized")
	}

	// 1. Create application context
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 2. Metrics
	a.metrics, a.metricsServer = builders.BuildMetrics(a.config, a.opts.Registry)

	// 3. Stream store and Redis
	infra, err := builders.BuildInfra(a.ctx, a.config, a.logger)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to build stream store: %w", err)
	}
	a.infra = infra

	// 4. Validator gate
	gate, err := builders.BuildGate(a.ctx, a.config, infra, a.logger, a.metrics)
	if err != nil {
		a.abort()
		return fmt.Errorf("failed to build validator: %w", err)
	}
	a.gate = gate

	// 5. Publisher
	a.publisher = publisher.New(infra.Store, publisher.Config{
		MaxLen: a.config.Stream.MaxLen,
		Breaker: publisher.BreakerConfig{
			Name:             "stream",
			FailureThreshold: a.config.Scheduler.BreakerThreshold,
			Timeout:          a.config.Scheduler.BreakerTimeout(),
		},
	}, a.logger, a.metrics)

	// 6. Consumer and handlers
	a.consumer = consumer.New(infra.Store, consumer.Config{
		Stream:       a.config.Stream.Name,
		Group:        a.config.Consumer.Group,
		Consumer:     a.config.Consumer.Name,
		Count:        a.config.Consumer.Count,
		Block:        a.config.Consumer.Block(),
		ErrorBackoff: a.config.Consumer.ErrorBackoff(),
		ClaimIdle:    a.config.Consumer.ClaimIdle(),
		Concurrency:  a.config.Consumer.Concurrency,
	}, a.logger, a.metrics)
	a.consumer.RegisterHandler(constants.EventTypeJobFired,
		relay.JobFiredHandler(gate, a.opts.Sender, a.logger))

	// 7. Scheduler
	if !a.opts.ConsumeOnly {
		if err := a.startScheduler(); err != nil {
			a.abort()
			return err
		}
	}

	a.started = true
	return nil
}

func (a *App) startScheduler() error {
	loc, err := a.config.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("invalid scheduler time zone: %w", err)
	}

	a.scheduler = cron.NewScheduler(cron.Config{
		Stream:           a.config.Stream.Name,
		DeadLetterStream: a.config.Stream.DeadLetter,
		PublishRetry: retry.Config{
			MaxAttempts:    a.config.Scheduler.PublishAttempts,
			InitialBackoff: a.config.Scheduler.PublishBackoff(),
			MaxBackoff:     a.config.Scheduler.PublishMaxBackoff(),
		},
		CleanupInterval:   a.config.Scheduler.CleanupInterval(),
		ExecutedRetention: a.config.Scheduler.ExecutedRetention(),
		Location:          loc,
	}, a.publisher, a.logger, a.metrics)

	seeded := a.seedJobs(loc)

	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.logger.Info("seed jobs loaded", logger.Field{Key: "count", Value: seeded})
	return nil
}

// seedJobs creates the jobs listed in the configuration. A job that fails
// validation is logged and skipped.
func (a *App) seedJobs(loc *time.Location) int {
	now := time.Now().UnixMilli()
	created := 0
	for _, jc := range a.config.Jobs {
		log := a.logger.With(logger.Field{Key: "job_name", Value: jc.Name})

		spec, err := jc.Spec(now, loc)
		if err != nil {
			log.Error("skipping seed job", err)
			continue
		}
		if err := relay.Prevalidate(a.ctx, a.gate, spec.Payload); err != nil {
			log.Error("skipping seed job rejected by validator", err)
			continue
		}
		job, err := a.scheduler.CreateJob(spec)
		if err != nil {
			log.Error("skipping seed job", err)
			continue
		}
		log.Debug("seed job created", logger.Field{Key: "job_id", Value: job.ID})
		created++
	}
	return created
}

// abort releases what Initialize built so far.
func (a *App) abort() {
	a.cancel()
	if a.infra != nil {
		if err := a.infra.Close(); err != nil {
			a.logger.Error("failed to close redis client", err)
		}
	}
}
