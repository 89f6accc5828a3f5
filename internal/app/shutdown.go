package app

import (
	"context"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Shutdown performs graceful shutdown of all components.
// It stops the application in the following order:
//  1. Stops the scheduler so no new events are produced
//  2. Stops the consumer and shuts down the metrics server
//  3. Cancels the application context and waits for the consumer loop to
//     return, so in-flight handlers finish and acknowledge their entries
//  4. Closes Redis
//
// The method is thread-safe and can be called more than once.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false

	a.logger.Info("shutting down")

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("failed to stop scheduler", err)
		}
	}

	if a.consumer != nil {
		a.consumer.Stop()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server", err)
		}
	}

	a.cancel()

	// Run reports the loop errors itself.
	if a.loops != nil {
		_ = a.loops.Wait()
	}

	var closeErr error
	if a.infra != nil {
		if closeErr = a.infra.Close(); closeErr != nil {
			a.logger.Error("failed to close redis client", closeErr)
		}
	}

	a.logger.Info("shutdown complete")
	return closeErr
}
