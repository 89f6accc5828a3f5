// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts    int           // Total attempts including the first (default: 3)
	InitialBackoff time.Duration // Delay before the second attempt (default: 500ms)
	MaxBackoff     time.Duration // Cap for a single delay (default: 5s)
	// Retryable classifies errors. Defaults to IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialDelay
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxDelay
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Retryable == nil {
		c.Retryable = IsRetryable
	}
	return c
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a non-retryable error, ctx is done
// or MaxAttempts is reached. It reports how many attempts were made.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (int, error) {
	cfg = cfg.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialBackoff
	exp.MaxInterval = cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts-1)), ctx)

	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !cfg.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if cfg.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			cfg.OnRetry(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return attempts, ctxErr
	}
	if lastErr != nil && cfg.Retryable(lastErr) && attempts >= cfg.MaxAttempts {
		return attempts, &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
	return attempts, err
}

// IsRetryable reports whether err looks transient: timeouts, dropped
// connections, Redis loading/failover replies and an open circuit breaker.
// Context cancellation and unknown errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errLower := strings.ToLower(err.Error())

	nonRetryablePatterns := []string{
		"context canceled",
		"wrongtype",
		"noauth",
		"wrongpass",
		"noperm",
		"nogroup",
	}
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(errLower, pattern) {
			return false
		}
	}

	retryablePatterns := []string{
		"deadline exceeded",
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"eof",
		"temporary",
		"network",
		"loading",
		"tryagain",
		"clusterdown",
		"masterdown",
		"readonly",
		"too many requests",
		"circuit breaker is open",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	return false
}
