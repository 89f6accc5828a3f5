// Package publisher appends domain events to a stream store.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/stream"
)

// Dead-letter entry fields added next to the regular event fields.
const (
	FieldError          = "error"
	FieldOriginalStream = "originalStream"
)

// PublishError reports a failed append.
type PublishError struct {
	Stream string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to stream %q: %v", e.Stream, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// BreakerConfig configures the circuit breaker around store appends.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open → half-open delay
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

// Config configures a Publisher.
type Config struct {
	// MaxLen approximately caps every stream appended to. Zero disables trimming.
	MaxLen  int64
	Breaker BreakerConfig
}

// Publisher is safe for concurrent use.
type Publisher struct {
	store   stream.Store
	maxLen  int64
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
	metrics metrics.Sink
}

// New creates a publisher over store. log and sink may be nil.
func New(store stream.Store, cfg Config, log *logger.Logger, sink metrics.Sink) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	log = log.Component("publisher")

	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = "publisher"
	}
	if bc.MaxRequests == 0 {
		bc.MaxRequests = 1
	}
	if bc.Timeout <= 0 {
		bc.Timeout = 30 * time.Second
	}
	if bc.FailureThreshold == 0 {
		bc.FailureThreshold = 5
	}

	p := &Publisher{
		store:   store,
		maxLen:  cfg.MaxLen,
		logger:  log,
		metrics: sink,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a store failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logger.Field{Key: "name", Value: name},
				logger.Field{Key: "from", Value: from.String()},
				logger.Field{Key: "to", Value: to.String()})
			sink.BreakerState(name, breakerValue(to))
		},
	})
	return p
}

// Publish flattens event and appends it to streamName, returning the
// store-assigned entry id.
func (p *Publisher) Publish(ctx context.Context, streamName string, event bus.Event) (string, error) {
	start := time.Now()

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.store.Append(ctx, streamName, event.ToFields(), p.maxLen)
	})
	if err != nil {
		p.metrics.PublishFailed(streamName)
		return "", &PublishError{Stream: streamName, Err: err}
	}

	id := result.(string)
	p.metrics.EventPublished(streamName, time.Since(start))
	p.logger.DebugCtx(ctx, "event published",
		logger.Field{Key: "stream", Value: streamName},
		logger.Field{Key: "entry_id", Value: id},
		logger.Field{Key: "event_id", Value: event.ID},
		logger.Field{Key: "type", Value: event.Type})
	return id, nil
}

// PublishDeadLetter appends event to the dead-letter stream together with
// the cause and the stream it was meant for. It bypasses the circuit breaker
// so a tripped breaker on the main path does not also drop the dead letter.
func (p *Publisher) PublishDeadLetter(ctx context.Context, deadLetterStream, originalStream string, event bus.Event, cause error) (string, error) {
	fields := event.ToFields()
	fields[FieldOriginalStream] = originalStream
	if cause != nil {
		fields[FieldError] = cause.Error()
	}

	id, err := p.store.Append(ctx, deadLetterStream, fields, p.maxLen)
	if err != nil {
		p.metrics.PublishFailed(deadLetterStream)
		return "", &PublishError{Stream: deadLetterStream, Err: err}
	}

	p.logger.WarnCtx(ctx, "event dead-lettered",
		logger.Field{Key: "stream", Value: deadLetterStream},
		logger.Field{Key: "original_stream", Value: originalStream},
		logger.Field{Key: "entry_id", Value: id},
		logger.Field{Key: "event_id", Value: event.ID})
	return id, nil
}

// BreakerState reports the current circuit breaker state.
func (p *Publisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}

func breakerValue(s gobreaker.State) metrics.BreakerStateValue {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}
