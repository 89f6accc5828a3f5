// Package metrics records relay activity. Every method is fire-and-forget:
// implementations never block and never return errors.
package metrics

import "time"

// Sink defines the interface for recording metrics.
type Sink interface {
	// Scheduler
	JobFired(jobType string)
	JobDeadLettered()
	ActiveJobs(n int)

	// Publisher
	EventPublished(stream string, duration time.Duration)
	PublishFailed(stream string)
	BreakerState(name string, state BreakerStateValue)

	// Consumer
	EntryHandled(eventType, outcome string, duration time.Duration)
	ReadError()

	// Validator
	ValidationDecision(action string, allowed bool)
}

// Outcome values for EntryHandled.
const (
	OutcomeAcked      = "acked"
	OutcomeFailed     = "failed"
	OutcomeUnroutable = "unroutable"
	OutcomeUndecoded  = "undecodable"
)

// BreakerStateValue mirrors the circuit breaker states as gauge values.
type BreakerStateValue int

const (
	BreakerClosed   BreakerStateValue = 0
	BreakerHalfOpen BreakerStateValue = 1
	BreakerOpen     BreakerStateValue = 2
)
