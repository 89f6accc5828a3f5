package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobFired(jobType string)                                        {}
func (n *NoopSink) JobDeadLettered()                                               {}
func (n *NoopSink) ActiveJobs(count int)                                           {}
func (n *NoopSink) EventPublished(stream string, duration time.Duration)           {}
func (n *NoopSink) PublishFailed(stream string)                                    {}
func (n *NoopSink) BreakerState(name string, state BreakerStateValue)              {}
func (n *NoopSink) EntryHandled(eventType, outcome string, duration time.Duration) {}
func (n *NoopSink) ReadError()                                                     {}
func (n *NoopSink) ValidationDecision(action string, allowed bool)                 {}
