package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink("jobrelay", reg), reg
}

func TestPrometheusSink_SchedulerMetrics(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.JobFired("oneshot")
	sink.JobFired("oneshot")
	sink.JobFired("recurring")
	sink.JobDeadLettered()
	sink.ActiveJobs(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.jobsFired.WithLabelValues("oneshot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFired.WithLabelValues("recurring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.jobsDeadLettered))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.activeJobs))
}

func TestPrometheusSink_PublisherMetrics(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.EventPublished("events", 3*time.Millisecond)
	sink.PublishFailed("events")
	sink.PublishFailed("events")
	sink.BreakerState("publisher", BreakerOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.eventsPublished.WithLabelValues("events")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.publishFailures.WithLabelValues("events")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.breakerState.WithLabelValues("publisher")))
}

func TestPrometheusSink_ConsumerMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.EntryHandled("scheduler.job.fired", OutcomeAcked, 10*time.Millisecond)
	sink.EntryHandled("scheduler.job.fired", OutcomeFailed, 10*time.Millisecond)
	sink.EntryHandled("other", OutcomeUnroutable, 0)
	sink.ReadError()

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.entriesHandled.WithLabelValues("scheduler.job.fired", OutcomeAcked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.entriesHandled.WithLabelValues("other", OutcomeUnroutable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.readErrors))

	// Unroutable entries never ran a handler, so only one duration series exists.
	count, err := testutil.GatherAndCount(reg, "jobrelay_consumer_handler_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusSink_ValidatorMetrics(t *testing.T) {
	sink, _ := newTestSink(t)

	sink.ValidationDecision("send_message", true)
	sink.ValidationDecision("send_message", false)
	sink.ValidationDecision("send_message", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.validations.WithLabelValues("send_message", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.validations.WithLabelValues("send_message", "false")))
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink("jobrelay", reg)

	assert.NotPanics(t, func() {
		sink := NewPrometheusSink("jobrelay", reg)
		sink.JobFired("recurring")
	})
}

func TestNoopSink(t *testing.T) {
	var s Sink = NewNoopSink()
	assert.NotPanics(t, func() {
		s.JobFired("oneshot")
		s.JobDeadLettered()
		s.ActiveJobs(1)
		s.EventPublished("x", time.Second)
		s.PublishFailed("x")
		s.BreakerState("x", BreakerClosed)
		s.EntryHandled("t", OutcomeAcked, time.Second)
		s.ReadError()
		s.ValidationDecision("a", true)
	})
}
