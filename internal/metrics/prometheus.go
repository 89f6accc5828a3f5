package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with Prometheus collectors.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	jobsFired        *prometheus.CounterVec
	jobsDeadLettered prometheus.Counter
	activeJobs       prometheus.Gauge

	eventsPublished *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	publishDuration prometheus.Histogram
	breakerState    *prometheus.GaugeVec

	entriesHandled  *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	readErrors      prometheus.Counter

	validations *prometheus.CounterVec
}

// NewPrometheusSink creates the collectors under namespace and registers them
// with reg. A nil reg means prometheus.DefaultRegisterer.
func NewPrometheusSink(namespace string, reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &PrometheusSink{}
	s.initSchedulerMetrics(namespace, reg)
	s.initPublisherMetrics(namespace, reg)
	s.initConsumerMetrics(namespace, reg)
	s.initValidatorMetrics(namespace, reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(ns string, reg prometheus.Registerer) {
	s.jobsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "scheduler_jobs_fired_total",
		Help:      "Total number of job firings.",
	}, []string{"type"})
	s.jobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "scheduler_jobs_dead_lettered_total",
		Help:      "One-shot firings whose event could not be published and went to the dead-letter stream.",
	})
	s.activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "scheduler_active_jobs",
		Help:      "Number of jobs with a live timer.",
	})

	s.register(reg, s.jobsFired, "scheduler_jobs_fired_total")
	s.register(reg, s.jobsDeadLettered, "scheduler_jobs_dead_lettered_total")
	s.register(reg, s.activeJobs, "scheduler_active_jobs")
}

func (s *PrometheusSink) initPublisherMetrics(ns string, reg prometheus.Registerer) {
	s.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "publisher_events_total",
		Help:      "Total number of events appended to a stream.",
	}, []string{"stream"})
	s.publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "publisher_failures_total",
		Help:      "Total number of failed appends.",
	}, []string{"stream"})
	s.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "publisher_append_duration_seconds",
		Help:      "Latency of successful stream appends.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
	})
	s.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "publisher_circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"name"})

	s.register(reg, s.eventsPublished, "publisher_events_total")
	s.register(reg, s.publishFailures, "publisher_failures_total")
	s.register(reg, s.publishDuration, "publisher_append_duration_seconds")
	s.register(reg, s.breakerState, "publisher_circuit_breaker_state")
}

func (s *PrometheusSink) initConsumerMetrics(ns string, reg prometheus.Registerer) {
	s.entriesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "consumer_entries_total",
		Help:      "Stream entries processed, by event type and outcome.",
	}, []string{"type", "outcome"})
	s.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "consumer_handler_duration_seconds",
		Help:      "Handler latency by event type.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
	}, []string{"type"})
	s.readErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "consumer_read_errors_total",
		Help:      "Failed group reads.",
	})

	s.register(reg, s.entriesHandled, "consumer_entries_total")
	s.register(reg, s.handlerDuration, "consumer_handler_duration_seconds")
	s.register(reg, s.readErrors, "consumer_read_errors_total")
}

func (s *PrometheusSink) initValidatorMetrics(ns string, reg prometheus.Registerer) {
	s.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "validator_decisions_total",
		Help:      "Non-dry-run validation decisions by action.",
	}, []string{"action", "allowed"})

	s.register(reg, s.validations, "validator_decisions_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		slog.Warn("metrics: failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) JobFired(jobType string) {
	s.jobsFired.WithLabelValues(jobType).Inc()
}

func (s *PrometheusSink) JobDeadLettered() {
	s.jobsDeadLettered.Inc()
}

func (s *PrometheusSink) ActiveJobs(n int) {
	s.activeJobs.Set(float64(n))
}

func (s *PrometheusSink) EventPublished(stream string, duration time.Duration) {
	s.eventsPublished.WithLabelValues(stream).Inc()
	s.publishDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PublishFailed(stream string) {
	s.publishFailures.WithLabelValues(stream).Inc()
}

func (s *PrometheusSink) BreakerState(name string, state BreakerStateValue) {
	s.breakerState.WithLabelValues(name).Set(float64(state))
}

func (s *PrometheusSink) EntryHandled(eventType, outcome string, duration time.Duration) {
	s.entriesHandled.WithLabelValues(eventType, outcome).Inc()
	if outcome == OutcomeAcked || outcome == OutcomeFailed {
		s.handlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) ReadError() {
	s.readErrors.Inc()
}

func (s *PrometheusSink) ValidationDecision(action string, allowed bool) {
	s.validations.WithLabelValues(action, strconv.FormatBool(allowed)).Inc()
}

var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = (*NoopSink)(nil)
)
