// Package cron owns the set of scheduled jobs and fires them on time.
//
// Recurring jobs run on a robfig/cron schedule; oneshot jobs run once at a
// fixed epoch-millisecond instant through the scheduler's Clock. Every firing
// is turned into a bus.Event of type scheduler.job.fired and handed to the
// publisher. A oneshot job becomes terminal after it fires.
package cron

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/retry"
)

// Publisher is the part of the event publisher the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, stream string, event bus.Event) (string, error)
	PublishDeadLetter(ctx context.Context, deadLetterStream, originalStream string, event bus.Event, cause error) (string, error)
}

// Config configures a Scheduler.
type Config struct {
	// Stream receives job-fired events.
	Stream string
	// DeadLetterStream receives oneshot events that could not be published.
	// Empty disables dead-lettering.
	DeadLetterStream string
	// PublishRetry bounds the publish retries of a oneshot firing.
	PublishRetry retry.Config
	// CleanupInterval is how often executed oneshot jobs older than
	// ExecutedRetention are removed. Zero disables the periodic cleanup.
	CleanupInterval   time.Duration
	ExecutedRetention time.Duration
	// Location is the time zone of recurring schedules. Defaults to time.Local.
	Location *time.Location
	// Clock drives oneshot timers and timestamps. Defaults to SystemClock.
	Clock Clock
}

// runner pairs a job with its live timer handle. All fields except mu are
// guarded by Scheduler.mu; mu serializes firing and mutation of this job.
type runner struct {
	mu      sync.Mutex
	job     Job
	removed bool

	gen     uint64
	armed   bool
	entryID cron.EntryID // recurring
	timer   Timer        // oneshot
}

// Scheduler manages job scheduling and firing.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	parser    cron.Parser
	clock     Clock
	publisher Publisher
	logger    *logger.Logger
	metrics   metrics.Sink

	mu      sync.Mutex
	runners map[string]*runner
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	inflight      sync.WaitGroup
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
}

// NewScheduler creates a scheduler. log and sink may be nil.
func NewScheduler(cfg Config, publisher Publisher, log *logger.Logger, sink metrics.Sink) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if cfg.Stream == "" {
		cfg.Stream = constants.DefaultStream
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	log = log.Component("scheduler")

	parser := newParser()
	cronLog := log.CronLogger()

	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		parser:    parser,
		clock:     cfg.Clock,
		publisher: publisher,
		logger:    log,
		metrics:   sink,
		runners:   make(map[string]*runner),
	}
}

// Start arms every enabled job and starts firing. Oneshot jobs whose fire
// time passed while the scheduler was stopped fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	for _, r := range s.runners {
		if r.job.Enabled && !r.job.Terminal() {
			s.arm(r)
		}
	}
	s.reportActive()

	if s.cfg.CleanupInterval > 0 {
		s.startCleanup()
	}

	s.logger.Info("scheduler started",
		logger.Field{Key: "jobs", Value: len(s.runners)},
		logger.Field{Key: "stream", Value: s.cfg.Stream})
	return nil
}

// Stop disarms every job and waits for in-flight firings to finish. Jobs
// stay registered and are re-armed by the next Start.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not started")
	}
	s.started = false
	for _, r := range s.runners {
		s.disarm(r)
	}
	s.reportActive()
	s.stopCleanup()
	cronDone := s.cron.Stop()
	cancel := s.cancel
	s.mu.Unlock()

	<-cronDone.Done()
	s.inflight.Wait()
	cancel()

	s.logger.Info("scheduler stopped")
	return nil
}

// IsStarted returns true if the scheduler is started.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// CreateJob validates spec, registers the job and arms it when enabled.
func (s *Scheduler) CreateJob(spec JobSpec) (Job, error) {
	now := s.nowMs()
	job := Job{
		ID:            uuid.NewString(),
		Name:          spec.Name,
		Type:          spec.Type,
		Schedule:      spec.Schedule,
		ScheduledTime: spec.ScheduledTime,
		Enabled:       spec.Enabled,
		Payload:       maps.Clone(spec.Payload),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validateJob(job, now, true, s.parser); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &runner{job: job}
	s.runners[job.ID] = r
	if job.Enabled && s.started {
		s.arm(r)
	}
	s.reportActive()

	s.logger.Info("job created", jobFields(job)...)
	return job.clone(), nil
}

// GetJob returns a snapshot of the job.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runners[id]
	if !ok {
		return Job{}, false
	}
	return r.job.clone(), true
}

// ListJobs returns snapshots of all jobs ordered by creation time.
func (s *Scheduler) ListJobs() []Job {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.runners))
	for _, r := range s.runners {
		jobs = append(jobs, r.job.clone())
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt != jobs[j].CreatedAt {
			return jobs[i].CreatedAt < jobs[j].CreatedAt
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// UpdateJob cancels the job's timer, applies u, re-validates and re-arms.
// If the merged job is invalid the previous job and timer are restored.
func (s *Scheduler) UpdateJob(id string, u JobUpdate) (Job, error) {
	r, unlock, err := s.lockRunner(id)
	if err != nil {
		return Job{}, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	old := r.job
	if u.Type != nil && *u.Type != old.Type {
		return Job{}, &ImmutableFieldError{JobID: id, Field: "type"}
	}
	if old.Terminal() {
		return Job{}, &TerminalStateError{JobID: id, Op: "update"}
	}

	wasArmed := r.armed
	s.disarm(r)

	now := s.nowMs()
	merged := old.merge(u)
	requireFuture := merged.Enabled || merged.ScheduledTime != old.ScheduledTime
	if err := validateJob(merged, now, requireFuture, s.parser); err != nil {
		if wasArmed {
			s.arm(r)
		}
		s.reportActive()
		return Job{}, err
	}

	merged.UpdatedAt = now
	r.job = merged
	if merged.Enabled && s.started {
		s.arm(r)
	}
	s.reportActive()

	s.logger.Info("job updated", jobFields(merged)...)
	return merged.clone(), nil
}

// DeleteJob cancels the job's timer and removes it. It reports whether the
// job existed.
func (s *Scheduler) DeleteJob(id string) bool {
	r, unlock, err := s.lockRunner(id)
	if err != nil {
		return false
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarm(r)
	r.removed = true
	delete(s.runners, id)
	s.reportActive()

	s.logger.Info("job deleted", logger.Field{Key: "job_id", Value: id})
	return true
}

// StartJob enables the job and arms its timer.
func (s *Scheduler) StartJob(id string) error {
	r, unlock, err := s.lockRunner(id)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.job.Terminal() {
		return &TerminalStateError{JobID: id, Op: "start"}
	}
	now := s.nowMs()
	if r.job.Type == JobTypeOneshot && r.job.ScheduledTime <= now {
		return validationError("scheduledTime", r.job.ScheduledTime, "fire time has already elapsed", fireTimeHint)
	}

	s.disarm(r)
	if !r.job.Enabled {
		r.job.Enabled = true
		r.job.UpdatedAt = now
	}
	if s.started {
		s.arm(r)
	}
	s.reportActive()

	s.logger.Info("job started", logger.Field{Key: "job_id", Value: id})
	return nil
}

// StopJob disables the job and cancels its timer.
func (s *Scheduler) StopJob(id string) error {
	r, unlock, err := s.lockRunner(id)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarm(r)
	if r.job.Enabled {
		r.job.Enabled = false
		r.job.UpdatedAt = s.nowMs()
	}
	s.reportActive()

	s.logger.Info("job stopped", logger.Field{Key: "job_id", Value: id})
	return nil
}

// lockRunner acquires the per-job lock so the operation cannot interleave
// with a firing of the same job.
func (s *Scheduler) lockRunner(id string) (*runner, func(), error) {
	s.mu.Lock()
	r, ok := s.runners[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil, notFound(id)
	}

	r.mu.Lock()
	s.mu.Lock()
	removed := r.removed
	s.mu.Unlock()
	if removed {
		r.mu.Unlock()
		return nil, nil, notFound(id)
	}
	return r, r.mu.Unlock, nil
}

func (s *Scheduler) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// reportActive must be called with s.mu held.
func (s *Scheduler) reportActive() {
	n := 0
	for _, r := range s.runners {
		if r.armed {
			n++
		}
	}
	s.metrics.ActiveJobs(n)
}

func jobFields(job Job) []logger.Field {
	fields := []logger.Field{
		{Key: "job_id", Value: job.ID},
		{Key: "name", Value: job.Name},
		{Key: "type", Value: job.Type},
		{Key: "enabled", Value: job.Enabled},
	}
	if job.Type == JobTypeRecurring {
		return append(fields, logger.Field{Key: "schedule", Value: job.Schedule})
	}
	return append(fields, logger.Field{Key: "scheduled_time", Value: job.ScheduledTime})
}
