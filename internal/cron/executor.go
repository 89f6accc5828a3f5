package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/retry"
)

// fire is the timer callback for job id armed at generation gen.
func (s *Scheduler) fire(id string, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job fire panic recovered", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "job_id", Value: id})
		}
	}()

	s.mu.Lock()
	r, ok := s.runners[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	if r.removed || r.gen != gen || !s.started || !r.job.Enabled || r.job.Terminal() {
		s.mu.Unlock()
		return
	}
	if r.job.Type == JobTypeOneshot {
		// The timer is consumed; nothing can fire this job again.
		r.timer = nil
		r.armed = false
		r.gen++
		s.reportActive()
	}
	job := r.job.clone()
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	fireTime := s.nowMs()
	if job.Type == JobTypeOneshot {
		fireTime = job.ScheduledTime
	}
	s.metrics.JobFired(string(job.Type))

	event, err := s.buildEvent(job, fireTime)
	if err != nil {
		s.logger.Error("failed to build job event", err, logger.Field{Key: "job_id", Value: job.ID})
	} else if job.Type == JobTypeOneshot {
		s.publishOneshot(ctx, job, event)
	} else {
		s.publishRecurring(ctx, job, event)
	}

	if job.Type != JobTypeOneshot {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.removed {
		return
	}
	now := s.nowMs()
	r.job.Executed = true
	r.job.ExecutedAt = now
	r.job.Enabled = false
	r.job.UpdatedAt = now
	s.logger.Info("oneshot job executed",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "scheduled_time", Value: job.ScheduledTime})
}

func (s *Scheduler) buildEvent(job Job, fireTime int64) (bus.Event, error) {
	data, err := bus.NewJobFiredData(job.ID, job.Name, fireTime, job.Payload)
	if err != nil {
		return bus.Event{}, err
	}
	return bus.NewEvent(constants.EventTypeJobFired, constants.SourceScheduler, s.nowMs(), data)
}

// publishRecurring makes a single attempt; the next tick is the retry.
func (s *Scheduler) publishRecurring(ctx context.Context, job Job, event bus.Event) {
	entryID, err := s.publisher.Publish(ctx, s.cfg.Stream, event)
	if err != nil {
		s.logger.ErrorCtx(ctx, "failed to publish recurring job event", err,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "event_id", Value: event.ID})
		return
	}
	s.logger.InfoCtx(ctx, "recurring job fired",
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "event_id", Value: event.ID},
		logger.Field{Key: "entry_id", Value: entryID})
}

// publishOneshot retries with backoff and dead-letters the event when every
// attempt fails. The same event id is used for every attempt.
func (s *Scheduler) publishOneshot(ctx context.Context, job Job, event bus.Event) {
	cfg := s.cfg.PublishRetry
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.WarnCtx(ctx, "oneshot publish failed, retrying",
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "wait", Value: wait.String()},
			logger.Field{Key: "error", Value: err.Error()})
	}

	var entryID string
	attempts, err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		var perr error
		entryID, perr = s.publisher.Publish(ctx, s.cfg.Stream, event)
		return perr
	})
	if err == nil {
		s.logger.InfoCtx(ctx, "oneshot job fired",
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "event_id", Value: event.ID},
			logger.Field{Key: "entry_id", Value: entryID},
			logger.Field{Key: "attempts", Value: attempts})
		return
	}

	s.logger.ErrorCtx(ctx, "oneshot publish failed", err,
		logger.Field{Key: "job_id", Value: job.ID},
		logger.Field{Key: "event_id", Value: event.ID},
		logger.Field{Key: "attempts", Value: attempts})

	if s.cfg.DeadLetterStream == "" {
		return
	}
	// Shutdown may have cancelled ctx; the dead letter still gets one try.
	dlqCtx := context.WithoutCancel(ctx)
	if _, dlqErr := s.publisher.PublishDeadLetter(dlqCtx, s.cfg.DeadLetterStream, s.cfg.Stream, event, err); dlqErr != nil {
		s.logger.ErrorCtx(ctx, "failed to dead-letter oneshot event", dlqErr,
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "event_id", Value: event.ID})
		return
	}
	s.metrics.JobDeadLettered()
}
