package cron

import (
	"time"

	"github.com/aatumaykin/jobrelay/internal/logger"
)

// arm installs a fresh timer handle for r. Must be called with s.mu held and
// r disarmed.
func (s *Scheduler) arm(r *runner) {
	r.gen++
	gen := r.gen
	id := r.job.ID

	switch r.job.Type {
	case JobTypeRecurring:
		entryID, err := s.cron.AddFunc(r.job.Schedule, func() { s.fire(id, gen) })
		if err != nil {
			// Schedules are validated before a job is stored.
			s.logger.Error("failed to arm recurring job", err, logger.Field{Key: "job_id", Value: id})
			return
		}
		r.entryID = entryID

	case JobTypeOneshot:
		delay := time.Duration(r.job.ScheduledTime-s.nowMs()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		r.timer = s.clock.AfterFunc(delay, func() { s.fire(id, gen) })
	}
	r.armed = true
}

// disarm cancels r's timer handle, if any. Must be called with s.mu held.
// Bumping the generation invalidates a callback that already started.
func (s *Scheduler) disarm(r *runner) {
	r.gen++
	if !r.armed {
		return
	}
	switch r.job.Type {
	case JobTypeRecurring:
		s.cron.Remove(r.entryID)
		r.entryID = 0
	case JobTypeOneshot:
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
	}
	r.armed = false
}

// startCleanup starts a ticker that removes old executed oneshot jobs.
// Must be called with s.mu held.
func (s *Scheduler) startCleanup() {
	s.cleanupTicker = time.NewTicker(s.cfg.CleanupInterval)
	s.cleanupDone = make(chan struct{})

	ticker, done, ctx := s.cleanupTicker, s.cleanupDone, s.ctx
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				s.CleanupExecuted(s.cfg.ExecutedRetention)
			}
		}
	}()
}

// stopCleanup must be called with s.mu held.
func (s *Scheduler) stopCleanup() {
	if s.cleanupTicker == nil {
		return
	}
	s.cleanupTicker.Stop()
	close(s.cleanupDone)
	s.cleanupTicker = nil
	s.cleanupDone = nil
}

// CleanupExecuted removes executed oneshot jobs whose ExecutedAt is at least
// olderThan in the past and returns how many were removed.
func (s *Scheduler) CleanupExecuted(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowMs() - olderThan.Milliseconds()
	removed := 0
	for id, r := range s.runners {
		if !r.job.Terminal() || r.job.ExecutedAt > cutoff {
			continue
		}
		r.removed = true
		delete(s.runners, id)
		removed++
	}

	if removed > 0 {
		s.logger.Info("cleaned up executed oneshot jobs",
			logger.Field{Key: "removed", Value: removed},
			logger.Field{Key: "remaining_jobs", Value: len(s.runners)})
	}
	return removed
}
