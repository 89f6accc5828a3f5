package cron

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/retry"
)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) nowMs() int64 {
	return c.Now().UnixMilli()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// recordingPublisher keeps every published event. The first failFirst
// publishes fail; failAlways makes every publish fail.
type recordingPublisher struct {
	mu         sync.Mutex
	events     []bus.Event
	dead       []bus.Event
	deadCauses []error
	calls      int
	failFirst  int
	failAlways bool
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, e bus.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAlways || p.calls <= p.failFirst {
		return "", errors.New("dial tcp 127.0.0.1:6379: connection refused")
	}
	p.events = append(p.events, e)
	return "1-0", nil
}

func (p *recordingPublisher) PublishDeadLetter(ctx context.Context, dlq, original string, e bus.Event, cause error) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, e)
	p.deadCauses = append(p.deadCauses, cause)
	return "1-0", nil
}

func (p *recordingPublisher) published() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.events...)
}

func (p *recordingPublisher) deadLettered() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Event(nil), p.dead...)
}

func (p *recordingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

// newTestScheduler returns a started scheduler on a fake clock.
func newTestScheduler(t *testing.T) (*Scheduler, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := newFakeClock()
	pub := &recordingPublisher{}
	s := NewScheduler(Config{
		Stream:           "events",
		DeadLetterStream: "events:dlq",
		PublishRetry:     fastRetry(),
		Clock:            clock,
		Location:         time.UTC,
	}, pub, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { stopScheduler(s) })
	return s, clock, pub
}

// stopScheduler stops a scheduler and ignores the error (for use in cleanup).
func stopScheduler(s *Scheduler) {
	_ = s.Stop()
}

func ptr[T any](v T) *T {
	return &v
}
