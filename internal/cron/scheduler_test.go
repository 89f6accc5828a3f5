package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	crerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/jobrelay/internal/bus"
)

func TestCreateJob_Recurring(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Name: "morning", Type: JobTypeRecurring, Schedule: "0 9 * * *", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "morning", job.Name)
	assert.True(t, job.Enabled)
	assert.NotZero(t, job.CreatedAt)
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)

	got, ok := s.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, job, got)
}

func TestCreateJob_InvalidSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.CreateJob(JobSpec{Type: JobTypeRecurring, Schedule: "0 25 * * *", Enabled: true})
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "schedule", ve.Field)
	assert.NotEmpty(t, crerrors.GetAllHints(err))
	assert.Empty(t, s.ListJobs())
}

func TestCreateJob_Validation(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	now := clock.nowMs()

	tests := []struct {
		name  string
		spec  JobSpec
		field string
	}{
		{"unknown type", JobSpec{Type: "weekly", Schedule: "@daily"}, "type"},
		{"recurring without schedule", JobSpec{Type: JobTypeRecurring}, "schedule"},
		{"recurring with fire time", JobSpec{Type: JobTypeRecurring, Schedule: "@daily", ScheduledTime: now + 1000}, "scheduledTime"},
		{"oneshot with schedule", JobSpec{Type: JobTypeOneshot, Schedule: "@daily", ScheduledTime: now + 1000}, "schedule"},
		{"oneshot without fire time", JobSpec{Type: JobTypeOneshot}, "scheduledTime"},
		{"oneshot in the past", JobSpec{Type: JobTypeOneshot, ScheduledTime: now - 1000}, "scheduledTime"},
		{"oneshot at now", JobSpec{Type: JobTypeOneshot, ScheduledTime: now}, "scheduledTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateJob(tt.spec)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	for _, expr := range []string{"0 9 * * *", "*/10 * * * * *", "@hourly", "@every 90m", "0 9 * * 1-5"} {
		assert.NoError(t, ValidateSchedule(expr), expr)
	}
	for _, expr := range []string{"", "0 25 * * *", "60 * * * *", "* * *", "bogus"} {
		assert.Error(t, ValidateSchedule(expr), expr)
	}
}

func TestOneshot_FiresExactlyOnce(t *testing.T) {
	s, clock, pub := newTestScheduler(t)
	fireAt := clock.nowMs() + 120000

	job, err := s.CreateJob(JobSpec{
		Name:          "reminder",
		Type:          JobTypeOneshot,
		ScheduledTime: fireAt,
		Enabled:       true,
		Payload:       map[string]any{"to": "+15550001111", "text": "hi"},
	})
	require.NoError(t, err)

	clock.Advance(119 * time.Second)
	assert.Empty(t, pub.published())

	clock.Advance(time.Second)
	events := pub.published()
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "scheduler.job.fired", e.Type)
	assert.Equal(t, "scheduler", e.Source)

	var data bus.JobFiredData
	require.NoError(t, e.DecodeData(&data))
	assert.Equal(t, job.ID, data.JobID)
	assert.Equal(t, "reminder", data.JobName)
	assert.Equal(t, fireAt, data.FireTime)
	payload, err := data.PayloadMap()
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", payload["to"])

	got, ok := s.GetJob(job.ID)
	require.True(t, ok)
	assert.True(t, got.Executed)
	assert.False(t, got.Enabled)
	assert.Equal(t, clock.nowMs(), got.ExecutedAt)

	clock.Advance(time.Hour)
	assert.Len(t, pub.published(), 1)

	err = s.StartJob(job.ID)
	var te *TerminalStateError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "start", te.Op)

	_, err = s.UpdateJob(job.ID, JobUpdate{Name: ptr("again")})
	require.True(t, errors.As(err, &te))
}

func TestUpdateJob_KindIsImmutable(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 60000, Enabled: true})
	require.NoError(t, err)

	_, err = s.UpdateJob(job.ID, JobUpdate{Type: ptr(JobTypeRecurring)})
	var ie *ImmutableFieldError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "type", ie.Field)

	// Restating the current kind is not a change.
	_, err = s.UpdateJob(job.ID, JobUpdate{Type: ptr(JobTypeOneshot), Name: ptr("same kind")})
	require.NoError(t, err)
}

func TestUpdateJob_RearmsTimer(t *testing.T) {
	s, clock, pub := newTestScheduler(t)
	start := clock.nowMs()

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: start + 60000, Enabled: true})
	require.NoError(t, err)

	clock.Advance(time.Second)
	updated, err := s.UpdateJob(job.ID, JobUpdate{ScheduledTime: ptr(start + 180000), Name: ptr("moved")})
	require.NoError(t, err)
	assert.Equal(t, "moved", updated.Name)
	assert.Greater(t, updated.UpdatedAt, job.UpdatedAt)
	assert.Equal(t, job.CreatedAt, updated.CreatedAt)

	clock.Advance(2 * time.Minute)
	assert.Empty(t, pub.published(), "old timer must be cancelled")

	clock.Advance(time.Minute)
	assert.Len(t, pub.published(), 1)
}

func TestUpdateJob_InvalidRestoresPreviousJob(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Name: "keep", Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 60000, Enabled: true})
	require.NoError(t, err)

	_, err = s.UpdateJob(job.ID, JobUpdate{Schedule: ptr("@daily")})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	_, err = s.UpdateJob(job.ID, JobUpdate{ScheduledTime: ptr(clock.nowMs() - 1)})
	require.True(t, errors.As(err, &ve))

	got, _ := s.GetJob(job.ID)
	assert.Equal(t, job, got)

	clock.Advance(time.Minute)
	assert.Len(t, pub.published(), 1, "original timer still armed")
}

func TestUpdateJob_Payload(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true, Payload: map[string]any{"v": 1}})
	require.NoError(t, err)

	_, err = s.UpdateJob(job.ID, JobUpdate{Payload: map[string]any{"v": 2}})
	require.NoError(t, err)

	clock.Advance(time.Second)
	events := pub.published()
	require.Len(t, events, 1)

	var data bus.JobFiredData
	require.NoError(t, events[0].DecodeData(&data))
	assert.JSONEq(t, `{"v":2}`, string(data.Payload))
}

func TestDeleteJob_CancelsTimer(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)

	assert.True(t, s.DeleteJob(job.ID))
	assert.False(t, s.DeleteJob(job.ID))

	clock.Advance(time.Minute)
	assert.Empty(t, pub.published())

	_, ok := s.GetJob(job.ID)
	assert.False(t, ok)
}

func TestStopStartJob(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 60000, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.StopJob(job.ID))
	got, _ := s.GetJob(job.ID)
	assert.False(t, got.Enabled)

	clock.Advance(30 * time.Second)
	require.NoError(t, s.StartJob(job.ID))
	got, _ = s.GetJob(job.ID)
	assert.True(t, got.Enabled)

	clock.Advance(30 * time.Second)
	assert.Len(t, pub.published(), 1)
}

func TestStartJob_ElapsedOneshot(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: false})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.Empty(t, pub.published(), "disabled jobs do not fire")

	err = s.StartJob(job.ID)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "scheduledTime", ve.Field)
}

func TestOperations_UnknownJob(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.UpdateJob("missing", JobUpdate{Name: ptr("x")})
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(s.StartJob("missing"), ErrJobNotFound))
	assert.True(t, errors.Is(s.StopJob("missing"), ErrJobNotFound))

	_, ok := s.GetJob("missing")
	assert.False(t, ok)
}

func TestOneshot_PublishFailureIsDeadLettered(t *testing.T) {
	s, clock, pub := newTestScheduler(t)
	pub.failAlways = true

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)

	clock.Advance(time.Second)

	assert.Equal(t, 3, pub.callCount())
	dead := pub.deadLettered()
	require.Len(t, dead, 1)

	var data bus.JobFiredData
	require.NoError(t, dead[0].DecodeData(&data))
	assert.Equal(t, job.ID, data.JobID)

	got, _ := s.GetJob(job.ID)
	assert.True(t, got.Executed, "the fire happened even though delivery failed")
	assert.False(t, got.Enabled)
}

func TestOneshot_PublishRetriesThenSucceeds(t *testing.T) {
	s, clock, pub := newTestScheduler(t)
	pub.failFirst = 2

	_, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)

	clock.Advance(time.Second)
	assert.Equal(t, 3, pub.callCount())
	assert.Len(t, pub.published(), 1)
	assert.Empty(t, pub.deadLettered())
}

func TestRecurring_FiresAndStops(t *testing.T) {
	s, _, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{
		Name:     "every-second",
		Type:     JobTypeRecurring,
		Schedule: "* * * * * *",
		Enabled:  true,
		Payload:  map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(pub.published()) >= 1 }, 3*time.Second, 20*time.Millisecond)

	e := pub.published()[0]
	var data bus.JobFiredData
	require.NoError(t, e.DecodeData(&data))
	assert.Equal(t, job.ID, data.JobID)
	assert.JSONEq(t, `{"k":"v"}`, string(data.Payload))

	require.NoError(t, s.StopJob(job.ID))
	n := len(pub.published())
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, len(pub.published()))

	got, _ := s.GetJob(job.ID)
	assert.False(t, got.Executed, "recurring jobs never become terminal")
}

func TestListJobs_Ordered(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.CreateJob(JobSpec{Type: JobTypeRecurring, Schedule: "@daily"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
		clock.Advance(time.Millisecond)
	}

	jobs := s.ListJobs()
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeRecurring, Schedule: "@daily", Payload: map[string]any{"k": "v"}})
	require.NoError(t, err)

	job.Payload["k"] = "mutated"
	got, _ := s.GetJob(job.ID)
	assert.Equal(t, "v", got.Payload["k"])
}

func TestCleanupExecuted(t *testing.T) {
	s, clock, _ := newTestScheduler(t)

	done, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)
	pending, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 3*3600*1000, Enabled: true})
	require.NoError(t, err)

	clock.Advance(time.Second)
	assert.Zero(t, s.CleanupExecuted(time.Hour), "too recent")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, s.CleanupExecuted(time.Hour))

	_, ok := s.GetJob(done.ID)
	assert.False(t, ok)
	_, ok = s.GetJob(pending.ID)
	assert.True(t, ok)
}

func TestScheduler_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	pub := &recordingPublisher{}
	s := NewScheduler(Config{Stream: "events", Clock: clock, PublishRetry: fastRetry()}, pub, nil, nil)

	assert.False(t, s.IsStarted())
	assert.Error(t, s.Stop())

	// Jobs created before Start wait for it.
	_, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	assert.Empty(t, pub.published())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsStarted())
	assert.Error(t, s.Start(context.Background()))

	// Overdue oneshot fires as soon as the scheduler starts.
	clock.Advance(0)
	assert.Len(t, pub.published(), 1)

	_, err = s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsStarted())
	clock.Advance(time.Minute)
	assert.Len(t, pub.published(), 1, "stopped scheduler does not fire")

	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(s)
	clock.Advance(0)
	assert.Len(t, pub.published(), 2)
}

func TestScheduler_ConcurrentMutationAndFire(t *testing.T) {
	s, clock, pub := newTestScheduler(t)

	job, err := s.CreateJob(JobSpec{Type: JobTypeOneshot, ScheduledTime: clock.nowMs() + 1000, Enabled: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		clock.Advance(time.Second)
	}()
	go func() {
		defer wg.Done()
		_, _ = s.UpdateJob(job.ID, JobUpdate{Name: ptr("renamed")})
	}()
	go func() {
		defer wg.Done()
		_ = s.StopJob(job.ID)
		_ = s.StartJob(job.ID)
	}()
	wg.Wait()
	clock.Advance(time.Minute)

	assert.LessOrEqual(t, len(pub.published()), 1, "a oneshot never fires twice")
}
