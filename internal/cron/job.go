package cron

import (
	"maps"
)

// JobType represents the type of a job.
type JobType string

const (
	// JobTypeRecurring is a repeating job that runs on a cron schedule.
	JobTypeRecurring JobType = "recurring"
	// JobTypeOneshot is a one-time job that runs once at ScheduledTime.
	JobTypeOneshot JobType = "oneshot"
)

// Job is a snapshot of a scheduled job. All timestamps are epoch milliseconds.
type Job struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          JobType        `json:"type"`
	Schedule      string         `json:"schedule,omitempty"`      // recurring only
	ScheduledTime int64          `json:"scheduledTime,omitempty"` // oneshot only
	Enabled       bool           `json:"enabled"`
	Executed      bool           `json:"executed,omitempty"`   // oneshot only
	ExecutedAt    int64          `json:"executedAt,omitempty"` // oneshot only
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     int64          `json:"createdAt"`
	UpdatedAt     int64          `json:"updatedAt"`
}

// JobSpec is the input of CreateJob.
type JobSpec struct {
	Name          string
	Type          JobType
	Schedule      string
	ScheduledTime int64
	Enabled       bool
	Payload       map[string]any
}

// JobUpdate holds the fields to change. Nil fields are left untouched.
type JobUpdate struct {
	Name          *string
	Type          *JobType
	Schedule      *string
	ScheduledTime *int64
	Enabled       *bool
	Payload       map[string]any
}

// Terminal reports whether the job can no longer be started or updated.
func (j Job) Terminal() bool {
	return j.Type == JobTypeOneshot && j.Executed
}

func (j Job) clone() Job {
	j.Payload = maps.Clone(j.Payload)
	return j
}

func (j Job) merge(u JobUpdate) Job {
	merged := j.clone()
	if u.Name != nil {
		merged.Name = *u.Name
	}
	if u.Schedule != nil {
		merged.Schedule = *u.Schedule
	}
	if u.ScheduledTime != nil {
		merged.ScheduledTime = *u.ScheduledTime
	}
	if u.Enabled != nil {
		merged.Enabled = *u.Enabled
	}
	if u.Payload != nil {
		merged.Payload = maps.Clone(u.Payload)
	}
	return merged
}
