package cron

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

const (
	scheduleHint = "use a 5-field cron expression (optionally with a leading seconds field) or a descriptor such as @hourly or @every 90m"
	fireTimeHint = "use an absolute time YYYYMMDDHHMMSS or a relative duration such as 1h30m"
)

// newParser accepts "0 9 * * *", "*/10 * * * * *" and descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSchedule reports whether expr is a schedule the scheduler accepts.
func ValidateSchedule(expr string) error {
	return validateSchedule(expr, newParser())
}

func validateSchedule(expr string, parser cron.Parser) error {
	if expr == "" {
		return validationError("schedule", nil, "schedule is required for recurring jobs", scheduleHint)
	}
	if _, err := parser.Parse(expr); err != nil {
		return validationError("schedule", fmt.Sprintf("%q", expr), err.Error(), scheduleHint)
	}
	return nil
}

// validateJob checks the kind-specific fields of job. When requireFuture is
// set a oneshot fire time must be strictly after nowMs.
func validateJob(job Job, nowMs int64, requireFuture bool, parser cron.Parser) error {
	switch job.Type {
	case JobTypeRecurring:
		if job.ScheduledTime != 0 {
			return validationError("scheduledTime", job.ScheduledTime, "must not be set for recurring jobs", "")
		}
		return validateSchedule(job.Schedule, parser)

	case JobTypeOneshot:
		if job.Schedule != "" {
			return validationError("schedule", fmt.Sprintf("%q", job.Schedule), "must not be set for oneshot jobs", fireTimeHint)
		}
		if job.ScheduledTime <= 0 {
			return validationError("scheduledTime", nil, "fire time is required for oneshot jobs", fireTimeHint)
		}
		if requireFuture && job.ScheduledTime <= nowMs {
			return validationError("scheduledTime", job.ScheduledTime,
				fmt.Sprintf("fire time must be after now (%d)", nowMs), fireTimeHint)
		}
		return nil

	default:
		return validationError("type", fmt.Sprintf("%q", job.Type), "unknown job type",
			fmt.Sprintf("use %q or %q", JobTypeRecurring, JobTypeOneshot))
	}
}
