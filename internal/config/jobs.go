package config

import (
	"fmt"
	"maps"
	"time"

	"github.com/aatumaykin/jobrelay/internal/cron"
	"github.com/aatumaykin/jobrelay/internal/timefmt"
)

// Spec converts a seed job into a scheduler job spec. Absolute times are
// read in loc and relative ones count from nowMs.
func (j JobConfig) Spec(nowMs int64, loc *time.Location) (cron.JobSpec, error) {
	spec := cron.JobSpec{
		Name:    j.Name,
		Enabled: !j.Disabled,
		Payload: maps.Clone(j.Payload),
	}

	switch {
	case j.Schedule != "":
		spec.Type = cron.JobTypeRecurring
		spec.Schedule = j.Schedule
	case j.At != "":
		ms, err := timefmt.ParseAbsoluteIn(j.At, loc)
		if err != nil {
			return cron.JobSpec{}, err
		}
		spec.Type = cron.JobTypeOneshot
		spec.ScheduledTime = ms
	case j.In != "":
		ms, err := timefmt.FutureFromDuration(j.In, nowMs)
		if err != nil {
			return cron.JobSpec{}, err
		}
		spec.Type = cron.JobTypeOneshot
		spec.ScheduledTime = ms
	default:
		return cron.JobSpec{}, fmt.Errorf("job %q: one of schedule, at, in is required", j.Name)
	}
	return spec, nil
}

func jobField(i int, j JobConfig) string {
	if j.Name != "" {
		return fmt.Sprintf("jobs[%d](%s)", i, j.Name)
	}
	return fmt.Sprintf("jobs[%d]", i)
}
