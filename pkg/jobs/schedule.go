package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/l3v3l/core/pkg/models"
)

// NextRunTime computes when a schedule fires next, evaluated relative to
// now. Interval schedules are drift-prone on purpose: a run that starts
// late pushes the following run by the same delay. Cron schedules return
// the earliest match strictly after now; windows missed while the process
// was down are not caught up.
func NextRunTime(schedule models.Schedule, now time.Time) (time.Time, error) {
	switch schedule.Type {
	case models.ScheduleInterval:
		if schedule.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("interval_seconds must be positive, got %d", schedule.IntervalSeconds)
		}
		return now.Add(time.Duration(schedule.IntervalSeconds) * time.Second), nil

	case models.ScheduleCron:
		spec, err := cron.ParseStandard(schedule.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedule.Expression, err)
		}

		loc := time.UTC
		if schedule.Timezone != "" {
			loc, err = time.LoadLocation(schedule.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
			}
		}

		next := spec.Next(now.In(loc))
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", schedule.Expression)
		}
		return next.UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", schedule.Type)
	}
}

// ValidateSchedule rejects malformed schedules before persistence by
// computing a next run and discarding it.
func ValidateSchedule(schedule models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	_, err := NextRunTime(schedule, time.Now().UTC())
	return err
}
