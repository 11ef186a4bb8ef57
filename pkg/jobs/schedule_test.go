package jobs

import (
	"strings"
	"testing"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

func TestNextRunTime_Interval(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		seconds int
		want    time.Time
		wantErr bool
	}{
		{
			name:    "one minute",
			seconds: 60,
			want:    now.Add(60 * time.Second),
		},
		{
			name:    "one day",
			seconds: 86400,
			want:    now.Add(24 * time.Hour),
		},
		{
			name:    "zero interval",
			seconds: 0,
			wantErr: true,
		},
		{
			name:    "negative interval",
			seconds: -5,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := models.Schedule{
				Type:            models.ScheduleInterval,
				IntervalSeconds: tt.seconds,
			}
			got, err := NextRunTime(schedule, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextRunTime() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("NextRunTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunTime_IntervalDrifts(t *testing.T) {
	// The next run is computed from the completion moment, not the previous
	// next_run_at, so a late run pushes the following run by the same delay.
	schedule := models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: 300}

	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lateStart := scheduled.Add(40 * time.Second)

	next, err := NextRunTime(schedule, lateStart)
	if err != nil {
		t.Fatalf("NextRunTime() error = %v", err)
	}
	if want := lateStart.Add(300 * time.Second); !next.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v (anchored to actual run time)", next, want)
	}
}

func TestNextRunTime_Cron(t *testing.T) {
	// 12:00:30 UTC; the 12:00 window has already passed
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

	tests := []struct {
		name       string
		expression string
		timezone   string
		want       time.Time
		wantErr    bool
	}{
		{
			name:       "hourly skips the elapsed window",
			expression: "0 * * * *",
			want:       time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		},
		{
			name:       "daily at midnight",
			expression: "0 0 * * *",
			want:       time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "every five minutes",
			expression: "*/5 * * * *",
			want:       time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			name:       "timezone evaluated in local wall time",
			expression: "0 15 * * *",
			timezone:   "America/New_York",
			// 15:00 EDT on June 1 is 19:00 UTC
			want: time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC),
		},
		{
			name:       "invalid expression",
			expression: "not-a-cron",
			wantErr:    true,
		},
		{
			name:       "too many fields",
			expression: "0 0 * * * * *",
			wantErr:    true,
		},
		{
			name:       "invalid timezone",
			expression: "0 * * * *",
			timezone:   "Mars/Olympus",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule := models.Schedule{
				Type:       models.ScheduleCron,
				Expression: tt.expression,
				Timezone:   tt.timezone,
			}
			got, err := NextRunTime(schedule, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextRunTime() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextRunTime() = %v, want %v", got, tt.want)
			}
			if !got.After(now) {
				t.Errorf("NextRunTime() = %v, must be strictly after now %v", got, now)
			}
		})
	}
}

func TestNextRunTime_CronNoCatchUp(t *testing.T) {
	// A process that slept through many windows gets exactly one future
	// firing, not a backlog.
	schedule := models.Schedule{Type: models.ScheduleCron, Expression: "0 * * * *"}

	wokeUp := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	next, err := NextRunTime(schedule, wokeUp)
	if err != nil {
		t.Fatalf("NextRunTime() error = %v", err)
	}
	if want := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v (missed windows are not replayed)", next, want)
	}
}

func TestNextRunTime_UnknownType(t *testing.T) {
	_, err := NextRunTime(models.Schedule{Type: "hourly"}, time.Now())
	if err == nil {
		t.Fatal("expected error for unknown schedule type")
	}
	if !strings.Contains(err.Error(), "unknown schedule type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.Schedule
		wantErr  bool
	}{
		{
			name:     "valid interval",
			schedule: models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: 60},
		},
		{
			name:     "valid cron",
			schedule: models.Schedule{Type: models.ScheduleCron, Expression: "*/10 * * * *"},
		},
		{
			name:     "interval without seconds",
			schedule: models.Schedule{Type: models.ScheduleInterval},
			wantErr:  true,
		},
		{
			name:     "cron without expression",
			schedule: models.Schedule{Type: models.ScheduleCron},
			wantErr:  true,
		},
		{
			name:     "cron with bad expression",
			schedule: models.Schedule{Type: models.ScheduleCron, Expression: "61 * * * *"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
