package models

import (
	"fmt"
	"time"
)

// ScheduleType selects how the next run time of a job is derived
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// Schedule is a tagged variant: either a fixed interval or a cron expression
type Schedule struct {
	Type            ScheduleType `json:"type"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	Expression      string       `json:"expression,omitempty"`
	Timezone        string       `json:"timezone,omitempty"`
}

// Validate checks the schedule variant is internally consistent
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return fmt.Errorf("interval_seconds must be positive, got %d", s.IntervalSeconds)
		}
	case ScheduleCron:
		if s.Expression == "" {
			return fmt.Errorf("cron schedule requires an expression")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	return nil
}

// RetryPolicy is declared metadata on a job. The executor makes a single
// attempt per invocation; retries only happen through the schedule itself.
type RetryPolicy struct {
	MaxRetries        int `json:"max_retries"`
	RetryDelaySeconds int `json:"retry_delay_seconds"`
}

// DefaultRetryPolicy matches the defaults applied at job creation
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RetryDelaySeconds: 300,
	}
}

// NotificationConfig lists recipients per terminal outcome
type NotificationConfig struct {
	OnSuccess []string `json:"on_success,omitempty"`
	OnFailure []string `json:"on_failure,omitempty"`
}

// DefaultTimeoutSeconds is the wall-clock budget applied when a job
// definition does not specify one.
const DefaultTimeoutSeconds = 3600

// JobDefinition is a named, schedulable unit of configuration.
// NextRunAt is always derived from Schedule; callers never set it directly.
type JobDefinition struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Slug           string             `json:"slug"`
	Description    string             `json:"description"`
	TemplateType   string             `json:"template_type"`
	Parameters     map[string]any     `json:"parameters"`
	Schedule       Schedule           `json:"schedule"`
	Enabled        bool               `json:"enabled"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	AllowOverlap   bool               `json:"allow_overlap"`
	RetryPolicy    RetryPolicy        `json:"retry_policy"`
	Notifications  NotificationConfig `json:"notifications"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	LastRunAt      *time.Time         `json:"last_run_at,omitempty"`
	NextRunAt      time.Time          `json:"next_run_at"`
	Version        int                `json:"version"`
}

// Timeout returns the execution budget as a duration
func (j *JobDefinition) Timeout() time.Duration {
	seconds := j.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// ExecutionStatus is the lifecycle state of one run
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// TriggeredBy values for execution records. Anything else is treated as a
// specific operator identity and handled like a manual trigger.
const (
	TriggeredByScheduler = "scheduler"
	TriggeredByManual    = "manual"
)

// LogEntry is one line collected during a run
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// JobResult is the structured outcome a template produces. It is embedded
// into the execution record, never persisted on its own.
type JobResult struct {
	Status           ExecutionStatus `json:"status"`
	Message          string          `json:"message"`
	Details          map[string]any  `json:"details,omitempty"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsAffected  int             `json:"records_affected"`
	Errors           []string        `json:"errors,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	DurationSeconds  float64         `json:"duration_seconds"`
}

// FirstError returns the first recorded error string, if any
func (r *JobResult) FirstError() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// ExecutionRecord is the immutable audit entry for one run. JobName and
// TemplateType are snapshots taken at start so later renames do not rewrite
// history.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	JobName         string          `json:"job_name"`
	TemplateType    string          `json:"template_type"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	Result          *JobResult      `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Logs            []LogEntry      `json:"logs,omitempty"`
	TriggeredBy     string          `json:"triggered_by"`
	ExecutionHost   string          `json:"execution_host,omitempty"`
}
