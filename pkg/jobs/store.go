package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

var (
	// ErrJobNotFound is returned when a job id resolves to nothing
	ErrJobNotFound = errors.New("job not found")

	// ErrExecutionNotFound is returned when an execution id resolves to nothing
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrJobDisabled is returned when a manual trigger targets a disabled job
	ErrJobDisabled = errors.New("job is disabled")

	// ErrAlreadyRunning is returned when the per-job lease is held by a
	// concurrent execution and the job does not allow overlap
	ErrAlreadyRunning = errors.New("job execution already in progress")

	// ErrDuplicateName is returned when a job name collides with an existing one
	ErrDuplicateName = errors.New("job name already exists")
)

// JobFilter narrows job listings
type JobFilter struct {
	Enabled      *bool
	TemplateType string
}

// ExecutionFilter narrows execution listings
type ExecutionFilter struct {
	JobID  string
	Status models.ExecutionStatus
}

// Page is skip/limit pagination
type Page struct {
	Skip  int
	Limit int
}

// Normalize applies the listing defaults
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}

// JobList is one page of jobs plus the unpaged total
type JobList struct {
	Jobs  []*models.JobDefinition
	Total int64
}

// JobStore persists job definitions and their scheduling state
type JobStore interface {
	InsertJob(ctx context.Context, job *models.JobDefinition) error
	GetJob(ctx context.Context, id string) (*models.JobDefinition, error)
	ListJobs(ctx context.Context, filter JobFilter, page Page) (*JobList, error)

	// UpdateJob writes the full mutable state of a job. The registry owns
	// protected-field and versioning rules; the store just persists.
	UpdateJob(ctx context.Context, job *models.JobDefinition) error
	DeleteJob(ctx context.Context, id string) error

	// JobsReadyToRun returns enabled jobs with next_run_at <= now
	JobsReadyToRun(ctx context.Context, now time.Time) ([]*models.JobDefinition, error)

	// UpdateRunTimes touches only last_run_at/next_run_at after a scheduled run
	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error

	// AcquireLease atomically claims exclusive execution of a job until the
	// given expiry. Returns false without error when another holder has a
	// live lease.
	AcquireLease(ctx context.Context, id, holder string, until time.Time) (bool, error)

	// ReleaseLease drops the lease if this holder still owns it
	ReleaseLease(ctx context.Context, id, holder string) error
}

// ExecutionStore persists the append-only audit log of runs
type ExecutionStore interface {
	InsertExecution(ctx context.Context, rec *models.ExecutionRecord) error

	// FinalizeExecution writes the terminal state exactly once
	FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error

	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*models.ExecutionRecord, error)
	DeleteExecution(ctx context.Context, id string) error

	// DeleteExecutionsBefore prunes records finalized before the cutoff
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time, statuses []models.ExecutionStatus) (int64, error)

	// ListRunning returns records not yet finalized, oldest first
	ListRunning(ctx context.Context) ([]*models.ExecutionRecord, error)

	CountRunning(ctx context.Context) (int64, error)
}

// Store combines both persistence concerns; the engine's single data store
// implements both.
type Store interface {
	JobStore
	ExecutionStore
}
