package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/models"
	"github.com/l3v3l/core/pkg/templates"
	"github.com/l3v3l/core/pkg/utils"
)

// Registry owns the job definition lifecycle: validation against the
// selected template, scheduling arithmetic, and persistence. It never
// inspects execution internals; the executor reports completion through
// UpdateAfterExecution only so the next run can be computed.
type Registry struct {
	store     JobStore
	templates *templates.Registry
	logger    *logger.Logger
	now       func() time.Time
}

// NewRegistry creates a job registry backed by the given store
func NewRegistry(store JobStore, tmpl *templates.Registry) *Registry {
	return &Registry{
		store:     store,
		templates: tmpl,
		logger:    logger.New("job-registry"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the registry clock, for tests
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// validateTemplateParams resolves the template and delegates parameter
// validation. The validator's message is returned verbatim.
func (r *Registry) validateTemplateParams(templateType string, params map[string]any) error {
	if !r.templates.Exists(templateType) {
		return fmt.Errorf("template type %q does not exist", templateType)
	}
	tmpl, _ := r.templates.Get(templateType)
	if err := tmpl.ValidateParams(params); err != nil {
		return err
	}
	return nil
}

// CreateJob validates and persists a new job definition. On any validation
// failure nothing is written.
func (r *Registry) CreateJob(ctx context.Context, def *models.JobDefinition, createdBy string) (*models.JobDefinition, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if err := r.validateTemplateParams(def.TemplateType, def.Parameters); err != nil {
		return nil, err
	}
	if err := ValidateSchedule(def.Schedule); err != nil {
		return nil, err
	}

	now := r.now()
	nextRun, err := NextRunTime(def.Schedule, now)
	if err != nil {
		return nil, err
	}

	job := *def
	job.ID = uuid.New().String()
	job.Slug = utils.NormalizeSlug(def.Name)
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}
	if job.TimeoutSeconds <= 0 {
		job.TimeoutSeconds = models.DefaultTimeoutSeconds
	}
	if job.RetryPolicy == (models.RetryPolicy{}) {
		job.RetryPolicy = models.DefaultRetryPolicy()
	}
	job.CreatedBy = createdBy
	job.CreatedAt = now
	job.UpdatedAt = now
	job.LastRunAt = nil
	job.NextRunAt = nextRun
	job.Version = 1

	if err := r.store.InsertJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	r.logger.Info().
		Str("action", "create_job").
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Str("template_type", job.TemplateType).
		Time("next_run_at", job.NextRunAt).
		Msg("Created dynamic job")

	return &job, nil
}

// GetJob returns a job by id
func (r *Registry) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	return r.store.GetJob(ctx, id)
}

// ListJobs returns one page of jobs
func (r *Registry) ListJobs(ctx context.Context, filter JobFilter, page Page) (*JobList, error) {
	return r.store.ListJobs(ctx, filter, page)
}

// JobPatch is the set of fields an operator may change. Identity and audit
// fields (id, created_by, created_at, version) are absent by construction.
type JobPatch struct {
	Name           *string
	Description    *string
	TemplateType   *string
	Parameters     map[string]any
	Schedule       *models.Schedule
	Enabled        *bool
	TimeoutSeconds *int
	AllowOverlap   *bool
	RetryPolicy    *models.RetryPolicy
	Notifications  *models.NotificationConfig
}

// UpdateJob applies a patch to an existing job. Parameters are re-validated
// when parameters or template type change; next_run_at is recomputed when
// the schedule changes; the version is incremented on every update.
func (r *Registry) UpdateJob(ctx context.Context, id string, patch JobPatch) (*models.JobDefinition, error) {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.TemplateType != nil || patch.Parameters != nil {
		templateType := job.TemplateType
		if patch.TemplateType != nil {
			templateType = *patch.TemplateType
		}
		params := job.Parameters
		if patch.Parameters != nil {
			params = patch.Parameters
		}
		if err := r.validateTemplateParams(templateType, params); err != nil {
			return nil, err
		}
		job.TemplateType = templateType
		job.Parameters = params
	}

	if patch.Name != nil {
		job.Name = *patch.Name
		job.Slug = utils.NormalizeSlug(job.Name)
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.TimeoutSeconds != nil {
		job.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if patch.AllowOverlap != nil {
		job.AllowOverlap = *patch.AllowOverlap
	}
	if patch.RetryPolicy != nil {
		job.RetryPolicy = *patch.RetryPolicy
	}
	if patch.Notifications != nil {
		job.Notifications = *patch.Notifications
	}

	now := r.now()
	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule); err != nil {
			return nil, err
		}
		nextRun, err := NextRunTime(*patch.Schedule, now)
		if err != nil {
			return nil, err
		}
		job.Schedule = *patch.Schedule
		job.NextRunAt = nextRun
	}

	job.UpdatedAt = now
	job.Version++

	if err := r.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	r.logger.Info().
		Str("action", "update_job").
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Int("version", job.Version).
		Msg("Updated dynamic job")

	return job, nil
}

// DeleteJob removes a job definition. Historical execution records are
// retained; retention is the cleanup template's concern.
func (r *Registry) DeleteJob(ctx context.Context, id string) error {
	if err := r.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	r.logger.Info().
		Str("action", "delete_job").
		Str("job_id", id).
		Msg("Deleted dynamic job")
	return nil
}

// JobsReadyToRun returns enabled jobs whose next_run_at has passed
func (r *Registry) JobsReadyToRun(ctx context.Context) ([]*models.JobDefinition, error) {
	return r.store.JobsReadyToRun(ctx, r.now())
}

// UpdateAfterExecution advances the job's scheduling state after a
// scheduler-triggered run. The next run is computed relative to now, not
// the previous next_run_at, so interval cadence slips when runs start late.
func (r *Registry) UpdateAfterExecution(ctx context.Context, jobID string, result *models.JobResult) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := r.now()
	nextRun, err := NextRunTime(job.Schedule, now)
	if err != nil {
		return fmt.Errorf("failed to compute next run for job %s: %w", job.Name, err)
	}

	if err := r.store.UpdateRunTimes(ctx, jobID, now, nextRun); err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}

	r.logger.Debug().
		Str("action", "update_after_execution").
		Str("job_id", jobID).
		Str("job_name", job.Name).
		Time("next_run_at", nextRun).
		Msg("Advanced job schedule after execution")

	return nil
}
