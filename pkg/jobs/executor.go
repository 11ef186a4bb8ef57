package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/metrics"
	"github.com/l3v3l/core/pkg/models"
	"github.com/l3v3l/core/pkg/services"
	"github.com/l3v3l/core/pkg/templates"
)

// Executor runs exactly one job definition end to end: resolve the
// template, run the lifecycle hooks under the job's timeout, finalize the
// execution record, notify, and (for scheduler triggers only) advance the
// job's schedule. A misbehaving template can never crash the caller: every
// template failure mode is absorbed into the record.
type Executor struct {
	store     Store
	templates *templates.Registry
	registry  *Registry
	notifier  services.Notifier
	logger    *logger.Logger
	host      string
	now       func() time.Time
}

// NewExecutor creates an executor. A nil notifier falls back to the
// log-backed sink.
func NewExecutor(store Store, tmpl *templates.Registry, registry *Registry, notifier services.Notifier) *Executor {
	if notifier == nil {
		notifier = services.NewLogNotifier()
	}
	hostname, _ := os.Hostname()

	return &Executor{
		store:     store,
		templates: tmpl,
		registry:  registry,
		notifier:  notifier,
		logger:    logger.New("job-executor"),
		host:      hostname,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the executor clock, for tests
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// ExecuteJob runs one job and returns its finalized execution record.
// Manual triggers never touch the job's last_run_at/next_run_at, so ad-hoc
// runs do not perturb the regular cadence.
func (e *Executor) ExecuteJob(ctx context.Context, job *models.JobDefinition, triggeredBy string) (*models.ExecutionRecord, error) {
	// The lease guarantees at-most-one concurrent run per job unless the
	// job opts into overlap. Expiry covers the timeout plus finalization.
	holder := uuid.New().String()
	if !job.AllowOverlap {
		until := e.now().Add(job.Timeout() + time.Minute)
		acquired, err := e.store.AcquireLease(ctx, job.ID, holder, until)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire execution lease: %w", err)
		}
		if !acquired {
			return nil, ErrAlreadyRunning
		}
		defer func() {
			if err := e.store.ReleaseLease(context.WithoutCancel(ctx), job.ID, holder); err != nil {
				e.logger.Warn().
					Err(err).
					Str("job_id", job.ID).
					Msg("Failed to release execution lease")
			}
		}()
	}

	startedAt := e.now()
	rec := &models.ExecutionRecord{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		JobName:       job.Name,
		TemplateType:  job.TemplateType,
		Status:        models.StatusRunning,
		StartedAt:     startedAt,
		TriggeredBy:   triggeredBy,
		ExecutionHost: e.host,
	}
	if err := e.store.InsertExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	runLogger := e.logger.WithJob(job.Name).WithExecution(rec.ID, triggeredBy)
	runLogger.LogJobStart(job.Name, string(job.Schedule.Type))

	ec := templates.NewExecutionContext(job.ID, job.Name, job.Parameters, triggeredBy, rec.ID, runLogger)
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	result := e.run(ctx, job, ec)

	completedAt := e.now()
	result.DurationSeconds = completedAt.Sub(startedAt).Seconds()

	rec.Status = result.Status
	rec.CompletedAt = &completedAt
	rec.DurationSeconds = result.DurationSeconds
	rec.Result = result
	rec.Error = result.FirstError()
	rec.Logs = ec.Logs()

	if err := e.store.FinalizeExecution(ctx, rec); err != nil {
		runLogger.Error().
			Err(err).
			Str("action", "finalize_failed").
			Msg("Failed to persist execution record")
		return rec, fmt.Errorf("failed to finalize execution record: %w", err)
	}

	metrics.JobExecutionsTotal.WithLabelValues(job.TemplateType, string(result.Status)).Inc()
	metrics.JobExecutionDuration.WithLabelValues(job.TemplateType).Observe(result.DurationSeconds)
	runLogger.LogJobComplete(job.Name, completedAt.Sub(startedAt), result.RecordsProcessed, len(result.Errors))

	e.sendNotifications(ctx, job, result, runLogger)

	// Only the scheduler advances the cadence; manual runs leave
	// last_run_at/next_run_at untouched.
	if triggeredBy == models.TriggeredByScheduler {
		if err := e.registry.UpdateAfterExecution(ctx, job.ID, result); err != nil {
			runLogger.Error().
				Err(err).
				Str("action", "reschedule_failed").
				Msg("Failed to advance job schedule after execution")
		}
	}

	return rec, nil
}

// run drives the template lifecycle and always returns a result, whatever
// the template does.
func (e *Executor) run(ctx context.Context, job *models.JobDefinition, ec *templates.ExecutionContext) *models.JobResult {
	tmpl, ok := e.templates.Get(job.TemplateType)
	if !ok {
		// Template existed at creation time but is gone now. Surfaced as a
		// failed record, never as an error to the caller.
		msg := fmt.Sprintf("template type %q not found", job.TemplateType)
		ec.Log("error", msg)
		return &models.JobResult{
			Status:  models.StatusFailed,
			Message: "Job execution failed: " + msg,
			Errors:  []string{msg},
		}
	}

	if !e.safePreExecute(ctx, tmpl, ec) {
		return &models.JobResult{
			Status:  models.StatusCancelled,
			Message: "Job execution cancelled by pre-execute hook",
		}
	}

	result := e.executeWithTimeout(ctx, job, tmpl, ec)

	e.safePostExecute(ctx, tmpl, ec, result)

	return result
}

type executeOutcome struct {
	result *models.JobResult
	err    error
}

// executeWithTimeout bounds how long the executor waits, not how long the
// template runs. On timeout the execution context is cancelled as a
// best-effort signal, but nothing forcibly stops in-flight work: a timed
// out template may keep mutating state after the record says timeout.
// Templates are expected to be idempotent and context-aware.
func (e *Executor) executeWithTimeout(ctx context.Context, job *models.JobDefinition, tmpl templates.Template, ec *templates.ExecutionContext) *models.JobResult {
	timeout := job.Timeout()
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcome := make(chan executeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- executeOutcome{err: fmt.Errorf("template panicked: %v", r)}
			}
		}()
		result, err := tmpl.Execute(execCtx, ec)
		outcome <- executeOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-outcome:
		if o.err != nil {
			return e.safeOnError(tmpl, ec, o.err)
		}
		if o.result == nil {
			return e.safeOnError(tmpl, ec, fmt.Errorf("template returned no result"))
		}
		return o.result

	case <-timer.C:
		cancel()
		msg := fmt.Sprintf("Job execution timed out after %d seconds", job.TimeoutSeconds)
		ec.Log("error", msg)
		return &models.JobResult{
			Status:  models.StatusTimeout,
			Message: msg,
			Errors:  []string{fmt.Sprintf("timeout after %ds", job.TimeoutSeconds)},
		}
	}
}

// safePreExecute shields the caller from a panicking pre-execute hook. A
// panic counts as "do not run".
func (e *Executor) safePreExecute(ctx context.Context, tmpl templates.Template, ec *templates.ExecutionContext) (proceed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("action", "pre_execute_panicked").
				Str("execution_id", ec.ExecutionID).
				Msgf("Pre-execute hook panicked: %v", r)
			proceed = false
		}
	}()
	return tmpl.PreExecute(ctx, ec)
}

// safeOnError invokes the template's error hook; a buggy hook falls back to
// a synthesized failed result so the scheduler never sees the panic.
func (e *Executor) safeOnError(tmpl templates.Template, ec *templates.ExecutionContext, execErr error) (result *models.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("action", "on_error_panicked").
				Str("execution_id", ec.ExecutionID).
				Msgf("OnError hook panicked: %v", r)
			result = &models.JobResult{
				Status:  models.StatusFailed,
				Message: "Job execution failed: " + execErr.Error(),
				Errors:  []string{execErr.Error()},
			}
		}
	}()
	result = tmpl.OnError(ec, execErr)
	if result == nil {
		result = &models.JobResult{
			Status:  models.StatusFailed,
			Message: "Job execution failed: " + execErr.Error(),
			Errors:  []string{execErr.Error()},
		}
	}
	return result
}

// safePostExecute runs the post-execute hook best effort
func (e *Executor) safePostExecute(ctx context.Context, tmpl templates.Template, ec *templates.ExecutionContext, result *models.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().
				Str("action", "post_execute_panicked").
				Str("execution_id", ec.ExecutionID).
				Msgf("Post-execute hook panicked: %v", r)
		}
	}()
	tmpl.PostExecute(ctx, ec, result)
}

// sendNotifications dispatches to configured recipients after finalization.
// Delivery failures are logged, never propagated.
func (e *Executor) sendNotifications(ctx context.Context, job *models.JobDefinition, result *models.JobResult, runLogger *logger.Logger) {
	var recipients []string
	switch {
	case result.Status == models.StatusSuccess && len(job.Notifications.OnSuccess) > 0:
		recipients = job.Notifications.OnSuccess
	case (result.Status == models.StatusFailed || result.Status == models.StatusTimeout) && len(job.Notifications.OnFailure) > 0:
		recipients = job.Notifications.OnFailure
	}
	if len(recipients) == 0 {
		return
	}

	subject := fmt.Sprintf("Job %s: %s", job.Name, result.Status)
	body := fmt.Sprintf("Job %q finished with status %s.\n\nMessage: %s", job.Name, result.Status, result.Message)

	if err := e.notifier.Notify(ctx, recipients, subject, body); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		runLogger.Error().
			Err(err).
			Str("action", "notification_failed").
			Strs("recipients", recipients).
			Msg("Failed to send job notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

// ExecuteJobByID loads a job and runs it. Disabled jobs are rejected; this
// is the entry point for manual "run now" triggers.
func (e *Executor) ExecuteJobByID(ctx context.Context, jobID, triggeredBy string) (*models.ExecutionRecord, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		return nil, ErrJobDisabled
	}
	return e.ExecuteJob(ctx, job, triggeredBy)
}

// GetExecution returns an execution record by id
func (e *Executor) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	return e.store.GetExecution(ctx, id)
}

// ListExecutions returns one page of execution records, newest first
func (e *Executor) ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*models.ExecutionRecord, error) {
	return e.store.ListExecutions(ctx, filter, page)
}

// DeleteExecution removes an execution record (administrative operation;
// the engine itself never deletes history outside the cleanup template)
func (e *Executor) DeleteExecution(ctx context.Context, id string) error {
	return e.store.DeleteExecution(ctx, id)
}

// ReconcileOrphans finalizes execution records stuck in running state from
// a previous process, once their job timeout (plus grace) has long passed.
// Called on scheduler start.
func (e *Executor) ReconcileOrphans(ctx context.Context, grace time.Duration) (int, error) {
	running, err := e.store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running executions: %w", err)
	}

	now := e.now()
	reconciled := 0
	for _, rec := range running {
		timeout := time.Duration(models.DefaultTimeoutSeconds) * time.Second
		if job, err := e.store.GetJob(ctx, rec.JobID); err == nil {
			timeout = job.Timeout()
		}
		if now.Sub(rec.StartedAt) <= timeout+grace {
			continue
		}

		completedAt := now
		rec.Status = models.StatusFailed
		rec.CompletedAt = &completedAt
		rec.DurationSeconds = completedAt.Sub(rec.StartedAt).Seconds()
		rec.Error = "orphaned: scheduler restart interrupted execution"
		rec.Result = &models.JobResult{
			Status:          models.StatusFailed,
			Message:         "Execution orphaned by scheduler restart",
			Errors:          []string{rec.Error},
			DurationSeconds: rec.DurationSeconds,
		}

		if err := e.store.FinalizeExecution(ctx, rec); err != nil {
			e.logger.Error().
				Err(err).
				Str("execution_id", rec.ID).
				Str("action", "orphan_finalize_failed").
				Msg("Failed to finalize orphaned execution")
			continue
		}
		reconciled++

		e.logger.Warn().
			Str("action", "orphan_reconciled").
			Str("execution_id", rec.ID).
			Str("job_id", rec.JobID).
			Time("started_at", rec.StartedAt).
			Msg("Finalized orphaned execution from previous process")
	}

	return reconciled, nil
}
