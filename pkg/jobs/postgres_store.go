package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/l3v3l/core/pkg/models"
)

// DBTX is the subset of pgx the store needs; both a pool and a transaction
// satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists jobs and executions in PostgreSQL. Schedules,
// parameters and results are stored as JSONB; scheduling state lives in
// plain columns so the due-job query stays indexable.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a Postgres-backed store
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, name, slug, description, template_type, parameters, schedule,
	enabled, timeout_seconds, allow_overlap, retry_policy, notifications,
	created_by, created_at, updated_at, last_run_at, next_run_at, version`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) InsertJob(ctx context.Context, job *models.JobDefinition) error {
	params, schedule, retry, notif, err := marshalJobDocs(job)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO dynamic_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		job.ID, job.Name, job.Slug, job.Description, job.TemplateType, params, schedule,
		job.Enabled, job.TimeoutSeconds, job.AllowOverlap, retry, notif,
		job.CreatedBy, job.CreatedAt, job.UpdatedAt, job.LastRunAt, job.NextRunAt, job.Version)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM dynamic_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter, page Page) (*JobList, error) {
	page = page.Normalize()

	where := " WHERE 1=1"
	args := []any{}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		where += fmt.Sprintf(" AND enabled = $%d", len(args))
	}
	if filter.TemplateType != "" {
		args = append(args, filter.TemplateType)
		where += fmt.Sprintf(" AND template_type = $%d", len(args))
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM dynamic_jobs`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	args = append(args, page.Limit, page.Skip)
	query := `SELECT ` + jobColumns + ` FROM dynamic_jobs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	return &JobList{Jobs: jobs, Total: total}, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.JobDefinition) error {
	params, schedule, retry, notif, err := marshalJobDocs(job)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE dynamic_jobs
		SET name = $2, slug = $3, description = $4, template_type = $5,
		    parameters = $6, schedule = $7, enabled = $8, timeout_seconds = $9,
		    allow_overlap = $10, retry_policy = $11, notifications = $12,
		    updated_at = $13, next_run_at = $14, version = $15
		WHERE id = $1`,
		job.ID, job.Name, job.Slug, job.Description, job.TemplateType,
		params, schedule, job.Enabled, job.TimeoutSeconds,
		job.AllowOverlap, retry, notif,
		job.UpdatedAt, job.NextRunAt, job.Version)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM dynamic_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) JobsReadyToRun(ctx context.Context, now time.Time) ([]*models.JobDefinition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM dynamic_jobs
		WHERE enabled = true AND next_run_at <= $1
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE dynamic_jobs SET last_run_at = $2, next_run_at = $3 WHERE id = $1`,
		id, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) AcquireLease(ctx context.Context, id, holder string, until time.Time) (bool, error) {
	// Conditional update: the claim only succeeds when no live lease exists
	tag, err := s.db.Exec(ctx, `
		UPDATE dynamic_jobs
		SET lease_holder = $2, lease_expires_at = $3
		WHERE id = $1 AND (lease_expires_at IS NULL OR lease_expires_at < now())`,
		id, holder, until)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, id, holder string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE dynamic_jobs
		SET lease_holder = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_holder = $2`,
		id, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_executions (id, job_id, job_name, template_type, status,
			started_at, triggered_by, execution_host)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.JobID, rec.JobName, rec.TemplateType, rec.Status,
		rec.StartedAt, rec.TriggeredBy, rec.ExecutionHost)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	logs, err := json.Marshal(rec.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}

	// Records only transition out of running once
	tag, err := s.db.Exec(ctx, `
		UPDATE job_executions
		SET status = $2, completed_at = $3, duration_seconds = $4,
		    result = $5, error = $6, logs = $7
		WHERE id = $1 AND status = 'running'`,
		rec.ID, rec.Status, rec.CompletedAt, rec.DurationSeconds, result, rec.Error, logs)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

const executionColumns = `id, job_id, job_name, template_type, status, started_at,
	completed_at, duration_seconds, result, error, logs, triggered_by, execution_host`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*models.ExecutionRecord, error) {
	page = page.Normalize()

	where := " WHERE 1=1"
	args := []any{}
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		where += fmt.Sprintf(" AND job_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, page.Limit, page.Skip)
	query := `SELECT ` + executionColumns + ` FROM job_executions` + where +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteExecution(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM job_executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time, statuses []models.ExecutionStatus) (int64, error) {
	list := make([]string, 0, len(statuses))
	for _, status := range statuses {
		list = append(list, string(status))
	}

	tag, err := s.db.Exec(ctx, `
		DELETE FROM job_executions
		WHERE completed_at IS NOT NULL AND completed_at < $1 AND status = ANY($2)`,
		cutoff, list)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListRunning(ctx context.Context) ([]*models.ExecutionRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+executionColumns+`
		FROM job_executions
		WHERE status = 'running'
		ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountRunning(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM job_executions WHERE status = 'running'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running executions: %w", err)
	}
	return count, nil
}

func marshalJobDocs(job *models.JobDefinition) (params, schedule, retry, notif []byte, err error) {
	if params, err = json.Marshal(job.Parameters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	if schedule, err = json.Marshal(job.Schedule); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode schedule: %w", err)
	}
	if retry, err = json.Marshal(job.RetryPolicy); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode retry policy: %w", err)
	}
	if notif, err = json.Marshal(job.Notifications); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode notifications: %w", err)
	}
	return params, schedule, retry, notif, nil
}

func scanJob(row pgx.Row) (*models.JobDefinition, error) {
	var job models.JobDefinition
	var params, schedule, retry, notif []byte

	err := row.Scan(
		&job.ID, &job.Name, &job.Slug, &job.Description, &job.TemplateType,
		&params, &schedule, &job.Enabled, &job.TimeoutSeconds, &job.AllowOverlap,
		&retry, &notif, &job.CreatedBy, &job.CreatedAt, &job.UpdatedAt,
		&job.LastRunAt, &job.NextRunAt, &job.Version)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := json.Unmarshal(schedule, &job.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if err := json.Unmarshal(retry, &job.RetryPolicy); err != nil {
		return nil, fmt.Errorf("failed to decode retry policy: %w", err)
	}
	if err := json.Unmarshal(notif, &job.Notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return &job, nil
}

func scanExecution(row pgx.Row) (*models.ExecutionRecord, error) {
	var rec models.ExecutionRecord
	var result, logs []byte
	var errText *string

	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.JobName, &rec.TemplateType, &rec.Status,
		&rec.StartedAt, &rec.CompletedAt, &rec.DurationSeconds,
		&result, &errText, &logs, &rec.TriggeredBy, &rec.ExecutionHost)
	if err != nil {
		return nil, err
	}

	if errText != nil {
		rec.Error = *errText
	}
	if len(result) > 0 && string(result) != "null" {
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	if len(logs) > 0 && string(logs) != "null" {
		if err := json.Unmarshal(logs, &rec.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode logs: %w", err)
		}
	}
	return &rec, nil
}
