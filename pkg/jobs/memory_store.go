package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

// MemoryStore is a mutex-guarded in-process store. It backs unit tests and
// single-node development runs; production uses the Postgres store.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*models.JobDefinition
	executions map[string]*models.ExecutionRecord
	leases     map[string]lease
}

type lease struct {
	holder string
	until  time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*models.JobDefinition),
		executions: make(map[string]*models.ExecutionRecord),
		leases:     make(map[string]lease),
	}
}

func cloneJob(job *models.JobDefinition) *models.JobDefinition {
	out := *job
	if job.Parameters != nil {
		out.Parameters = make(map[string]any, len(job.Parameters))
		for k, v := range job.Parameters {
			out.Parameters[k] = v
		}
	}
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		out.LastRunAt = &t
	}
	return &out
}

func cloneExecution(rec *models.ExecutionRecord) *models.ExecutionRecord {
	out := *rec
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	if rec.Result != nil {
		result := *rec.Result
		out.Result = &result
	}
	if rec.Logs != nil {
		out.Logs = append([]models.LogEntry(nil), rec.Logs...)
	}
	return &out
}

func (s *MemoryStore) InsertJob(ctx context.Context, job *models.JobDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return ErrDuplicateName
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.JobDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter, page Page) (*JobList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()

	matched := make([]*models.JobDefinition, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		if filter.TemplateType != "" && job.TemplateType != filter.TemplateType {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if page.Skip >= len(matched) {
		return &JobList{Jobs: nil, Total: total}, nil
	}
	matched = matched[page.Skip:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}

	out := make([]*models.JobDefinition, 0, len(matched))
	for _, job := range matched {
		out = append(out, cloneJob(job))
	}
	return &JobList{Jobs: out, Total: total}, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.JobDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	for id, existing := range s.jobs {
		if id != job.ID && existing.Name == job.Name {
			return ErrDuplicateName
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) JobsReadyToRun(ctx context.Context, now time.Time) ([]*models.JobDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.JobDefinition
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		due = append(due, cloneJob(job))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	return due, nil
}

func (s *MemoryStore) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	t := lastRunAt
	job.LastRunAt = &t
	job.NextRunAt = nextRunAt
	return nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, id, holder string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[id]; ok && current.until.After(time.Now()) && current.holder != holder {
		return false, nil
	}
	s.leases[id] = lease{holder: holder, until: until}
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, id, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[id]; ok && current.holder == holder {
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) InsertExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[rec.ID] = cloneExecution(rec)
	return nil
}

func (s *MemoryStore) FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[rec.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[rec.ID] = cloneExecution(rec)
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return cloneExecution(rec), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter, page Page) ([]*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()

	matched := make([]*models.ExecutionRecord, 0, len(s.executions))
	for _, rec := range s.executions {
		if filter.JobID != "" && rec.JobID != filter.JobID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if page.Skip >= len(matched) {
		return nil, nil
	}
	matched = matched[page.Skip:]
	if len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}

	out := make([]*models.ExecutionRecord, 0, len(matched))
	for _, rec := range matched {
		out = append(out, cloneExecution(rec))
	}
	return out, nil
}

func (s *MemoryStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[id]; !ok {
		return ErrExecutionNotFound
	}
	delete(s.executions, id)
	return nil
}

func (s *MemoryStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time, statuses []models.ExecutionStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := make(map[models.ExecutionStatus]bool, len(statuses))
	for _, status := range statuses {
		allowed[status] = true
	}

	var deleted int64
	for id, rec := range s.executions {
		if rec.CompletedAt == nil || !rec.CompletedAt.Before(cutoff) {
			continue
		}
		if len(allowed) > 0 && !allowed[rec.Status] {
			continue
		}
		delete(s.executions, id)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) ListRunning(ctx context.Context) ([]*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ExecutionRecord
	for _, rec := range s.executions {
		if rec.Status == models.StatusRunning {
			out = append(out, cloneExecution(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) CountRunning(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, rec := range s.executions {
		if rec.Status == models.StatusRunning {
			count++
		}
	}
	return count, nil
}
