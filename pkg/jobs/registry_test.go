package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/l3v3l/core/pkg/models"
	"github.com/l3v3l/core/pkg/templates"
)

// stubTemplate is a minimal template with injectable validation and execution
type stubTemplate struct {
	templates.Base
	typeKey      string
	validateFunc func(params map[string]any) error
	executeFunc  func(ctx context.Context, ec *templates.ExecutionContext) (*models.JobResult, error)
	preExecute   func(ctx context.Context, ec *templates.ExecutionContext) bool
}

func (s *stubTemplate) Type() string           { return s.typeKey }
func (s *stubTemplate) Name() string           { return "Stub " + s.typeKey }
func (s *stubTemplate) Description() string    { return "test template" }
func (s *stubTemplate) Schema() map[string]any { return map[string]any{} }

func (s *stubTemplate) ValidateParams(params map[string]any) error {
	if s.validateFunc != nil {
		return s.validateFunc(params)
	}
	return nil
}

func (s *stubTemplate) PreExecute(ctx context.Context, ec *templates.ExecutionContext) bool {
	if s.preExecute != nil {
		return s.preExecute(ctx, ec)
	}
	return s.Base.PreExecute(ctx, ec)
}

func (s *stubTemplate) Execute(ctx context.Context, ec *templates.ExecutionContext) (*models.JobResult, error) {
	if s.executeFunc != nil {
		return s.executeFunc(ctx, ec)
	}
	return &models.JobResult{Status: models.StatusSuccess, Message: "ok"}, nil
}

func newTestRegistry(t *testing.T, tmpls ...templates.Template) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	tr := templates.NewRegistry()
	for _, tmpl := range tmpls {
		if err := tr.Register(tmpl); err != nil {
			t.Fatalf("failed to register template: %v", err)
		}
	}
	return NewRegistry(store, tr), store
}

func intervalJob(name string, seconds int) *models.JobDefinition {
	return &models.JobDefinition{
		Name:         name,
		TemplateType: "stub",
		Parameters:   map[string]any{},
		Schedule:     models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: seconds},
		Enabled:      true,
	}
}

func TestRegistry_CreateJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})
	registry.WithClock(func() time.Time { return now })

	job, err := registry.CreateJob(context.Background(), intervalJob("Nightly Cleanup", 3600), "admin")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if job.ID == "" {
		t.Error("expected a generated job id")
	}
	if job.Slug != "nightly-cleanup" {
		t.Errorf("Slug = %q, want %q", job.Slug, "nightly-cleanup")
	}
	if job.Version != 1 {
		t.Errorf("Version = %d, want 1", job.Version)
	}
	if job.LastRunAt != nil {
		t.Error("new job must not have last_run_at set")
	}
	if want := now.Add(time.Hour); !job.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", job.NextRunAt, want)
	}
	if job.TimeoutSeconds != models.DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %d, want default %d", job.TimeoutSeconds, models.DefaultTimeoutSeconds)
	}
	if job.RetryPolicy != models.DefaultRetryPolicy() {
		t.Errorf("RetryPolicy = %+v, want defaults", job.RetryPolicy)
	}
	if job.CreatedBy != "admin" {
		t.Errorf("CreatedBy = %q, want %q", job.CreatedBy, "admin")
	}
}

func TestRegistry_CreateJob_ValidationBlocksPersistence(t *testing.T) {
	validationMsg := "x must be between 1 and 10"
	tmpl := &stubTemplate{
		typeKey: "stub",
		validateFunc: func(params map[string]any) error {
			return errors.New(validationMsg)
		},
	}
	registry, store := newTestRegistry(t, tmpl)

	_, err := registry.CreateJob(context.Background(), intervalJob("bad-params", 60), "admin")
	if err == nil {
		t.Fatal("expected validation error")
	}
	// The template's message reaches the caller verbatim
	if err.Error() != validationMsg {
		t.Errorf("error = %q, want verbatim %q", err.Error(), validationMsg)
	}

	list, err := store.ListJobs(context.Background(), JobFilter{}, Page{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if list.Total != 0 {
		t.Errorf("store contains %d jobs after failed validation, want 0", list.Total)
	}
}

func TestRegistry_CreateJob_Rejections(t *testing.T) {
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})

	tests := []struct {
		name    string
		def     *models.JobDefinition
		wantMsg string
	}{
		{
			name: "missing name",
			def: &models.JobDefinition{
				TemplateType: "stub",
				Schedule:     models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: 60},
			},
			wantMsg: "job name is required",
		},
		{
			name: "unknown template type",
			def: &models.JobDefinition{
				Name:         "ghost",
				TemplateType: "missing",
				Schedule:     models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: 60},
			},
			wantMsg: `template type "missing" does not exist`,
		},
		{
			name: "invalid schedule",
			def: &models.JobDefinition{
				Name:         "bad-schedule",
				TemplateType: "stub",
				Schedule:     models.Schedule{Type: models.ScheduleCron, Expression: "bogus"},
			},
			wantMsg: "invalid cron expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.CreateJob(context.Background(), tt.def, "admin")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRegistry_CreateJob_DuplicateName(t *testing.T) {
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})

	if _, err := registry.CreateJob(context.Background(), intervalJob("unique", 60), "admin"); err != nil {
		t.Fatalf("first CreateJob() error = %v", err)
	}
	_, err := registry.CreateJob(context.Background(), intervalJob("unique", 60), "admin")
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}
}

func TestRegistry_UpdateJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})
	registry.WithClock(func() time.Time { return now })

	job, err := registry.CreateJob(context.Background(), intervalJob("mutable", 3600), "admin")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	originalNextRun := job.NextRunAt

	t.Run("partial update leaves schedule state alone", func(t *testing.T) {
		desc := "updated description"
		updated, err := registry.UpdateJob(context.Background(), job.ID, JobPatch{Description: &desc})
		if err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
		if updated.Description != desc {
			t.Errorf("Description = %q, want %q", updated.Description, desc)
		}
		if updated.Version != 2 {
			t.Errorf("Version = %d, want 2", updated.Version)
		}
		if !updated.NextRunAt.Equal(originalNextRun) {
			t.Errorf("NextRunAt changed to %v on a non-schedule patch", updated.NextRunAt)
		}
		if updated.CreatedBy != "admin" || updated.ID != job.ID {
			t.Error("identity fields must survive an update")
		}
	})

	t.Run("schedule change recomputes next run", func(t *testing.T) {
		schedule := models.Schedule{Type: models.ScheduleInterval, IntervalSeconds: 120}
		updated, err := registry.UpdateJob(context.Background(), job.ID, JobPatch{Schedule: &schedule})
		if err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
		if want := now.Add(2 * time.Minute); !updated.NextRunAt.Equal(want) {
			t.Errorf("NextRunAt = %v, want %v", updated.NextRunAt, want)
		}
		if updated.Version != 3 {
			t.Errorf("Version = %d, want 3", updated.Version)
		}
	})

	t.Run("invalid params reject the whole patch", func(t *testing.T) {
		before, _ := registry.GetJob(context.Background(), job.ID)
		_, err := registry.UpdateJob(context.Background(), job.ID, JobPatch{
			Parameters: map[string]any{"bad": true},
			TemplateType: func() *string {
				s := "missing"
				return &s
			}(),
		})
		if err == nil {
			t.Fatal("expected error for unknown template type")
		}
		after, _ := registry.GetJob(context.Background(), job.ID)
		if after.Version != before.Version {
			t.Error("failed update must not bump the version")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := registry.UpdateJob(context.Background(), "no-such-id", JobPatch{})
		if !errors.Is(err, ErrJobNotFound) {
			t.Errorf("error = %v, want ErrJobNotFound", err)
		}
	})
}

func TestRegistry_JobsReadyToRun(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry, store := newTestRegistry(t, &stubTemplate{typeKey: "stub"})
	registry.WithClock(func() time.Time { return now })

	mustCreate := func(name string, seconds int, enabled bool) *models.JobDefinition {
		def := intervalJob(name, seconds)
		def.Enabled = enabled
		job, err := registry.CreateJob(context.Background(), def, "admin")
		if err != nil {
			t.Fatalf("CreateJob(%s) error = %v", name, err)
		}
		return job
	}

	due := mustCreate("due", 60, true)
	mustCreate("future", 60, true)
	disabled := mustCreate("disabled", 60, false)

	// Backdate two jobs so they are due; one of them is disabled
	if err := store.UpdateRunTimes(context.Background(), due.ID, now.Add(-2*time.Minute), now.Add(-time.Minute)); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}
	if err := store.UpdateRunTimes(context.Background(), disabled.ID, now.Add(-2*time.Minute), now.Add(-time.Minute)); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}

	ready, err := registry.JobsReadyToRun(context.Background())
	if err != nil {
		t.Fatalf("JobsReadyToRun() error = %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("got %d due jobs, want 1", len(ready))
	}
	if ready[0].Name != "due" {
		t.Errorf("due job = %q, want %q", ready[0].Name, "due")
	}
}

func TestRegistry_UpdateAfterExecution(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})
	registry.WithClock(func() time.Time { return now })

	job, err := registry.CreateJob(context.Background(), intervalJob("cadence", 600), "admin")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	// The run finished 45 seconds later than creation; cadence is re-anchored
	later := now.Add(45 * time.Second)
	registry.WithClock(func() time.Time { return later })

	if err := registry.UpdateAfterExecution(context.Background(), job.ID, &models.JobResult{Status: models.StatusSuccess}); err != nil {
		t.Fatalf("UpdateAfterExecution() error = %v", err)
	}

	got, err := registry.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(later) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, later)
	}
	if want := later.Add(10 * time.Minute); !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, want)
	}
}

func TestRegistry_DeleteJob(t *testing.T) {
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"})

	job, err := registry.CreateJob(context.Background(), intervalJob("doomed", 60), "admin")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if err := registry.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := registry.GetJob(context.Background(), job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob after delete = %v, want ErrJobNotFound", err)
	}
	if err := registry.DeleteJob(context.Background(), job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second delete = %v, want ErrJobNotFound", err)
	}
}

func TestRegistry_ListJobs_Filter(t *testing.T) {
	registry, _ := newTestRegistry(t, &stubTemplate{typeKey: "stub"}, &stubTemplate{typeKey: "other"})

	for i := 0; i < 3; i++ {
		def := intervalJob(fmt.Sprintf("stub-job-%d", i), 60)
		if _, err := registry.CreateJob(context.Background(), def, "admin"); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	other := intervalJob("other-job", 60)
	other.TemplateType = "other"
	other.Enabled = false
	if _, err := registry.CreateJob(context.Background(), other, "admin"); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	byType, err := registry.ListJobs(context.Background(), JobFilter{TemplateType: "other"}, Page{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if byType.Total != 1 {
		t.Errorf("template filter total = %d, want 1", byType.Total)
	}

	enabled := true
	byEnabled, err := registry.ListJobs(context.Background(), JobFilter{Enabled: &enabled}, Page{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if byEnabled.Total != 3 {
		t.Errorf("enabled filter total = %d, want 3", byEnabled.Total)
	}
}
