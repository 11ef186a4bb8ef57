package templates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

type fakePruner struct {
	deleted  int64
	err      error
	gotCall  bool
	cutoff   time.Time
	statuses []models.ExecutionStatus
}

func (p *fakePruner) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time, statuses []models.ExecutionStatus) (int64, error) {
	p.gotCall = true
	p.cutoff = cutoff
	p.statuses = statuses
	return p.deleted, p.err
}

func TestExecutionCleanup_ValidateParams(t *testing.T) {
	tmpl := NewExecutionCleanupTemplate(&fakePruner{})

	tests := []struct {
		name    string
		params  map[string]any
		wantMsg string
	}{
		{
			name:   "empty params use defaults",
			params: map[string]any{},
		},
		{
			name:   "valid retention",
			params: map[string]any{"retention_days": float64(30)},
		},
		{
			name:    "retention too low",
			params:  map[string]any{"retention_days": float64(0)},
			wantMsg: "retention_days must be between 1 and 365",
		},
		{
			name:    "retention too high",
			params:  map[string]any{"retention_days": float64(400)},
			wantMsg: "retention_days must be between 1 and 365",
		},
		{
			name:    "retention not an integer",
			params:  map[string]any{"retention_days": "thirty"},
			wantMsg: "retention_days must be an integer",
		},
		{
			name:    "fractional retention",
			params:  map[string]any{"retention_days": 7.5},
			wantMsg: "retention_days must be an integer",
		},
		{
			name:    "dry_run not a bool",
			params:  map[string]any{"dry_run": "yes"},
			wantMsg: "dry_run must be a boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tmpl.ValidateParams(tt.params)
			if tt.wantMsg == "" {
				if err != nil {
					t.Errorf("ValidateParams() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestExecutionCleanup_ValidateParamsIsPure(t *testing.T) {
	tmpl := NewExecutionCleanupTemplate(&fakePruner{})
	params := map[string]any{"retention_days": float64(0)}

	first := tmpl.ValidateParams(params)
	second := tmpl.ValidateParams(params)
	if first == nil || second == nil || first.Error() != second.Error() {
		t.Errorf("ValidateParams not stable: %v then %v", first, second)
	}
}

func TestExecutionCleanup_Execute(t *testing.T) {
	pruner := &fakePruner{deleted: 12}
	tmpl := NewExecutionCleanupTemplate(pruner)
	ec := NewExecutionContext("job-1", "cleanup", map[string]any{"retention_days": float64(7)}, models.TriggeredByScheduler, "exec-1", nil)

	result, err := tmpl.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if result.RecordsAffected != 12 {
		t.Errorf("RecordsAffected = %d, want 12", result.RecordsAffected)
	}
	if !pruner.gotCall {
		t.Fatal("pruner was never called")
	}
	wantCutoff := time.Now().UTC().AddDate(0, 0, -7)
	if diff := pruner.cutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about 7 days ago", pruner.cutoff)
	}
	for _, status := range pruner.statuses {
		if status == models.StatusRunning {
			t.Error("cleanup must never target running records")
		}
	}
}

func TestExecutionCleanup_DryRun(t *testing.T) {
	pruner := &fakePruner{}
	tmpl := NewExecutionCleanupTemplate(pruner)
	ec := NewExecutionContext("job-1", "cleanup", map[string]any{"dry_run": true}, models.TriggeredByManual, "exec-1", nil)

	result, err := tmpl.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if pruner.gotCall {
		t.Error("dry run must not delete anything")
	}
}

func TestExecutionCleanup_PrunerFailure(t *testing.T) {
	pruner := &fakePruner{err: errors.New("connection lost")}
	tmpl := NewExecutionCleanupTemplate(pruner)
	ec := NewExecutionContext("job-1", "cleanup", nil, models.TriggeredByScheduler, "exec-1", nil)

	_, err := tmpl.Execute(context.Background(), ec)
	if err == nil {
		t.Fatal("expected error when the pruner fails")
	}
}

func TestNoop_Execute(t *testing.T) {
	tmpl := NewNoopTemplate()
	ec := NewExecutionContext("job-1", "heartbeat", map[string]any{"message": "ping"}, models.TriggeredByScheduler, "exec-1", nil)

	result, err := tmpl.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if result.Message != "ping" {
		t.Errorf("Message = %q, want %q", result.Message, "ping")
	}
	if len(ec.Logs()) == 0 {
		t.Error("noop must record its message in the execution log")
	}
}

func TestNoop_ValidateParams(t *testing.T) {
	tmpl := NewNoopTemplate()

	if err := tmpl.ValidateParams(map[string]any{"message": "ok"}); err != nil {
		t.Errorf("ValidateParams() error = %v, want nil", err)
	}
	if err := tmpl.ValidateParams(map[string]any{}); err != nil {
		t.Errorf("ValidateParams(empty) error = %v, want nil", err)
	}
	err := tmpl.ValidateParams(map[string]any{"message": 42})
	if err == nil || err.Error() != "message must be a string" {
		t.Errorf("error = %v, want %q", err, "message must be a string")
	}
}
