package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

// ExecutionPruner deletes finalized execution records older than a cutoff.
// The job store satisfies this; the template only needs the one operation.
type ExecutionPruner interface {
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time, statuses []models.ExecutionStatus) (int64, error)
}

// ExecutionCleanupTemplate prunes old execution history so the audit log
// does not grow without bound. Running records are never touched.
type ExecutionCleanupTemplate struct {
	Base
	pruner ExecutionPruner
}

// NewExecutionCleanupTemplate creates the cleanup template
func NewExecutionCleanupTemplate(pruner ExecutionPruner) *ExecutionCleanupTemplate {
	return &ExecutionCleanupTemplate{pruner: pruner}
}

func (t *ExecutionCleanupTemplate) Type() string     { return "execution_cleanup" }
func (t *ExecutionCleanupTemplate) Name() string     { return "Execution History Cleanup" }
func (t *ExecutionCleanupTemplate) Category() string { return "maintenance" }

func (t *ExecutionCleanupTemplate) Description() string {
	return "Delete finalized execution records older than the retention window"
}

func (t *ExecutionCleanupTemplate) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"retention_days": map[string]any{
				"type":        "integer",
				"description": "Days of execution history to keep",
				"minimum":     1,
				"maximum":     365,
				"default":     30,
			},
			"dry_run": map[string]any{
				"type":        "boolean",
				"description": "Count matching records without deleting",
				"default":     false,
			},
		},
		"required": []string{},
	}
}

func (t *ExecutionCleanupTemplate) DefaultParams() map[string]any {
	return map[string]any{
		"retention_days": 30,
		"dry_run":        false,
	}
}

func (t *ExecutionCleanupTemplate) ValidateParams(params map[string]any) error {
	if raw, ok := params["retention_days"]; ok {
		days, err := intValue(raw)
		if err != nil {
			return fmt.Errorf("retention_days must be an integer")
		}
		if days < 1 || days > 365 {
			return fmt.Errorf("retention_days must be between 1 and 365")
		}
	}
	if raw, ok := params["dry_run"]; ok {
		if _, isBool := raw.(bool); !isBool {
			return fmt.Errorf("dry_run must be a boolean")
		}
	}
	return nil
}

func (t *ExecutionCleanupTemplate) Execute(ctx context.Context, ec *ExecutionContext) (*models.JobResult, error) {
	retentionDays := ec.IntParam("retention_days", 30)
	dryRun := ec.BoolParam("dry_run", false)
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	terminal := []models.ExecutionStatus{
		models.StatusSuccess,
		models.StatusFailed,
		models.StatusTimeout,
		models.StatusCancelled,
	}

	ec.Logf("info", "pruning executions finalized before %s (dry_run=%t)", cutoff.Format(time.RFC3339), dryRun)

	if dryRun {
		return &models.JobResult{
			Status:  models.StatusSuccess,
			Message: "Dry run: no records deleted",
			Details: map[string]any{"cutoff": cutoff},
		}, nil
	}

	deleted, err := t.pruner.DeleteExecutionsBefore(ctx, cutoff, terminal)
	if err != nil {
		return nil, fmt.Errorf("failed to prune executions: %w", err)
	}

	ec.Logf("info", "deleted %d execution records", deleted)

	return &models.JobResult{
		Status:           models.StatusSuccess,
		Message:          fmt.Sprintf("Deleted %d execution records older than %d days", deleted, retentionDays),
		Details:          map[string]any{"cutoff": cutoff},
		RecordsProcessed: int(deleted),
		RecordsAffected:  int(deleted),
	}, nil
}

// intValue coerces JSON numbers, which decode as float64, into ints
func intValue(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("not an integer")
}
