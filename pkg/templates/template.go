package templates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/models"
)

// Template is the pluggable strategy a job definition selects by type key.
// Implementations must keep ValidateParams pure: identical input always
// yields an identical outcome.
type Template interface {
	// Type returns the registry key for this template
	Type() string

	// Name returns a human-readable template name
	Name() string

	// Description explains what jobs of this template do
	Description() string

	// Category groups templates for the admin UI
	Category() string

	// RiskLevel is advisory metadata: low, medium, high or critical
	RiskLevel() string

	// Schema returns a declarative parameter spec for UI and tooling
	Schema() map[string]any

	// DefaultParams returns the parameter defaults for new jobs
	DefaultParams() map[string]any

	// ValidateParams checks parameters before persistence. A nil return
	// means the parameters are valid.
	ValidateParams(params map[string]any) error

	// PreExecute runs before Execute. Returning false aborts the run with
	// status cancelled and skips Execute entirely.
	PreExecute(ctx context.Context, ec *ExecutionContext) bool

	// Execute performs the actual unit of work
	Execute(ctx context.Context, ec *ExecutionContext) (*models.JobResult, error)

	// OnError converts an unexpected failure into a structured result.
	// Implementations must not fail themselves.
	OnError(ec *ExecutionContext, err error) *models.JobResult

	// PostExecute runs unconditionally after the run, even on failure or
	// timeout. Its own failures are logged by the executor, never propagated.
	PostExecute(ctx context.Context, ec *ExecutionContext, result *models.JobResult)
}

// Metadata is the template description served by the admin surface
type Metadata struct {
	Type             string         `json:"type"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	RiskLevel        string         `json:"risk_level"`
	ParametersSchema map[string]any `json:"parameters_schema"`
}

// MetadataFor assembles the metadata document for a template
func MetadataFor(t Template) Metadata {
	return Metadata{
		Type:             t.Type(),
		Name:             t.Name(),
		Description:      t.Description(),
		Category:         t.Category(),
		RiskLevel:        t.RiskLevel(),
		ParametersSchema: t.Schema(),
	}
}

// ExecutionContext carries per-run state into template hooks. The log sink
// is safe for concurrent use; collected entries end up on the execution
// record.
type ExecutionContext struct {
	JobID       string
	JobName     string
	Parameters  map[string]any
	TriggeredBy string
	ExecutionID string

	logger *logger.Logger

	mu   sync.Mutex
	logs []models.LogEntry
}

// NewExecutionContext creates a context for one run
func NewExecutionContext(jobID, jobName string, params map[string]any, triggeredBy, executionID string, log *logger.Logger) *ExecutionContext {
	if params == nil {
		params = map[string]any{}
	}
	if log == nil {
		log = logger.New("job-execution")
	}
	return &ExecutionContext{
		JobID:       jobID,
		JobName:     jobName,
		Parameters:  params,
		TriggeredBy: triggeredBy,
		ExecutionID: executionID,
		logger:      log,
	}
}

// Log appends an entry to the execution log and mirrors it to the service log
func (ec *ExecutionContext) Log(level, message string) {
	entry := models.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}

	ec.mu.Lock()
	ec.logs = append(ec.logs, entry)
	ec.mu.Unlock()

	event := ec.logger.Info()
	switch level {
	case "debug":
		event = ec.logger.Debug()
	case "warn":
		event = ec.logger.Warn()
	case "error":
		event = ec.logger.Error()
	}
	event.
		Str("job_name", ec.JobName).
		Str("execution_id", ec.ExecutionID).
		Msg(message)
}

// Logf formats and appends an entry to the execution log
func (ec *ExecutionContext) Logf(level, format string, args ...any) {
	ec.Log(level, fmt.Sprintf(format, args...))
}

// Logs returns a copy of the collected entries
func (ec *ExecutionContext) Logs() []models.LogEntry {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]models.LogEntry, len(ec.logs))
	copy(out, ec.logs)
	return out
}

// StringParam reads a string parameter with a fallback
func (ec *ExecutionContext) StringParam(key, fallback string) string {
	if v, ok := ec.Parameters[key].(string); ok {
		return v
	}
	return fallback
}

// IntParam reads an integer parameter with a fallback. JSON decoding yields
// float64 for numbers, so both forms are accepted.
func (ec *ExecutionContext) IntParam(key string, fallback int) int {
	switch v := ec.Parameters[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// BoolParam reads a boolean parameter with a fallback
func (ec *ExecutionContext) BoolParam(key string, fallback bool) bool {
	if v, ok := ec.Parameters[key].(bool); ok {
		return v
	}
	return fallback
}

// Base provides the default hook behavior templates embed. Execute and the
// identity methods stay with the concrete template.
type Base struct{}

// PreExecute allows the run by default
func (Base) PreExecute(ctx context.Context, ec *ExecutionContext) bool {
	ec.Logf("info", "starting job execution: %s", ec.JobName)
	return true
}

// PostExecute records the outcome by default
func (Base) PostExecute(ctx context.Context, ec *ExecutionContext, result *models.JobResult) {
	if result != nil {
		ec.Logf("info", "job execution completed: %s", result.Status)
	}
}

// OnError converts an unexpected failure into a failed result
func (Base) OnError(ec *ExecutionContext, err error) *models.JobResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if ec != nil {
		ec.Logf("error", "job execution failed: %s", msg)
	}
	return &models.JobResult{
		Status:  models.StatusFailed,
		Message: "Job execution failed: " + msg,
		Errors:  []string{msg},
	}
}

// Category default for templates that do not override it
func (Base) Category() string { return "general" }

// RiskLevel default for templates that do not override it
func (Base) RiskLevel() string { return "low" }

// DefaultParams default for templates without parameters
func (Base) DefaultParams() map[string]any { return map[string]any{} }
