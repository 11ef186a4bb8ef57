package templates

import (
	"context"
	"fmt"

	"github.com/l3v3l/core/pkg/models"
)

// NoopTemplate is a heartbeat template used to verify the scheduling
// pipeline end to end without side effects.
type NoopTemplate struct {
	Base
}

// NewNoopTemplate creates the noop template
func NewNoopTemplate() *NoopTemplate {
	return &NoopTemplate{}
}

func (t *NoopTemplate) Type() string        { return "noop" }
func (t *NoopTemplate) Name() string        { return "No-op" }
func (t *NoopTemplate) Description() string { return "Log a message and succeed; used for testing schedules" }
func (t *NoopTemplate) Category() string    { return "testing" }

func (t *NoopTemplate) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to record in the execution log",
				"default":     "noop",
			},
		},
		"required": []string{},
	}
}

func (t *NoopTemplate) DefaultParams() map[string]any {
	return map[string]any{"message": "noop"}
}

func (t *NoopTemplate) ValidateParams(params map[string]any) error {
	if raw, ok := params["message"]; ok {
		if _, isString := raw.(string); !isString {
			return fmt.Errorf("message must be a string")
		}
	}
	return nil
}

func (t *NoopTemplate) Execute(ctx context.Context, ec *ExecutionContext) (*models.JobResult, error) {
	message := ec.StringParam("message", "noop")
	ec.Logf("info", "noop: %s", message)

	return &models.JobResult{
		Status:  models.StatusSuccess,
		Message: message,
		Details: map[string]any{"triggered_by": ec.TriggeredBy},
	}, nil
}
