package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/l3v3l/core/pkg/models"
)

// WebhookTemplate triggers an external HTTP endpoint on a schedule
type WebhookTemplate struct {
	Base
	client *http.Client
}

// NewWebhookTemplate creates the webhook template. A nil client gets a
// default with a conservative timeout; the per-job timeout_seconds parameter
// bounds the individual request.
func NewWebhookTemplate(client *http.Client) *WebhookTemplate {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &WebhookTemplate{client: client}
}

func (t *WebhookTemplate) Type() string      { return "webhook" }
func (t *WebhookTemplate) Name() string      { return "Webhook Trigger" }
func (t *WebhookTemplate) Category() string  { return "integrations" }
func (t *WebhookTemplate) RiskLevel() string { return "medium" }

func (t *WebhookTemplate) Description() string {
	return "Trigger external webhooks or API endpoints on a schedule"
}

func (t *WebhookTemplate) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Webhook URL to trigger",
				"format":      "uri",
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"enum":        []string{"GET", "POST", "PUT", "PATCH"},
				"default":     "POST",
			},
			"body": map[string]any{
				"type":        "object",
				"description": "JSON body sent with the request",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Additional request headers",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Request timeout",
				"minimum":     1,
				"maximum":     300,
				"default":     30,
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebhookTemplate) DefaultParams() map[string]any {
	return map[string]any{
		"method":          "POST",
		"timeout_seconds": 30,
	}
}

func (t *WebhookTemplate) ValidateParams(params map[string]any) error {
	url, _ := params["url"].(string)
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("Webhook URL is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}

	if raw, ok := params["method"]; ok {
		method, _ := raw.(string)
		switch method {
		case "GET", "POST", "PUT", "PATCH":
		default:
			return fmt.Errorf("Invalid HTTP method")
		}
	}

	if raw, ok := params["timeout_seconds"]; ok {
		timeout, err := intValue(raw)
		if err != nil || timeout < 1 || timeout > 300 {
			return fmt.Errorf("Timeout must be between 1 and 300 seconds")
		}
	}

	return nil
}

func (t *WebhookTemplate) Execute(ctx context.Context, ec *ExecutionContext) (*models.JobResult, error) {
	url := ec.StringParam("url", "")
	method := ec.StringParam("method", "POST")
	timeout := time.Duration(ec.IntParam("timeout_seconds", 30)) * time.Second

	var body io.Reader
	if raw, ok := ec.Parameters["body"]; ok && method != "GET" {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := ec.Parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, isString := value.(string); isString {
				req.Header.Set(key, s)
			}
		}
	}

	ec.Logf("info", "triggering webhook %s %s", method, url)
	start := time.Now()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused; the response payload itself is
	// not part of the result contract.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	elapsed := time.Since(start)
	ec.Logf("info", "webhook responded %d in %s", resp.StatusCode, elapsed)

	if resp.StatusCode >= 400 {
		return &models.JobResult{
			Status:  models.StatusFailed,
			Message: fmt.Sprintf("Webhook returned status %d", resp.StatusCode),
			Details: map[string]any{"status_code": resp.StatusCode, "url": url},
			Errors:  []string{fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, url)},
		}, nil
	}

	return &models.JobResult{
		Status:           models.StatusSuccess,
		Message:          fmt.Sprintf("Webhook triggered: %d", resp.StatusCode),
		Details:          map[string]any{"status_code": resp.StatusCode, "url": url},
		RecordsProcessed: 1,
		RecordsAffected:  1,
	}, nil
}
