package templates

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l3v3l/core/pkg/models"
)

func TestWebhook_ValidateParams(t *testing.T) {
	tmpl := NewWebhookTemplate(nil)

	tests := []struct {
		name    string
		params  map[string]any
		wantMsg string
	}{
		{
			name:   "valid minimal",
			params: map[string]any{"url": "https://example.com/hook"},
		},
		{
			name: "valid full",
			params: map[string]any{
				"url":             "http://example.com/hook",
				"method":          "PUT",
				"timeout_seconds": float64(60),
			},
		},
		{
			name:    "missing url",
			params:  map[string]any{},
			wantMsg: "Webhook URL is required",
		},
		{
			name:    "bad scheme",
			params:  map[string]any{"url": "ftp://example.com"},
			wantMsg: "URL must start with http:// or https://",
		},
		{
			name:    "bad method",
			params:  map[string]any{"url": "https://example.com", "method": "DELETE"},
			wantMsg: "Invalid HTTP method",
		},
		{
			name:    "timeout out of range",
			params:  map[string]any{"url": "https://example.com", "timeout_seconds": float64(500)},
			wantMsg: "Timeout must be between 1 and 300 seconds",
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
			if err == nil || err.Error() != tt.wantMsg {
				t.Errorf("error = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestWebhook_Execute(t *testing.T) {
	var gotMethod, gotHeader string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tmpl := NewWebhookTemplate(srv.Client())
	ec := NewExecutionContext("job-1", "hook", map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"body":    map[string]any{"event": "tick"},
		"headers": map[string]any{"X-Token": "secret"},
	}, models.TriggeredByScheduler, "exec-1", nil)

	result, err := tmpl.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != models.StatusSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if gotMethod != "POST" {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotHeader != "secret" {
		t.Errorf("X-Token = %q, want the configured header", gotHeader)
	}
	if gotBody["event"] != "tick" {
		t.Errorf("body = %v, want the configured payload", gotBody)
	}
}

func TestWebhook_ExecuteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tmpl := NewWebhookTemplate(srv.Client())
	ec := NewExecutionContext("job-1", "hook", map[string]any{"url": srv.URL}, models.TriggeredByScheduler, "exec-1", nil)

	result, err := tmpl.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute() error = %v; HTTP error statuses are a failed result, not an error", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed for a 502 response", result.Status)
	}
	if len(result.Errors) == 0 {
		t.Error("failed result must carry the status error")
	}
}

func TestWebhook_ExecuteUnreachable(t *testing.T) {
	tmpl := NewWebhookTemplate(nil)
	ec := NewExecutionContext("job-1", "hook", map[string]any{
		"url":             "http://127.0.0.1:1/unreachable",
		"timeout_seconds": float64(1),
	}, models.TriggeredByScheduler, "exec-1", nil)

	_, err := tmpl.Execute(context.Background(), ec)
	if err == nil {
		t.Fatal("expected a transport error for an unreachable endpoint")
	}
}
