package api

import (
	"time"

	"github.com/l3v3l/core/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the standard API envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// JobListResponse is one page of job definitions
type JobListResponse struct {
	Jobs  []*models.JobDefinition `json:"jobs"`
	Total int64                   `json:"total"`
	Page  int                     `json:"page"`
	Pages int                     `json:"pages"`
	Limit int                     `json:"limit"`
}

// ExecutionListResponse is one page of execution records
type ExecutionListResponse struct {
	Executions []*models.ExecutionRecord `json:"executions"`
	Limit      int                       `json:"limit"`
	Skip       int                       `json:"skip"`
}

// SchedulerStatusResponse summarizes the engine for the admin UI
type SchedulerStatusResponse struct {
	Running           bool  `json:"running"`
	Workers           int   `json:"workers"`
	TotalJobs         int64 `json:"total_jobs"`
	EnabledJobs       int64 `json:"enabled_jobs"`
	RunningExecutions int64 `json:"running_executions"`
	TemplateCount     int   `json:"template_count"`
}
