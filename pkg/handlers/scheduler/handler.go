package scheduler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/l3v3l/core/pkg/jobs"
	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/models"
	"github.com/l3v3l/core/pkg/models/api"
	"github.com/l3v3l/core/pkg/templates"
)

// Handler exposes the dynamic scheduler admin surface
type Handler struct {
	registry  *jobs.Registry
	executor  *jobs.Executor
	templates *templates.Registry
	loop      *jobs.Scheduler
	store     jobs.Store
	validate  *validator.Validate
	logger    *logger.Logger
}

// NewHandler creates the scheduler admin handler. The loop may be nil when
// the API runs without an embedded scheduler.
func NewHandler(registry *jobs.Registry, executor *jobs.Executor, tmpl *templates.Registry, loop *jobs.Scheduler, store jobs.Store, log *logger.Logger) *Handler {
	return &Handler{
		registry:  registry,
		executor:  executor,
		templates: tmpl,
		loop:      loop,
		store:     store,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    log,
	}
}

type scheduleRequest struct {
	Type            string `json:"type" validate:"required,oneof=interval cron"`
	IntervalSeconds int    `json:"interval_seconds" validate:"omitempty,min=1"`
	Expression      string `json:"expression"`
	Timezone        string `json:"timezone"`
}

type retryPolicyRequest struct {
	MaxRetries        int `json:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int `json:"retry_delay_seconds" validate:"min=1"`
}

type notificationsRequest struct {
	OnSuccess []string `json:"on_success"`
	OnFailure []string `json:"on_failure"`
}

type createJobRequest struct {
	Name           string                `json:"name" validate:"required,min=1,max=200"`
	Description    string                `json:"description" validate:"max=1000"`
	TemplateType   string                `json:"template_type" validate:"required"`
	Parameters     map[string]any        `json:"parameters"`
	Schedule       scheduleRequest       `json:"schedule" validate:"required"`
	Enabled        *bool                 `json:"enabled"`
	TimeoutSeconds int                   `json:"timeout_seconds" validate:"omitempty,min=1,max=86400"`
	AllowOverlap   bool                  `json:"allow_overlap"`
	RetryPolicy    *retryPolicyRequest   `json:"retry_policy" validate:"omitempty"`
	Notifications  *notificationsRequest `json:"notifications"`
}

type updateJobRequest struct {
	Name           *string               `json:"name" validate:"omitempty,min=1,max=200"`
	Description    *string               `json:"description" validate:"omitempty,max=1000"`
	TemplateType   *string               `json:"template_type"`
	Parameters     map[string]any        `json:"parameters"`
	Schedule       *scheduleRequest      `json:"schedule"`
	Enabled        *bool                 `json:"enabled"`
	TimeoutSeconds *int                  `json:"timeout_seconds" validate:"omitempty,min=1,max=86400"`
	AllowOverlap   *bool                 `json:"allow_overlap"`
	RetryPolicy    *retryPolicyRequest   `json:"retry_policy" validate:"omitempty"`
	Notifications  *notificationsRequest `json:"notifications"`
}

func toSchedule(req scheduleRequest) models.Schedule {
	return models.Schedule{
		Type:            models.ScheduleType(req.Type),
		IntervalSeconds: req.IntervalSeconds,
		Expression:      req.Expression,
		Timezone:        req.Timezone,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, api.Response{Success: false, Error: message})
}

// CreateJob handles POST /api/admin/scheduler/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := &models.JobDefinition{
		Name:           req.Name,
		Description:    req.Description,
		TemplateType:   req.TemplateType,
		Parameters:     req.Parameters,
		Schedule:       toSchedule(req.Schedule),
		Enabled:        req.Enabled == nil || *req.Enabled,
		TimeoutSeconds: req.TimeoutSeconds,
		AllowOverlap:   req.AllowOverlap,
	}
	if req.RetryPolicy != nil {
		def.RetryPolicy = models.RetryPolicy{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			RetryDelaySeconds: req.RetryPolicy.RetryDelaySeconds,
		}
	}
	if req.Notifications != nil {
		def.Notifications = models.NotificationConfig{
			OnSuccess: req.Notifications.OnSuccess,
			OnFailure: req.Notifications.OnFailure,
		}
	}

	createdBy := r.Header.Get("X-User")
	if createdBy == "" {
		createdBy = "admin"
	}

	job, err := h.registry.CreateJob(r.Context(), def, createdBy)
	if err != nil {
		if errors.Is(err, jobs.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		// Validation failures carry the template validator's message verbatim
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, api.Response{Success: true, Data: job})
}

// ListJobs handles GET /api/admin/scheduler/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter jobs.JobFilter
	if raw := query.Get("enabled"); raw != "" {
		enabled := raw == "true"
		filter.Enabled = &enabled
	}
	filter.TemplateType = query.Get("template_type")

	page := jobs.Page{
		Skip:  queryInt(query.Get("skip"), 0),
		Limit: queryInt(query.Get("limit"), 50),
	}.Normalize()

	list, err := h.registry.ListJobs(r.Context(), filter, page)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	pages := int((list.Total + int64(page.Limit) - 1) / int64(page.Limit))
	h.writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: api.JobListResponse{
			Jobs:  list.Jobs,
			Total: list.Total,
			Page:  page.Skip/page.Limit + 1,
			Pages: pages,
			Limit: page.Limit,
		},
	})
}

// GetJob handles GET /api/admin/scheduler/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.registry.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to fetch job")
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: job})
}

// UpdateJob handles PUT /api/admin/scheduler/jobs/{id}
func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	patch := jobs.JobPatch{
		Name:           req.Name,
		Description:    req.Description,
		TemplateType:   req.TemplateType,
		Parameters:     req.Parameters,
		Enabled:        req.Enabled,
		TimeoutSeconds: req.TimeoutSeconds,
		AllowOverlap:   req.AllowOverlap,
	}
	if req.Schedule != nil {
		schedule := toSchedule(*req.Schedule)
		patch.Schedule = &schedule
	}
	if req.RetryPolicy != nil {
		patch.RetryPolicy = &models.RetryPolicy{
			MaxRetries:        req.RetryPolicy.MaxRetries,
			RetryDelaySeconds: req.RetryPolicy.RetryDelaySeconds,
		}
	}
	if req.Notifications != nil {
		patch.Notifications = &models.NotificationConfig{
			OnSuccess: req.Notifications.OnSuccess,
			OnFailure: req.Notifications.OnFailure,
		}
	}

	job, err := h.registry.UpdateJob(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, jobs.ErrDuplicateName):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: job})
}

// DeleteJob handles DELETE /api/admin/scheduler/jobs/{id}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to delete job")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true})
}

// RunJob handles POST /api/admin/scheduler/jobs/{id}/run. Manual runs never
// perturb the job's regular cadence.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	triggeredBy := r.Header.Get("X-User")
	if triggeredBy == "" {
		triggeredBy = models.TriggeredByManual
	}

	rec, err := h.executor.ExecuteJobByID(r.Context(), r.PathValue("id"), triggeredBy)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, jobs.ErrJobDisabled):
			h.writeError(w, http.StatusConflict, "Job is disabled")
		case errors.Is(err, jobs.ErrAlreadyRunning):
			h.writeError(w, http.StatusConflict, "Job execution already in progress")
		default:
			h.logger.Error().Err(err).Msg("Failed to execute job")
			h.writeError(w, http.StatusInternalServerError, "Failed to execute job")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: rec})
}

// ListJobExecutions handles GET /api/admin/scheduler/jobs/{id}/executions
func (h *Handler) ListJobExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.ExecutionFilter{
		JobID:  r.PathValue("id"),
		Status: models.ExecutionStatus(query.Get("status")),
	}
	page := jobs.Page{
		Skip:  queryInt(query.Get("skip"), 0),
		Limit: queryInt(query.Get("limit"), 50),
	}.Normalize()

	h.listExecutions(w, r, filter, page)
}

// ListExecutions handles GET /api/admin/scheduler/executions
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.ExecutionFilter{
		JobID:  query.Get("job_id"),
		Status: models.ExecutionStatus(query.Get("status")),
	}
	page := jobs.Page{
		Skip:  queryInt(query.Get("skip"), 0),
		Limit: queryInt(query.Get("limit"), 50),
	}.Normalize()

	h.listExecutions(w, r, filter, page)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request, filter jobs.ExecutionFilter, page jobs.Page) {
	executions, err := h.executor.ListExecutions(r.Context(), filter, page)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list executions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list executions")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: api.ExecutionListResponse{
			Executions: executions,
			Limit:      page.Limit,
			Skip:       page.Skip,
		},
	})
}

// GetExecution handles GET /api/admin/scheduler/executions/{id}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := h.executor.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrExecutionNotFound) {
			h.writeError(w, http.StatusNotFound, "Execution not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to fetch execution")
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch execution")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: rec})
}

// DeleteExecution handles DELETE /api/admin/scheduler/executions/{id}
func (h *Handler) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	if err := h.executor.DeleteExecution(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, jobs.ErrExecutionNotFound) {
			h.writeError(w, http.StatusNotFound, "Execution not found")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to delete execution")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete execution")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true})
}

// ListTemplates handles GET /api/admin/scheduler/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	metadata := h.templates.Metadata()
	h.writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data:    metadata,
		Meta:    map[string]any{"count": len(metadata)},
	})
}

// GetTemplate handles GET /api/admin/scheduler/templates/{type}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.templates.Get(r.PathValue("type"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: templates.MetadataFor(tmpl)})
}

// Status handles GET /api/admin/scheduler/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	all, err := h.registry.ListJobs(ctx, jobs.JobFilter{}, jobs.Page{Limit: 1})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count jobs")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}
	enabled := true
	enabledJobs, err := h.registry.ListJobs(ctx, jobs.JobFilter{Enabled: &enabled}, jobs.Page{Limit: 1})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count enabled jobs")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}
	running, err := h.store.CountRunning(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count running executions")
		h.writeError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}

	status := api.SchedulerStatusResponse{
		TotalJobs:         all.Total,
		EnabledJobs:       enabledJobs.Total,
		RunningExecutions: running,
		TemplateCount:     h.templates.Count(),
	}
	if h.loop != nil {
		status.Running = h.loop.Running()
		status.Workers = h.loop.Workers()
	}

	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: status})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
