package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "covidseir/internal/errors"
	"covidseir/internal/middleware"
	"covidseir/internal/operations"
	"covidseir/internal/services"
)

// JobService is the asynchronous side of the simulation API.
type JobService interface {
	Enqueue(ctx context.Context, req services.SimulationRequest) (*operations.Job, error)
	GetJob(id string) (*operations.Job, error)
	ListJobs(filter operations.JobFilter) ([]*operations.Job, error)
	CancelJob(ctx context.Context, id string) (*operations.Job, error)
}

// JobHandler handles simulation job requests
type JobHandler struct {
	jobs         JobService
	validator    *middleware.Validator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService, validator *middleware.Validator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		jobs:         jobs,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "jobs")),
	}
}

// Routes returns a chi router for job endpoints
func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateJob)
	r.Get("/", h.ListJobs)
	r.Get("/{id}", h.GetJob)
	r.Delete("/{id}", h.CancelJob)
	return r
}

// CreateJob handles POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req services.SimulationRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "simulation job accepted",
		slog.String("job_id", job.ID),
		slog.String("country", req.Country))

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

// GetJob handles GET /api/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// ListJobs handles GET /api/jobs
// Query parameters: status, country, since (RFC 3339), limit.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status, ok := h.validator.QueryEnum(w, r, "status", []string{
		string(operations.JobStatusPending),
		string(operations.JobStatusRunning),
		string(operations.JobStatusCompleted),
		string(operations.JobStatusFailed),
		string(operations.JobStatusCancelled),
	}, "")
	if !ok {
		return
	}
	limit, ok := h.validator.QueryInt(w, r, "limit", 1, 1000, 100)
	if !ok {
		return
	}

	filter := operations.JobFilter{
		Status:  operations.JobStatus(status),
		Country: r.URL.Query().Get("country"),
		Limit:   limit,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.errorHandler.HandleError(w, r, apperrors.ErrValidation("since", "since must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = t
	}

	jobs, err := h.jobs.ListJobs(filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob handles DELETE /api/jobs/{id}
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.CancelJob(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}
