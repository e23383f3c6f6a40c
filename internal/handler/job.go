package handler

import (
	"log/slog"
	"net/http"

	"storyloom/internal/domain/models"
	"storyloom/internal/httputil"
	"storyloom/internal/service/scheduler"
)

// JobHandler handles job HTTP requests
type JobHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(sched *scheduler.Scheduler, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		scheduler: sched,
		logger:    logger,
	}
}

// CreateJob enqueues a new job in the waiting state
// POST /api/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.scheduler.Enqueue(r.Context(), &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// 202: the job runs asynchronously, poll GET /api/jobs/{id} for state.
	httputil.RespondJSON(w, http.StatusAccepted, job)
}

// GetJob returns a job's current state
// GET /api/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, job)
}

// GetJobLogs returns a job's log entries in append order
// GET /api/jobs/{id}/logs
func (h *JobHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.scheduler.Logs(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// CancelJob requests cooperative cancellation
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.scheduler.RequestCancel(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	job, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, job)
}
