package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
	"github.com/jonesrussell/gokb/internal/mirror"
)

// JobStore is the job repository surface the handler needs.
type JobStore interface {
	Get(ctx context.Context, tenantID, jobID string) (*domain.Job, error)
	List(ctx context.Context, tenantID string, status domain.JobStatus) ([]domain.Job, error)
	UpdateStatus(ctx context.Context, tenantID, jobID string, status domain.JobStatus, errMsg string) error
	Requeue(ctx context.Context, tenantID, jobID string) error
}

// RunStore lists execution attempts for a job.
type RunStore interface {
	ListForJob(ctx context.Context, tenantID, jobID string) ([]domain.JobRun, error)
}

// JobHandler handles job inspection and lifecycle requests.
type JobHandler struct {
	jobs     JobStore
	runs     RunStore
	recorder *mirror.Recorder
	logger   logger.Logger
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobs JobStore, runs RunStore, recorder *mirror.Recorder, log logger.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, runs: runs, recorder: recorder, logger: log}
}

// List handles GET /api/v1/jobs. An optional ?status= query narrows the
// result to one lifecycle state.
func (h *JobHandler) List(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))
	jobs, err := h.jobs.List(c.Request.Context(), tenantID(c), status)
	if err != nil {
		h.logger.Error("failed to list jobs", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

// Get handles GET /api/v1/jobs/:id and includes the job's run history.
func (h *JobHandler) Get(c *gin.Context) {
	tenant := tenantID(c)
	job, err := h.jobs.Get(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	runs, err := h.runs.ListForJob(c.Request.Context(), tenant, job.ID)
	if err != nil {
		h.logger.Error("failed to list job runs",
			logger.String("job_id", job.ID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list job runs"})
		return
	}
	if runs == nil {
		runs = []domain.JobRun{}
	}

	c.JSON(http.StatusOK, gin.H{"job": job, "runs": runs})
}

// Retry handles POST /api/v1/jobs/:id/retry. Only failed or canceled jobs
// can be re-enqueued; the attempt counter restarts from zero.
func (h *JobHandler) Retry(c *gin.Context) {
	tenant := tenantID(c)
	job, err := h.jobs.Get(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	if !job.CanRetry() {
		transitionErr := fmt.Errorf("%w: cannot retry %s job", domain.ErrInvalidTransition, job.Status)
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
		return
	}

	if err := h.jobs.Requeue(c.Request.Context(), tenant, job.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lost a race with another retry or a state change.
			transitionErr := fmt.Errorf("%w: cannot retry %s job", domain.ErrInvalidTransition, job.Status)
			c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
			return
		}
		h.logger.Error("failed to requeue job",
			logger.String("job_id", job.ID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}

	updated, err := h.jobs.Get(c.Request.Context(), tenant, job.ID)
	if err != nil {
		h.logger.Error("failed to reload job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}
	h.recorder.RecordJob(c.Request.Context(), updated)

	h.logger.Info("job retried",
		logger.String("tenant_id", tenant),
		logger.String("job_id", updated.ID))
	c.JSON(http.StatusOK, updated)
}

// Cancel handles POST /api/v1/jobs/:id/cancel. Queued and running jobs can
// be canceled; a cancellation always wins over a concurrent worker result.
func (h *JobHandler) Cancel(c *gin.Context) {
	tenant := tenantID(c)
	job, err := h.jobs.Get(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("failed to get job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	if !job.CanCancel() {
		transitionErr := fmt.Errorf("%w: cannot cancel %s job", domain.ErrInvalidTransition, job.Status)
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
		return
	}

	if err := h.jobs.UpdateStatus(c.Request.Context(), tenant, job.ID,
		domain.JobStatusCanceled, "canceled by user"); err != nil {
		h.logger.Error("failed to cancel job",
			logger.String("job_id", job.ID),
			logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}

	updated, err := h.jobs.Get(c.Request.Context(), tenant, job.ID)
	if err != nil {
		h.logger.Error("failed to reload job", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}
	h.recorder.RecordJob(c.Request.Context(), updated)

	h.logger.Info("job canceled",
		logger.String("tenant_id", tenant),
		logger.String("job_id", updated.ID))
	c.JSON(http.StatusOK, updated)
}
