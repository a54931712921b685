package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
)

// JobCounter aggregates a tenant's jobs by status.
type JobCounter interface {
	CountByStatus(ctx context.Context, tenantID string) (map[domain.JobStatus]int64, error)
}

// FileCounter counts a tenant's files.
type FileCounter interface {
	Count(ctx context.Context, tenantID string) (int64, error)
}

// KbCounter counts a tenant's knowledge-base entries.
type KbCounter interface {
	Count(ctx context.Context, tenantID string) (int64, error)
}

// StatsHandler serves the tenant dashboard summary.
type StatsHandler struct {
	jobs   JobCounter
	files  FileCounter
	kb     KbCounter
	logger logger.Logger
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(jobs JobCounter, files FileCounter, kb KbCounter, log logger.Logger) *StatsHandler {
	return &StatsHandler{jobs: jobs, files: files, kb: kb, logger: log}
}

// Get handles GET /api/v1/stats.
func (h *StatsHandler) Get(c *gin.Context) {
	tenant := tenantID(c)
	ctx := c.Request.Context()

	jobCounts, err := h.jobs.CountByStatus(ctx, tenant)
	if err != nil {
		h.logger.Error("failed to count jobs", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	fileCount, err := h.files.Count(ctx, tenant)
	if err != nil {
		h.logger.Error("failed to count files", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	kbCount, err := h.kb.Count(ctx, tenant)
	if err != nil {
		h.logger.Error("failed to count kb entries", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	var total int64
	for _, n := range jobCounts {
		total += n
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":      tenant,
		"files":          fileCount,
		"kb_entries":     kbCount,
		"jobs_total":     total,
		"jobs_by_status": jobCounts,
	})
}
