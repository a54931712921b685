package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/gokb/internal/domain"
	"github.com/jonesrussell/gokb/internal/logger"
)

// KbStore is the knowledge-base repository surface the handler needs.
type KbStore interface {
	List(ctx context.Context, tenantID string, category domain.Category) ([]domain.KbEntry, error)
	Search(ctx context.Context, tenantID, query string) ([]domain.KbEntry, error)
}

// KbHandler serves knowledge-base browsing and search.
type KbHandler struct {
	kb     KbStore
	logger logger.Logger
}

// NewKbHandler creates a knowledge-base handler.
func NewKbHandler(kb KbStore, log logger.Logger) *KbHandler {
	return &KbHandler{kb: kb, logger: log}
}

// List handles GET /api/v1/kb. A ?q= query searches titles and summaries;
// otherwise results are listed, optionally narrowed by ?category=.
func (h *KbHandler) List(c *gin.Context) {
	tenant := tenantID(c)

	var entries []domain.KbEntry
	var err error
	if query := c.Query("q"); query != "" {
		entries, err = h.kb.Search(c.Request.Context(), tenant, query)
	} else {
		entries, err = h.kb.List(c.Request.Context(), tenant, domain.Category(c.Query("category")))
	}
	if err != nil {
		h.logger.Error("failed to list kb entries", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list entries"})
		return
	}
	if entries == nil {
		entries = []domain.KbEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Categories handles GET /api/v1/kb/categories.
func (h *KbHandler) Categories(c *gin.Context) {
	c.JSON(http.StatusOK, domain.Categories)
}
