package handler

import (
	"net/http"
	"strconv"

	"forum-alpha/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// GetAnalyses returns the newest analysis records, optionally filtered by
// ?ticker= and bounded by ?limit= (default 50, max 200).
func (h *Handler) GetAnalyses(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-analyses")
	defer span.End()

	ticker := c.Query("ticker")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}
	span.SetAttributes(attribute.String("ticker", ticker), attribute.Int("limit", limit))

	records, err := h.analyses.RecentAnalyses(ctx, ticker, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []domain.AnalysisRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"analyses": records, "count": len(records)})
}

// GetStatus reports the poller phase plus ledger size.
func (h *Handler) GetStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-status")
	defer span.End()

	seen, err := h.analyses.CountSeen(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"poller":     h.poller.Status(),
		"seen_items": seen,
	})
}
