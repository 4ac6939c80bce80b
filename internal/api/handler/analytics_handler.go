package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultAnalyticsWindow = 7 * 24 * time.Hour

// sinceParam parses the optional ?since= query, defaulting to a 7 day
// window.
func sinceParam(c *gin.Context) (time.Time, bool) {
	v := c.Query("since")
	if v == "" {
		return time.Now().Add(-defaultAnalyticsWindow), true
	}
	since, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
		return time.Time{}, false
	}
	return since, true
}

// ExecutionSummary handles GET /api/v1/analytics/summary
func (h *JobHandler) ExecutionSummary(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	summary, err := h.store.ExecutionSummarySince(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to compute execution summary", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// FailureBreakdown handles GET /api/v1/analytics/failures
func (h *JobHandler) FailureBreakdown(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	counts, err := h.store.FailureCountsByCategory(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to compute failure breakdown", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"failures": counts})
}

// ExecutionTrend handles GET /api/v1/analytics/trend
func (h *JobHandler) ExecutionTrend(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	trend, err := h.store.ExecutionTrend(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to compute execution trend", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trend": trend})
}
