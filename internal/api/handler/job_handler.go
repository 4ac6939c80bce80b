package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantpulse/datafeed/internal/api/dto"
	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/store"
)

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.jobs.Create(c.Request.Context(), req.ToJob(), req.ToDependencies())
	if err != nil {
		h.logger.Error("Failed to create job",
			slog.String("job_id", req.JobID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job, req.ToDependencies()))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, deps, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job, deps))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 50
	}
	if req.Limit > 200 {
		req.Limit = 200
	}

	list, err := h.jobs.List(c.Request.Context(), store.JobFilter{
		Status:    domain.JobStatus(req.Status),
		Symbol:    req.Symbol,
		AssetType: req.AssetType,
		Provider:  req.Provider,
		Limit:     req.Limit,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobResponse, len(list))}
	for i, job := range list {
		resp.Jobs[i] = dto.FromJob(job, nil)
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateJob handles PATCH /api/v1/jobs/:job_id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	jobID := c.Param("job_id")

	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.jobs.Update(c.Request.Context(), jobID, toJobUpdate(req))
	if err != nil {
		h.logger.Error("Failed to update job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job, nil))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.jobs.Delete(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PauseJob handles POST /api/v1/jobs/:job_id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.Pause(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job, nil))
}

// ResumeJob handles POST /api/v1/jobs/:job_id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.Resume(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job, nil))
}

// TriggerJob handles POST /api/v1/jobs/:job_id/run
func (h *JobHandler) TriggerJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.jobs.TriggerNow(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.FromJob(job, nil))
}

// ListExecutions handles GET /api/v1/jobs/:job_id/executions
func (h *JobHandler) ListExecutions(c *gin.Context) {
	jobID := c.Param("job_id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	// 404 for unknown jobs rather than an empty list.
	if _, _, err := h.jobs.Get(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	execs, err := h.store.ListExecutions(c.Request.Context(), jobID, limit)
	if err != nil {
		h.logger.Error("Failed to list executions",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

// ListLogEntries handles GET /api/v1/collection-logs
func (h *JobHandler) ListLogEntries(c *gin.Context) {
	var filter store.LogFilter

	if v := c.Query("asset_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "asset_id must be an integer"})
			return
		}
		filter.AssetID = id
	}
	filter.CollectorType = c.Query("collector_type")
	filter.Status = c.Query("status")
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.store.ListLogEntries(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list collection log", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func toJobUpdate(req dto.UpdateJobRequest) store.JobUpdate {
	upd := store.JobUpdate{
		Symbol:      req.Symbol,
		AssetType:   req.AssetType,
		Provider:    req.Provider,
		Incremental: req.Incremental,
		RangeStart:  req.RangeStart,
		RangeEnd:    req.RangeEnd,
	}
	if req.Params != nil {
		upd.Params = *req.Params
	}
	if req.Trigger != nil {
		trigger := domain.Trigger{
			Type:     domain.TriggerType(req.Trigger.Type),
			Interval: time.Duration(req.Trigger.IntervalSecs) * time.Second,
			CronExpr: req.Trigger.CronExpr,
		}
		upd.Trigger = &trigger
	}
	if req.Retry != nil {
		retry := domain.RetryPolicy{
			MaxRetries:        req.Retry.MaxRetries,
			InitialDelay:      time.Duration(req.Retry.InitialDelaySecs) * time.Second,
			BackoffMultiplier: req.Retry.BackoffMultiplier,
		}
		upd.Retry = &retry
	}
	return upd
}
