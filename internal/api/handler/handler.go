package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/jobs"
	"github.com/quantpulse/datafeed/internal/store"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Jobs   *jobs.Service
	Store  *store.Store
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   *jobs.Service
	store  *store.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		store:  deps.Store,
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var ce *domain.CollectionError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &ce) && ce.Kind == domain.ErrKindBadParams:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
