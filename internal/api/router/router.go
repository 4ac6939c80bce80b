package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantpulse/datafeed/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "datafeed-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.PATCH("/:job_id", jobHandler.UpdateJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)

			jobs.POST("/:job_id/pause", jobHandler.PauseJob)
			jobs.POST("/:job_id/resume", jobHandler.ResumeJob)
			jobs.POST("/:job_id/run", jobHandler.TriggerJob)

			jobs.GET("/:job_id/executions", jobHandler.ListExecutions)
		}

		v1.GET("/collection-logs", jobHandler.ListLogEntries)

		analytics := v1.Group("/analytics")
		{
			analytics.GET("/summary", jobHandler.ExecutionSummary)
			analytics.GET("/failures", jobHandler.FailureBreakdown)
			analytics.GET("/trend", jobHandler.ExecutionTrend)
		}
	}

	return r
}
