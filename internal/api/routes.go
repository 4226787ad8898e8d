package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", handler.Metrics)

	// API v1
	v1 := router.Group("/api/v1")
	{
		tools := v1.Group("/tools")
		{
			tools.GET("", handler.ListTools)
			tools.POST("/:name/call", handler.CallTool)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", handler.ListRuns)
			runs.GET("/:id", handler.GetRun)
		}
	}

	return router
}
