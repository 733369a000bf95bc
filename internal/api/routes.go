package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *zap.Logger, apiToken string) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(RequestLogger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(Auth(apiToken))
	{
		// Sync lifecycle
		v1.POST("/sync", handler.StartSync)
		v1.GET("/sync/status", handler.GetSyncStatus)

		// Repositories
		repos := v1.Group("/repos")
		{
			repos.GET("", handler.ListRepositories)
			repos.PATCH("/:id", handler.SetRepositoryTracked)
			repos.GET("/:id/stats/daily", handler.GetRepoDailyStats)
		}

		// Organization stats
		orgs := v1.Group("/orgs/:org")
		{
			orgs.GET("/stats", handler.GetOrgStats)
			orgs.GET("/stats/range", handler.GetOrgRangeStats)
		}
	}

	return router
}
