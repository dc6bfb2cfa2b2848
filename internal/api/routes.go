package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes on the given router
func SetupRoutes(router *gin.Engine, handler *Handler, hub *Hub, metrics http.Handler) {
	v1 := router.Group("/api/v1")
	{
		// System endpoints
		v1.GET("/status", handler.GetStatus)
		v1.GET("/config", handler.GetConfig)

		// Session endpoints
		v1.GET("/session", handler.GetSession)
		v1.POST("/session", handler.StartSession)
		v1.POST("/session/stop", handler.StopSession)
		v1.GET("/session/buckets", handler.GetBuckets)

		// Measurement helpers
		v1.GET("/servers", handler.GetServers)
		v1.GET("/quality", handler.GetQuality)
		v1.POST("/export", handler.Export)

		if hub != nil {
			v1.GET("/ws", ServeWebSocket(hub))
		}
	}

	// Health check endpoint (outside versioned API)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
}
