package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"failure-backfill/internal/logging"
)

// NewRouter wires the status and submission endpoints.
func NewRouter(logger *logging.Logger, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v0")
	{
		api.GET("/batches/latest", h.GetLatestBatch)
		api.GET("/stats", h.GetStats)
		api.POST("/failures", h.SubmitFailure)
		api.GET("/ws", h.StreamBatches)
	}
	return r
}
