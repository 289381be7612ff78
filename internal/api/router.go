package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires the HTTP routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(h.serviceName))

	router.POST("/sync/force", h.ForceSync)
	router.GET("/sync/status", h.SyncStatus)
	router.POST("/orders/fbo/backfill", h.OrdersBackfill)
	router.GET("/health", h.HealthCheck)

	return router
}
