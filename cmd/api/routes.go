package main

import (
	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/internal/middleware"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
)

func setupRouter(api *API, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.Middleware())
	router.Use(middleware.Logger(logger))

	router.GET("/health", api.healthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// The browser client calls the bare paths; /api/v1 is the versioned mount
	setupClipRoutes(&router.RouterGroup, api, limiter)
	setupClipRoutes(router.Group("/api/v1"), api, limiter)

	return router
}

func setupClipRoutes(group *gin.RouterGroup, api *API, limiter *middleware.RateLimiter) {
	if limiter != nil {
		group = group.Group("", middleware.RateLimit(limiter))
	}

	group.POST("/formats", api.getFormats)
	group.POST("/download", api.downloadClip)
	group.POST("/thumbnails", api.getThumbnails)
	group.POST("/preview", api.previewVideo)
	group.GET("/preview", api.previewVideo)
	group.POST("/process-clip", api.processClip)
}
