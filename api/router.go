package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/labelscan/api/handler"
	"github.com/use-agent/labelscan/api/middleware"
	"github.com/use-agent/labelscan/config"
)

// Service is what the router needs from the scan backend.
// *scraper.Scraper satisfies it.
type Service interface {
	handler.Scanner
	handler.Prober
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics are outside auth so monitoring probes always work.
// metricsHandler may be nil.
func NewRouter(svc Service, notifier handler.Notifier, metricsHandler http.Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(svc))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/scan", handler.Scan(svc, notifier))

	return r
}
