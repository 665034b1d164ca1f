package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/labelscan/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Prober reports browser reachability. *scraper.Scraper satisfies it.
type Prober interface {
	Ping() error
	DebugURL() string
	Uptime() time.Duration
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when the browser debugging endpoint does not answer;
// the response code stays 200 so probes can read the body.
func Health(p Prober) gin.HandlerFunc {
	return func(c *gin.Context) {
		browser := models.BrowserStatus{DebugURL: p.DebugURL(), Reachable: true}
		status := "healthy"
		if err := p.Ping(); err != nil {
			status = "degraded"
			browser.Reachable = false
			browser.Error = err.Error()
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  p.Uptime().Round(time.Second).String(),
			Browser: browser,
			Version: Version,
		})
	}
}
