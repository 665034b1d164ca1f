package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/labelscan/models"
	"github.com/use-agent/labelscan/webhook"
)

// Scanner runs one scan. *scraper.Scraper satisfies it.
type Scanner interface {
	Scan(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error)
}

// Notifier delivers webhook events. *webhook.Sender satisfies it.
type Notifier interface {
	DeliverAsync(url, secret string, event *webhook.Event)
}

// Scan returns a handler for POST /api/v1/scan.
//
// Orchestration flow:
//  1. Parse & validate request.
//  2. Scanner.Scan → report + harvest summary.
//  3. Map ScanErrors to HTTP status codes.
//  4. Deliver the response to webhook_url, if any.
func Scan(sc Scanner, notifier Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScanResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// ── 2. Scan ─────────────────────────────────────────────────
		resp, err := sc.Scan(c.Request.Context(), &req)

		// ── 3. Respond ──────────────────────────────────────────────
		if err != nil {
			se := toScanError(err)
			failed := &models.ScanResponse{
				Success: false,
				Error:   se.ToDetail(),
				Timing:  models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()},
			}
			notify(notifier, &req, webhook.EventScanFailed, "", failed)
			c.JSON(mapErrorToStatus(se), failed)
			return
		}

		// ── 4. Webhook ──────────────────────────────────────────────
		notify(notifier, &req, webhook.EventScanCompleted, resp.RunID, resp)
		c.JSON(http.StatusOK, resp)
	}
}

func notify(n Notifier, req *models.ScanRequest, eventType, runID string, resp *models.ScanResponse) {
	if n == nil || req.WebhookURL == "" {
		return
	}
	slog.Debug("queueing webhook", "event", eventType, "run_id", runID, "url", req.WebhookURL)
	n.DeliverAsync(req.WebhookURL, req.WebhookSecret, webhook.NewEvent(eventType, runID, resp))
}

func toScanError(err error) *models.ScanError {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScanError(models.ErrCodeInternal, err.Error(), err)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScanError) int {
	switch e.Code {
	case models.ErrCodeConnection:
		return http.StatusBadGateway // 502
	case models.ErrCodeNoTargetPage:
		return http.StatusConflict // 409
	case models.ErrCodeNoImages:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
