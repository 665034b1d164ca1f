package harvest

import (
	"context"
	"errors"

	"github.com/use-agent/labelscan/models"
)

// categorizeError wraps raw errors into typed ScanErrors so callers can map
// them to exit codes and HTTP statuses.
func categorizeError(err error, msg string) *models.ScanError {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScanError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeTimeout, "scan canceled", err)
	default:
		return models.NewScanError(models.ErrCodeInternal, msg, err)
	}
}
