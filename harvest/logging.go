package harvest

import (
	"context"
	"log/slog"
)

type runKey struct{}

type run struct {
	id     string
	logger *slog.Logger
}

// WithRunID returns a context whose harvest log lines carry run_id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, run{
		id:     id,
		logger: slog.Default().With("run_id", id),
	})
}

// RunID returns the run ID stored by WithRunID, or "".
func RunID(ctx context.Context) string {
	r, _ := ctx.Value(runKey{}).(run)
	return r.id
}

// Logger returns the run-scoped logger, or slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if r, ok := ctx.Value(runKey{}).(run); ok {
		return r.logger
	}
	return slog.Default()
}
