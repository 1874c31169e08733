package types

import (
	"context"
	"log/slog"
)

// RunContext carries the per-invocation state every pipeline component
// needs: the logger and the run's fixed parameters. It is built once in
// main and passed explicitly; there is no process-wide singleton.
type RunContext struct {
	RunID          string
	Logger         *slog.Logger
	EnsembleMember string
	// Label prefixes every output artifact name (e.g. "chess-scape").
	Label     string
	OutputDir string
	// Workers bounds the number of grid points emitted concurrently.
	Workers int
	// Overwrite rewrites artifacts that already exist instead of skipping them.
	Overwrite bool
}

// Log returns the run's logger, falling back to slog.Default.
func (rc *RunContext) Log() *slog.Logger {
	if rc == nil || rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger from the context.
// Returns nil if no logger has been set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return nil
}
