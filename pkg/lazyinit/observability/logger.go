// Package observability provides structured logging, metrics, and tracing
// hooks for lazy initialization.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// The hooks only run on the initialization slow path; reads of an already
// initialized value never touch them.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds cell context to a logger.
// Returns a new logger with cell and attempt_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "db-client", attemptID)
//	enriched.Info("dialing") // includes cell, attempt_id
func EnrichLogger(logger *slog.Logger, cell, attemptID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("cell", cell),
		slog.String("attempt_id", attemptID),
	)
}

// LogInitStart logs the start of an initialization attempt.
func LogInitStart(logger *slog.Logger, cell, attemptID string) {
	if logger == nil {
		return
	}
	logger.Debug("initialization starting",
		slog.String("cell", cell),
		slog.String("attempt_id", attemptID),
	)
}

// LogInitComplete logs a successful initialization.
func LogInitComplete(logger *slog.Logger, cell, attemptID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("initialization completed",
		slog.String("cell", cell),
		slog.String("attempt_id", attemptID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogInitError logs a failed initialization attempt. The cell is back to
// uninitialized when this is called.
func LogInitError(logger *slog.Logger, cell, attemptID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("initialization failed",
		slog.String("cell", cell),
		slog.String("attempt_id", attemptID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogWait logs a caller that blocked on another goroutine's initialization.
func LogWait(logger *slog.Logger, cell, attemptID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("waited for initialization",
		slog.String("cell", cell),
		slog.String("attempt_id", attemptID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRemove logs removal of a registry entry.
func LogRemove(logger *slog.Logger, registry, key string, initialized bool) {
	if logger == nil {
		return
	}
	logger.Debug("registry entry removed",
		slog.String("registry", registry),
		slog.String("key", key),
		slog.Bool("initialized", initialized),
	)
}

// LogCloseError logs a failure to close a value evicted from a registry
// (non-fatal; the entry is gone either way).
func LogCloseError(logger *slog.Logger, registry, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("closing registry value failed",
		slog.String("registry", registry),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
