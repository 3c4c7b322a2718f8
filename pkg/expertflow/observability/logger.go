// Package observability provides structured logging, metrics and
// distributed tracing for the conversation engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds turn context to a logger.
// Returns a new logger with thread_id, run_id and node_id fields.
func EnrichLogger(logger *slog.Logger, threadID, runID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
	)
}

// LogTurnStart logs the start of a conversation turn.
func LogTurnStart(logger *slog.Logger, threadID, runID string, streaming bool) {
	if logger == nil {
		return
	}
	logger.Info("turn starting",
		slog.String("thread_id", threadID),
		slog.String("run_id", runID),
		slog.Bool("streaming", streaming),
	)
}

// LogTurnComplete logs successful turn completion.
func LogTurnComplete(logger *slog.Logger, threadID, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("turn completed",
		slog.String("thread_id", threadID),
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogTurnError logs turn failure.
func LogTurnError(logger *slog.Logger, threadID, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("turn failed",
		slog.String("thread_id", threadID),
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, threadID string, step int, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("thread_id", threadID),
		slog.Int("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a fatal checkpoint failure.
func LogCheckpointError(logger *slog.Logger, threadID, nodeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogRecovery logs pending-write recovery on thread load.
func LogRecovery(logger *slog.Logger, threadID string, pendingWrites int) {
	if logger == nil {
		return
	}
	logger.Info("recovered pending writes",
		slog.String("thread_id", threadID),
		slog.Int("pending_writes", pendingWrites),
	)
}

// LogStreamEnd logs stream termination.
func LogStreamEnd(logger *slog.Logger, runID string, frames int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("stream ended with error",
			slog.String("run_id", runID),
			slog.Int("frames", frames),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("stream ended",
		slog.String("run_id", runID),
		slog.Int("frames", frames),
	)
}

// LogEvalScheduled logs a turn handed to the evaluation pool.
func LogEvalScheduled(logger *slog.Logger, threadID string) {
	if logger == nil {
		return
	}
	logger.Debug("evaluation scheduled",
		slog.String("thread_id", threadID),
	)
}

// LogEvalDropped logs an evaluation sample dropped on a full queue.
func LogEvalDropped(logger *slog.Logger, threadID string) {
	if logger == nil {
		return
	}
	logger.Warn("evaluation dropped, queue full",
		slog.String("thread_id", threadID),
	)
}

// LogEvalError logs an evaluation failure. Never surfaced to callers.
func LogEvalError(logger *slog.Logger, threadID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("evaluation failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
