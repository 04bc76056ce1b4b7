// Package observability provides structured logging, metrics, and tracing
// for workflow runs.
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

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id, node_id, and attempt fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// ForConversation scopes a logger to one conversation.
func ForConversation(logger *slog.Logger, conversationID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("conversation_id", conversationID))
}

// LogRunStart logs the start of a processing cycle.
func LogRunStart(logger *slog.Logger, runID, entry string) {
	if logger == nil {
		return
	}
	logger.Info("cycle starting",
		slog.String("run_id", runID),
		slog.String("entry", entry),
	)
}

// LogRunComplete logs a finished cycle and whether it paused for input.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int, awaiting bool) {
	if logger == nil {
		return
	}
	logger.Info("cycle completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
		slog.Bool("awaiting_input", awaiting),
	)
}

// LogRunError logs a cycle aborted by a raise policy, cancellation, or routing fault.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("cycle failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string, reads []string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.Any("reads", reads),
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

// LogNodeRecovered logs a failure absorbed by a log or clear policy.
func LogNodeRecovered(logger *slog.Logger, nodeID, policy, code string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node failed, continuing",
		slog.String("node_id", nodeID),
		slog.String("policy", policy),
		slog.String("error_code", code),
		slog.String("error", err.Error()),
	)
}

// LogNodeError logs a failure that aborts the cycle.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogAwait logs a cycle pausing for the next user message.
func LogAwait(logger *slog.Logger, nodeID, step string) {
	if logger == nil {
		return
	}
	logger.Info("awaiting user input",
		slog.String("node_id", nodeID),
		slog.String("current_step", step),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, version int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int64("version", version),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure (non-fatal).
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogDurableWriteFailure logs a durable-tier write that failed while the
// fast tier accepted the record.
func LogDurableWriteFailure(logger *slog.Logger, conversationID string, version int64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("durable checkpoint write failed, continuing on fast tier",
		slog.String("conversation_id", conversationID),
		slog.Int64("version", version),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
