package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for all wapiflow instruments.
const MeterName = "wapiflow"

// MetricsRecorder records workflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution. outcome is "ok",
	// "recovered" (log/clear policy), or "raised".
	RecordNodeExecution(ctx context.Context, nodeID, outcome string, duration time.Duration)

	// RecordGraphRun records a finished cycle.
	RecordGraphRun(ctx context.Context, success, awaiting bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)

	// RecordMerge records a merge decision ("inserted", "replaced", "kept", "custom").
	RecordMerge(ctx context.Context, path, outcome string)

	// RecordExtraction records one tier attempt.
	RecordExtraction(ctx context.Context, field, tier string, success bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	merges         metric.Int64Counter
	extractions    metric.Int64Counter
	extractLatency metric.Float64Histogram
}

// newOtelMetrics creates instruments on the global meter provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(MeterName)
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("wapiflow.node.executions",
		metric.WithDescription("Number of node executions by outcome"),
	); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("wapiflow.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.graphRuns, err = meter.Int64Counter("wapiflow.cycle.runs",
		metric.WithDescription("Number of processing cycles"),
	); err != nil {
		return nil, err
	}
	if m.graphLatency, err = meter.Float64Histogram("wapiflow.cycle.latency_ms",
		metric.WithDescription("Processing cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("wapiflow.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.merges, err = meter.Int64Counter("wapiflow.merge.decisions",
		metric.WithDescription("Confidence-gated merge decisions by outcome"),
	); err != nil {
		return nil, err
	}
	if m.extractions, err = meter.Int64Counter("wapiflow.extraction.attempts",
		metric.WithDescription("Extraction tier attempts"),
	); err != nil {
		return nil, err
	}
	if m.extractLatency, err = meter.Float64Histogram("wapiflow.extraction.latency_ms",
		metric.WithDescription("Extraction tier latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// (see Setup) before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("outcome", outcome),
	)
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, ms(duration), attrs)
}

// RecordGraphRun records a processing cycle.
func (m *otelMetrics) RecordGraphRun(ctx context.Context, success, awaiting bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("awaiting", awaiting),
	)
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, ms(duration), attrs)
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

// RecordMerge records a merge decision.
func (m *otelMetrics) RecordMerge(ctx context.Context, path, outcome string) {
	m.merges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("outcome", outcome),
	))
}

// RecordExtraction records one tier attempt.
func (m *otelMetrics) RecordExtraction(ctx context.Context, field, tier string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("field", field),
		attribute.String("tier", tier),
		attribute.Bool("success", success),
	)
	m.extractions.Add(ctx, 1, attrs)
	m.extractLatency.Record(ctx, ms(duration), attrs)
}
