package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
)

const (
	// DefaultMaxIterations bounds node executions per cycle.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000
)

// runConfig holds configuration for one processing cycle.
// Subgraphs share their parent's runConfig, so version and digest
// continue across group boundaries.
type runConfig struct {
	maxIterations int

	// Checkpointing
	checkpointStore        checkpoint.Store
	runID                  string
	version                int64
	lastDigest             string
	checkpointFailureFatal bool

	// Observability
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	metricsEnabled bool
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions per cycle,
// counting nodes inside subgraphs. Default: DefaultMaxIterations
//
// This prevents routing loops from hanging forever. If a cycle
// exceeds this limit, Run returns *MaxIterationsError.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing enables checkpoint-on-change. After every node whose
// state encoding changed, a record with the next version is Put.
// Requires WithRunID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the checkpoint key, normally the conversation ID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithStartVersion sets the version of the checkpoint the state was loaded
// from. The first checkpoint of this cycle is written at v+1.
func WithStartVersion(v int64) RunOption {
	return func(c *runConfig) {
		if v > 0 {
			c.version = v
		}
	}
}

// WithCheckpointFailureFatal makes checkpoint failures abort the cycle with
// *CheckpointError. By default they are logged and execution continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger sets the logger for run and node lifecycle events.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		c.metricsEnabled = enabled
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder uses a specific recorder, typically one shared by a
// long-lived runner.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		c.metrics = m
		_, noop := m.(observability.NoopMetrics)
		c.metricsEnabled = !noop
	}
}

// WithTracing enables OpenTelemetry spans for the cycle and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}
