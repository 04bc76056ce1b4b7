package flowgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeMetrics records every call it receives.
type fakeMetrics struct {
	mu    sync.Mutex
	nodes []string // "<node>:<outcome>"
	runs  []string // "success|failure" + optional ":awaiting"
	cps   []string
}

func (m *fakeMetrics) RecordNodeExecution(_ context.Context, nodeID, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, nodeID+":"+outcome)
}

func (m *fakeMetrics) RecordGraphRun(_ context.Context, success, awaiting bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := "failure"
	if success {
		entry = "success"
	}
	if awaiting {
		entry += ":awaiting"
	}
	m.runs = append(m.runs, entry)
}

func (m *fakeMetrics) RecordCheckpoint(_ context.Context, nodeID string, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps = append(m.cps, nodeID)
}

func (m *fakeMetrics) RecordMerge(context.Context, string, string) {}

func (m *fakeMetrics) RecordExtraction(context.Context, string, string, bool, time.Duration) {}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func messages(lines []map[string]any) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i], _ = l["msg"].(string)
	}
	return out
}

func TestObservability_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("lookup_customer", failAfterWrite("customer", errors.New("boom"))).
		AddNode("ask_name", waitAt("extract_name")).
		AddEdge("lookup_customer", "ask_name").
		AddEdge("ask_name", END).
		SetEntry("lookup_customer"))

	_, err := compiled.Run(testCtx(), newFlow(),
		WithObservabilityLogger(logger),
		WithCheckpointing(newRecordingStore()),
		WithRunID("919876543210"))
	require.NoError(t, err)

	lines := logLines(t, &buf)
	msgs := messages(lines)
	assert.Equal(t, "cycle starting", msgs[0])
	assert.Contains(t, msgs, "node failed, continuing")
	assert.Contains(t, msgs, "checkpoint saved")
	assert.Contains(t, msgs, "awaiting user input")

	last := lines[len(lines)-1]
	assert.Equal(t, "cycle completed", last["msg"])
	assert.Equal(t, "919876543210", last["run_id"])
	assert.Equal(t, true, last["awaiting_input"])

	for _, l := range lines {
		if l["msg"] == "node failed, continuing" {
			assert.Equal(t, "lookup_customer_unknown", l["error_code"])
			assert.Equal(t, "log", l["policy"])
		}
	}
}

func TestObservability_LoggingRunError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("create_booking", failAfterWrite("b", errors.New("boom")), OnFailure(PolicyRaise)).
		AddEdge("create_booking", END).
		SetEntry("create_booking"))

	_, err := compiled.Run(testCtx(), newFlow(), WithObservabilityLogger(logger))
	require.Error(t, err)

	lines := logLines(t, &buf)
	last := lines[len(lines)-1]
	assert.Equal(t, "cycle failed", last["msg"])
	assert.Equal(t, "create_booking", last["last_node"])
}

func TestObservability_Metrics(t *testing.T) {
	m := &fakeMetrics{}
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("a", increment).
		AddNode("b", failAfterWrite("x", errors.New("boom"))).
		AddNode("c", waitAt("done")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a"))

	_, err := compiled.Run(testCtx(), newFlow(),
		WithMetricsRecorder(m),
		WithCheckpointing(newRecordingStore()),
		WithRunID("c1"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a:ok", "b:recovered", "c:ok"}, m.nodes)
	assert.Equal(t, []string{"success:awaiting"}, m.runs)
	assert.Equal(t, []string{"a", "b", "c"}, m.cps)
}

func TestObservability_MetricsRaised(t *testing.T) {
	m := &fakeMetrics{}
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("a", failAfterWrite("x", errors.New("boom")), OnFailure(PolicyRaise)).
		AddEdge("a", END).
		SetEntry("a"))

	_, err := compiled.Run(testCtx(), newFlow(), WithMetricsRecorder(m))
	require.Error(t, err)

	assert.Equal(t, []string{"a:raised"}, m.nodes)
	assert.Equal(t, []string{"failure"}, m.runs)
}

func TestObservability_Tracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	compiled := compile(t, NewGraph[*Flow]("booking").
		AddNode("extract_name", increment).
		AddNode("ask_phone", waitAt("extract_phone")).
		AddEdge("extract_name", "ask_phone").
		AddEdge("ask_phone", END).
		SetEntry("extract_name"))

	_, err := compiled.Run(testCtx(), newFlow(), WithTracing(true), WithRunID("c1"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	root, ok := byName["wapiflow.cycle"]
	require.True(t, ok)

	for _, name := range []string{"wapiflow.node.extract_name", "wapiflow.node.ask_phone"} {
		child, ok := byName[name]
		require.True(t, ok, name)
		assert.Equal(t, root.SpanContext.SpanID(), child.Parent.SpanID())
	}
}
