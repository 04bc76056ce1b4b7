package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

const testPhoneID = "919876543210"

// testNow is a Friday morning in IST.
var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.FixedZone("IST", 5*60*60+30*60))

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background(), flowgraph.WithLogger(testLogger()))
}

type fixture struct {
	backend   *backend.Fake
	published *telemetry.MemoryPublisher
	deps      Deps
}

func newFixture() *fixture {
	fake := backend.NewFake()
	published := telemetry.NewMemoryPublisher()
	return &fixture{
		backend:   fake,
		published: published,
		deps: Deps{
			Backend: fake,
			Recorder: telemetry.NewRecorder(
				telemetry.WithPublisher(published),
				telemetry.WithLogger(testLogger()),
			),
			Logger:         testLogger(),
			Now:            func() time.Time { return testNow },
			PrimaryTimeout: 50 * time.Millisecond,
			PatternTimeout: time.Second,
		},
	}
}

// runner builds the workflow over a fresh memory store.
func (f *fixture) runner(t *testing.T, opts ...RunnerOption) *Runner {
	t.Helper()
	return f.runnerWith(t, checkpoint.NewMemoryStore(), opts...)
}

func (f *fixture) runnerWith(t *testing.T, store checkpoint.Store, opts ...RunnerOption) *Runner {
	t.Helper()
	graph, err := Build(f.deps)
	require.NoError(t, err)
	return NewRunner(graph, store, append([]RunnerOption{WithRunnerLogger(testLogger())}, opts...)...)
}

// send runs one message and fails the test on error.
func send(t *testing.T, r *Runner, id, message string) *state.Conversation {
	t.Helper()
	c, err := r.Run(context.Background(), id, message, nil)
	require.NoError(t, err)
	return c
}

func (f *fixture) returningCustomer(vehicles ...map[string]any) {
	f.backend.AddCustomer(map[string]any{
		"id":         "CUST-0100",
		"phone":      "9876543210",
		"first_name": "Sneha",
		"last_name":  "Reddy",
	}, vehicles...)
}

var (
	creta = map[string]any{"id": "VEH-0101", "brand": "Hyundai", "model": "Creta", "plate": "TS09EA4321", "vehicle_type": "suv"}
	swift = map[string]any{"id": "VEH-0102", "brand": "Maruti", "model": "Swift", "plate": "KA05MN7777", "vehicle_type": "hatchback"}
)

func milestoneNames(c *state.Conversation) []string {
	names := make([]string, len(c.Checkpoints))
	for i, m := range c.Checkpoints {
		names[i] = m.Name
	}
	return names
}
