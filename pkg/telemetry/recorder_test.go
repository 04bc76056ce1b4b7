package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/wapiflow/pkg/state"
)

var fixedTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func conversation() *state.Conversation {
	c := state.New("919876543210", "extract_phone")
	c.Completeness = 0.25
	c.Errors = []string{"fetch_vehicles_transient_network"}
	return c
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, state.Milestone) error {
	return errors.New("broker down")
}

func TestRecord_AppendsAndPublishes(t *testing.T) {
	mem := NewMemoryPublisher()
	r := NewRecorder(WithPublisher(mem), WithClock(func() time.Time { return fixedTime }))
	c := conversation()

	m := r.Record(context.Background(), c, "customer_confirmed", TypeConfirmation)

	assert.Equal(t, "customer_confirmed", m.Name)
	assert.Equal(t, TypeConfirmation, m.Type)
	assert.Equal(t, fixedTime, m.Timestamp)
	assert.Equal(t, "919876543210", m.ConversationID)
	assert.Equal(t, "extract_phone", m.CurrentStep)
	assert.Equal(t, 0.25, m.Completeness)
	assert.Equal(t, []string{"fetch_vehicles_transient_network"}, m.Errors)

	id, err := ulid.ParseStrict(m.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(fixedTime), id.Time())

	require.Len(t, c.Checkpoints, 1)
	assert.Equal(t, m, c.Checkpoints[0])
	assert.Equal(t, []state.Milestone{m}, mem.Milestones())
}

func TestRecord_SnapshotIsDetached(t *testing.T) {
	r := NewRecorder()
	c := conversation()

	m := r.Record(context.Background(), c, "vehicle_selected", TypeProgress)
	c.RecordError("later")

	assert.Len(t, m.Errors, 1)
}

func TestRecord_IDsAreOrdered(t *testing.T) {
	r := NewRecorder()
	c := conversation()

	a := r.Record(context.Background(), c, "a", TypeProgress)
	b := r.Record(context.Background(), c, "b", TypeProgress)

	assert.Less(t, a.ID, b.ID)
}

func TestRecord_PublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	mem := NewMemoryPublisher()
	r := NewRecorder(
		WithPublisher(failingPublisher{}),
		WithPublisher(mem),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	c := conversation()

	r.Record(context.Background(), c, "booking_created", TypeTerminal)

	assert.Contains(t, buf.String(), "milestone publish failed")
	assert.Contains(t, buf.String(), "broker down")
	assert.Len(t, mem.Milestones(), 1)
	assert.Len(t, c.Checkpoints, 1)
}

func TestOnce(t *testing.T) {
	r := NewRecorder()
	c := conversation()

	assert.True(t, r.Once(context.Background(), c, "customer_confirmed", TypeConfirmation))
	assert.False(t, r.Once(context.Background(), c, "customer_confirmed", TypeConfirmation))
	assert.Len(t, c.Checkpoints, 1)
}

func TestMemoryPublisher_For(t *testing.T) {
	mem := NewMemoryPublisher()
	r := NewRecorder(WithPublisher(mem))

	r.Record(context.Background(), state.New("a", "s"), "x", TypeProgress)
	r.Record(context.Background(), state.New("b", "s"), "y", TypeProgress)

	got := mem.For("b")
	require.Len(t, got, 1)
	assert.Equal(t, "y", got[0].Name)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(WithPublisher(NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))))

	r.Record(context.Background(), conversation(), "slot_selected", TypeProgress)

	out := buf.String()
	assert.Contains(t, out, `"msg":"milestone"`)
	assert.Contains(t, out, `"name":"slot_selected"`)
	assert.Contains(t, out, `"conversation_id":"919876543210"`)
}
