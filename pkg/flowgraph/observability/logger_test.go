package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf    *bytes.Buffer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	// Build a map from the record
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}

	// Add pre-configured attrs
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}

	// Add record attrs
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	// Encode as JSON
	enc := json.NewEncoder(h.buf)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  make([]slog.Attr, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(name string) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(h.groups, name),
	}
	return newH
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func (h *testHandler) getAllRecords() []map[string]any {
	var records []map[string]any
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for _, line := range lines {
		if len(line) > 0 {
			var m map[string]any
			if err := json.Unmarshal(line, &m); err == nil {
				records = append(records, m)
			}
		}
	}
	return records
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds run_id, node_id, and attempt", func(t *testing.T) {
		h := newTestHandler()
		enriched := EnrichLogger(slog.New(h), "run-123", "extract_name", 2)
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "run-123", record["run_id"])
		assert.Equal(t, "extract_name", record["node_id"])
		assert.Equal(t, float64(2), record["attempt"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "run-123", "extract_name", 1))
	})
}

func TestForConversation(t *testing.T) {
	h := newTestHandler()
	ForConversation(slog.New(h), "919876543210").Info("hello")

	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "919876543210", record["conversation_id"])

	assert.NotNil(t, ForConversation(nil, "c1"))
}

func TestLogRunLifecycle(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogRunStart(logger, "run-1", "lookup_customer")
	LogRunComplete(logger, "run-1", 12.5, 4, true)
	LogRunError(logger, "run-1", errors.New("boom"), 3, "book_appointment")

	records := h.getAllRecords()
	require.Len(t, records, 3)

	assert.Equal(t, "cycle starting", records[0]["msg"])
	assert.Equal(t, "lookup_customer", records[0]["entry"])

	assert.Equal(t, "cycle completed", records[1]["msg"])
	assert.Equal(t, float64(4), records[1]["nodes_executed"])
	assert.Equal(t, true, records[1]["awaiting_input"])

	assert.Equal(t, "ERROR", records[2]["level"])
	assert.Equal(t, "boom", records[2]["error"])
	assert.Equal(t, "book_appointment", records[2]["last_node"])
}

func TestLogNodeEvents(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogNodeStart(logger, "extract_name", []string{"user_message"})
	LogNodeComplete(logger, "extract_name", 1.5)
	LogNodeRecovered(logger, "lookup_customer", "log", "lookup_customer_not_found", errors.New("404"))
	LogNodeError(logger, "book_appointment", errors.New("conflict"))
	LogAwait(logger, "extract_name", "extract_phone")

	records := h.getAllRecords()
	require.Len(t, records, 5)

	assert.Equal(t, "DEBUG", records[0]["level"])
	assert.Equal(t, []any{"user_message"}, records[0]["reads"])
	assert.Equal(t, "node completed", records[1]["msg"])

	assert.Equal(t, "WARN", records[2]["level"])
	assert.Equal(t, "log", records[2]["policy"])
	assert.Equal(t, "lookup_customer_not_found", records[2]["error_code"])

	assert.Equal(t, "ERROR", records[3]["level"])
	assert.Equal(t, "awaiting user input", records[4]["msg"])
	assert.Equal(t, "extract_phone", records[4]["current_step"])
}

func TestLogCheckpoint(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogCheckpoint(logger, "extract_name", 7, 2048)
	LogCheckpointError(logger, "extract_name", "save", errors.New("disk full"))

	records := h.getAllRecords()
	require.Len(t, records, 2)
	assert.Equal(t, float64(7), records[0]["version"])
	assert.Equal(t, float64(2048), records[0]["size_bytes"])
	assert.Equal(t, "WARN", records[1]["level"])
	assert.Equal(t, "save", records[1]["operation"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "r", "e")
		LogRunComplete(nil, "r", 0, 0, false)
		LogRunError(nil, "r", errors.New("x"), 0, "n")
		LogNodeStart(nil, "n", nil)
		LogNodeComplete(nil, "n", 0)
		LogNodeRecovered(nil, "n", "log", "c", errors.New("x"))
		LogNodeError(nil, "n", errors.New("x"))
		LogAwait(nil, "n", "s")
		LogCheckpoint(nil, "n", 1, 0)
		LogCheckpointError(nil, "n", "save", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	elapsed := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, elapsed(), 4.0)
}
