package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore wraps a MemoryStore and keeps every record it accepted.
type recordingStore struct {
	*checkpoint.MemoryStore

	mu      sync.Mutex
	puts    []*checkpoint.Record
	failPut error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: checkpoint.NewMemoryStore()}
}

func (s *recordingStore) Put(ctx context.Context, rec *checkpoint.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	if err := s.MemoryStore.Put(ctx, rec); err != nil {
		return err
	}
	s.puts = append(s.puts, rec.Clone())
	return nil
}

func (s *recordingStore) nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.puts))
	for i, r := range s.puts {
		out[i] = r.NodeID
	}
	return out
}

func (s *recordingStore) versions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.puts))
	for i, r := range s.puts {
		out[i] = r.Version
	}
	return out
}

func TestCheckpoint_OnlyWhenStateChanges(t *testing.T) {
	store := newRecordingStore()
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("route", passthrough).
		AddNode("extract", setValue("extract", "name", "Ravi")).
		AddNode("noop", passthrough).
		AddNode("present", waitAt("extract_phone")).
		AddEdge("route", "extract").
		AddEdge("extract", "noop").
		AddEdge("noop", "present").
		AddEdge("present", END).
		SetEntry("route"))

	_, err := compiled.Run(testCtx(), newFlow(),
		WithCheckpointing(store),
		WithRunID("919876543210"))

	require.NoError(t, err)
	assert.Equal(t, []string{"extract", "present"}, store.nodes())
	assert.Equal(t, []int64{1, 2}, store.versions())
}

func TestCheckpoint_RecordsStepAndDecodes(t *testing.T) {
	store := newRecordingStore()
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("present", waitAt("extract_phone")).
		AddEdge("present", END).
		SetEntry("present"))

	result, err := compiled.Run(testCtx(), newFlow(),
		WithCheckpointing(store),
		WithRunID("c1"))
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "extract_phone", rec.Step)
	assert.Equal(t, "present", rec.NodeID)

	var decoded Flow
	require.NoError(t, rec.Decode(&decoded))
	assert.Equal(t, result, &decoded)
}

func TestCheckpoint_AwaitEdgeWritesSnapshot(t *testing.T) {
	store := newRecordingStore()
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("ask", passthrough).
		AddEdge("ask", AWAIT).
		SetEntry("ask"))

	_, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
	require.NoError(t, err)

	// Only the await flag changed.
	assert.Equal(t, []string{"ask"}, store.nodes())
	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)

	var decoded Flow
	require.NoError(t, rec.Decode(&decoded))
	assert.True(t, decoded.Waiting)
}

func TestCheckpoint_StartVersionContinues(t *testing.T) {
	store := newRecordingStore()
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a"))

	_, err := compiled.Run(testCtx(), newFlow(),
		WithCheckpointing(store),
		WithRunID("c1"),
		WithStartVersion(7))

	require.NoError(t, err)
	assert.Equal(t, []int64{8, 9}, store.versions())
}

func TestCheckpoint_SubgraphNodesCheckpointThemselves(t *testing.T) {
	store := newRecordingStore()
	inner := compile(t, NewGraph[*Flow]("inner").
		AddNode("x", increment).
		AddNode("y", increment).
		AddEdge("x", "y").
		AddEdge("y", END).
		SetEntry("x"))
	outer := compile(t, NewGraph[*Flow]("outer").
		AddSubgraph("group", inner).
		AddNode("z", increment).
		AddEdge("group", "z").
		AddEdge("z", END).
		SetEntry("group"))

	_, err := outer.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))

	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, store.nodes())
	assert.Equal(t, []int64{1, 2, 3}, store.versions())
}

func TestCheckpoint_RequiresRunID(t *testing.T) {
	compiled := compile(t, NewGraph[*Flow]("g").AddNode("a", increment).AddEdge("a", END).SetEntry("a"))

	_, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(newRecordingStore()))
	assert.ErrorIs(t, err, ErrRunIDRequired)
}

func TestCheckpoint_PutFailure(t *testing.T) {
	compiled := compile(t, NewGraph[*Flow]("g").
		AddNode("a", increment).
		AddNode("b", increment).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a"))

	diskFull := errors.New("disk full")

	t.Run("logged by default", func(t *testing.T) {
		store := newRecordingStore()
		store.failPut = diskFull

		result, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
		require.NoError(t, err)
		assert.Equal(t, 2, result.Count)
	})

	t.Run("fatal when configured", func(t *testing.T) {
		store := newRecordingStore()
		store.failPut = diskFull

		result, err := compiled.Run(testCtx(), newFlow(),
			WithCheckpointing(store),
			WithRunID("c1"),
			WithCheckpointFailureFatal(true))

		var cpErr *CheckpointError
		require.ErrorAs(t, err, &cpErr)
		assert.Equal(t, "a", cpErr.NodeID)
		assert.Equal(t, "put", cpErr.Op)
		assert.ErrorIs(t, err, diskFull)
		assert.Equal(t, 1, result.Count)
	})
}

// unencodable fails JSON encoding through its channel field.
type unencodable struct {
	Flow
	Ch chan int `json:"ch"`
}

func (u *unencodable) Clone() *unencodable {
	out := *u
	out.Flow = *u.Flow.Clone()
	return &out
}

func TestCheckpoint_SerializeFailure(t *testing.T) {
	compiled, err := NewGraph[*unencodable]("g").
		AddNode("a", func(_ Context, u *unencodable) (*unencodable, error) {
			u.Count++
			return u, nil
		}).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	state := &unencodable{Flow: *newFlow(), Ch: make(chan int)}
	_, err = compiled.Run(testCtx(), state,
		WithCheckpointing(newRecordingStore()),
		WithRunID("c1"),
		WithCheckpointFailureFatal(true))

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "serialize", cpErr.Op)
	assert.ErrorIs(t, err, ErrSerializeState)
}

func TestCheckpoint_DigestMatchesEncoding(t *testing.T) {
	store := newRecordingStore()
	compiled := compile(t, NewGraph[*Flow]("g").AddNode("a", increment).AddEdge("a", END).SetEntry("a"))

	result, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Digest(data), rec.Digest)
}
