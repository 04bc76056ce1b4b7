package flowgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resumableGraph asks for a name, then a phone, pausing after each question.
func resumableGraph(t *testing.T) *CompiledGraph[*Flow] {
	t.Helper()
	return compile(t, NewGraph[*Flow]("intake").
		AddNode("entry", passthrough).
		AddNode("ask_name", waitAt("name")).
		AddNode("take_name", setValue("take_name", "name", "Ravi")).
		AddNode("ask_phone", waitAt("phone")).
		AddConditionalEdge("entry", func(_ Context, f *Flow) string {
			if f.Position == "name" {
				return "answer"
			}
			return "ask"
		}, Routes{"ask": "ask_name", "answer": "take_name"}).
		AddEdge("ask_name", END).
		AddEdge("take_name", "ask_phone").
		AddEdge("ask_phone", END).
		SetEntry("entry"))
}

func clearWaiting(v any) any {
	f := v.(*Flow)
	f.Waiting = false
	return f
}

func TestResume_ContinuesFromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := resumableGraph(t)

	first, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
	require.NoError(t, err)
	assert.Equal(t, "name", first.Position)

	second, err := compiled.Resume(testCtx(), store, "c1", WithStateOverride(clearWaiting))
	require.NoError(t, err)
	assert.Equal(t, "phone", second.Position)
	assert.Equal(t, "Ravi", second.Values["name"])

	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, "phone", rec.Step)
}

func TestResume_NoCheckpoints(t *testing.T) {
	_, err := resumableGraph(t).Resume(testCtx(), checkpoint.NewMemoryStore(), "missing")
	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

func TestResume_NilContext(t *testing.T) {
	//nolint:staticcheck // testing nil context handling
	_, err := resumableGraph(t).Resume(nil, checkpoint.NewMemoryStore(), "c1")
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestResume_Validation(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := resumableGraph(t)
	_, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
	require.NoError(t, err)

	rejected := errors.New("conversation closed")
	_, err = compiled.Resume(testCtx(), store, "c1",
		WithStateValidation(func(any) error { return rejected }))

	assert.ErrorIs(t, err, rejected)
}

func TestResume_FormatMismatch(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	rec := checkpoint.New("c1", 1, "ask_name", []byte(`{"position":"name"}`))
	rec.Format = checkpoint.Format + 1
	require.NoError(t, store.Put(context.Background(), rec))

	_, err := resumableGraph(t).Resume(testCtx(), store, "c1")
	assert.ErrorIs(t, err, checkpoint.ErrFormatMismatch)
}

func TestResume_CorruptState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(),
		checkpoint.New("c1", 1, "ask_name", []byte(`{"position": 5}`))))

	_, err := resumableGraph(t).Resume(testCtx(), store, "c1")
	assert.ErrorIs(t, err, ErrDeserializeState)
}

func TestResume_PassesRunOptions(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled := resumableGraph(t)
	_, err := compiled.Run(testCtx(), newFlow(), WithCheckpointing(store), WithRunID("c1"))
	require.NoError(t, err)

	_, err = compiled.Resume(testCtx(), store, "c1",
		WithStateOverride(clearWaiting),
		WithResumeRunOptions(WithMaxIterations(1)))

	var maxErr *MaxIterationsError
	assert.ErrorAs(t, err, &maxErr)
}
