package flowgraph

import (
	"context"
	"maps"
	"slices"
)

// Flow is the state used across engine tests.
type Flow struct {
	Position string            `json:"position"`
	Values   map[string]string `json:"values"`
	Trail    []string          `json:"trail"`
	Errors   []string          `json:"errors"`
	Waiting  bool              `json:"waiting"`
	Count    int               `json:"count"`
}

func newFlow() *Flow {
	return &Flow{Values: map[string]string{}}
}

func (f *Flow) Clone() *Flow {
	out := *f
	out.Values = maps.Clone(f.Values)
	out.Trail = slices.Clone(f.Trail)
	out.Errors = slices.Clone(f.Errors)
	return &out
}

func (f *Flow) RecordError(code string) { f.Errors = append(f.Errors, code) }
func (f *Flow) ClearPath(path string)   { delete(f.Values, path) }
func (f *Flow) Await()                  { f.Waiting = true }
func (f *Flow) Awaiting() bool          { return f.Waiting }
func (f *Flow) Step() string            { return f.Position }

// Helper node functions

// increment bumps the counter.
func increment(ctx Context, f *Flow) (*Flow, error) {
	f.Count++
	return f, nil
}

// passthrough returns the state unchanged.
func passthrough(ctx Context, f *Flow) (*Flow, error) {
	return f, nil
}

// track records its execution on the trail.
func track(name string) NodeFunc[*Flow] {
	return func(ctx Context, f *Flow) (*Flow, error) {
		f.Trail = append(f.Trail, name)
		return f, nil
	}
}

// setValue writes key=value then records itself on the trail.
func setValue(name, key, value string) NodeFunc[*Flow] {
	return func(ctx Context, f *Flow) (*Flow, error) {
		f.Values[key] = value
		f.Trail = append(f.Trail, name)
		return f, nil
	}
}

// failAfterWrite mutates its clone and then fails.
func failAfterWrite(key string, err error) NodeFunc[*Flow] {
	return func(ctx Context, f *Flow) (*Flow, error) {
		f.Values[key] = "partial"
		return f, err
	}
}

// panicNode panics with the given value.
func panicNode(value any) NodeFunc[*Flow] {
	return func(ctx Context, f *Flow) (*Flow, error) {
		panic(value)
	}
}

// waitAt sets the position and pauses.
func waitAt(position string) NodeFunc[*Flow] {
	return func(ctx Context, f *Flow) (*Flow, error) {
		f.Position = position
		f.Await()
		return f, nil
	}
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}
