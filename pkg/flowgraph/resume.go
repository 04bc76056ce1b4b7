package flowgraph

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
)

// resumeConfig holds Resume options.
type resumeConfig struct {
	stateOverride func(any) any
	validateState func(any) error
	runOptions    []RunOption
}

// ResumeOption configures Resume.
type ResumeOption func(*resumeConfig)

// WithStateOverride transforms the loaded state before execution, typically
// to inject the new inbound message. fn receives and must return a value of
// the graph's state type; other return types are ignored.
func WithStateOverride(fn func(any) any) ResumeOption {
	return func(c *resumeConfig) {
		c.stateOverride = fn
	}
}

// WithStateValidation rejects a loaded state before execution.
func WithStateValidation(fn func(any) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithResumeRunOptions passes additional options to the resumed run.
func WithResumeRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOptions = append(c.runOptions, opts...)
	}
}

// Resume loads the latest checkpoint for a conversation and runs a new
// cycle from the entry node. Graphs re-enter at their entry on every
// message; the entry's routing table decides where the conversation
// continues. Checkpoint versions continue from the loaded record.
//
// Example:
//
//	result, err := compiled.Resume(ctx, store, "919876543210",
//	    flowgraph.WithStateOverride(func(v any) any {
//	        c := v.(*state.Conversation)
//	        c.Resume("2")
//	        return c
//	    }))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, conversationID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	rec, err := store.Get(ctx, conversationID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, conversationID)
	}
	if err != nil {
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	var state S
	if err := rec.Decode(&state); err != nil {
		if errors.Is(err, checkpoint.ErrFormatMismatch) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cfg.stateOverride != nil {
		if typed, ok := cfg.stateOverride(state).(S); ok {
			state = typed
		}
	}

	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	runOpts := append([]RunOption{
		WithCheckpointing(store),
		WithRunID(conversationID),
		WithStartVersion(rec.Version),
	}, cfg.runOptions...)

	return cg.Run(ctx, state, runOpts...)
}
