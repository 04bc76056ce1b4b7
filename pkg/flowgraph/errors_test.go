package flowgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"node", &NodeError{NodeID: "create_booking", Op: "execute", Err: cause}, "node create_booking: execute: boom"},
		{"checkpoint", &CheckpointError{NodeID: "a", Op: "put", Err: cause}, "checkpoint put at node a: boom"},
		{"panic", &PanicError{NodeID: "a", Value: "nil map"}, "node a panicked: nil map"},
		{"cancel before", &CancellationError{NodeID: "a", Cause: context.Canceled}, "cancelled before node a: context canceled"},
		{"cancel during", &CancellationError{NodeID: "a", Cause: context.Canceled, WasExecuting: true}, "cancelled during node a: context canceled"},
		{"router", &RouterError{FromNode: "entry", Returned: "x", Err: ErrUnknownOutcome}, `router from entry returned "x": router returned an outcome not in its routing table`},
		{"max iterations", &MaxIterationsError{Max: 5, LastNodeID: "loop"}, "exceeded maximum iterations (5) at node loop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")

	assert.ErrorIs(t, &NodeError{Err: cause}, cause)
	assert.ErrorIs(t, &CheckpointError{Err: cause}, cause)
	assert.ErrorIs(t, &RouterError{Err: cause}, cause)
	assert.ErrorIs(t, &CancellationError{Cause: context.DeadlineExceeded}, context.DeadlineExceeded)
	assert.ErrorIs(t, &MaxIterationsError{}, ErrMaxIterations)
}
