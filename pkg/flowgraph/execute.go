package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run executes one processing cycle starting at the entry node.
//
// The cycle ends when execution reaches END, reaches AWAIT, or a node leaves
// the state Awaiting(). Node failures are absorbed by PolicyLog and
// PolicyClear; only PolicyRaise, cancellation, routing faults and fatal
// checkpoint errors make Run return an error. The returned state is always
// usable: on error it is the state at the point of failure.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, conv,
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithRunID(conv.ConversationID))
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cg.run(ctx, state, &cfg)
}

func (cg *CompiledGraph[S]) run(ctx Context, state S, cfg *runConfig) (result S, runErr error) {
	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	if cfg.checkpointStore != nil {
		if data, err := json.Marshal(state); err == nil {
			cfg.lastDigest = checkpoint.Digest(data)
		}
	}

	elapsed := observability.TimedOperation()
	startTime := time.Now()
	observability.LogRunStart(cfg.logger, runID, cg.entryPoint)

	execCtx := ctx
	if cfg.tracingEnabled {
		spanCtx, runSpan := cfg.spans.StartRunSpan(ctx, cg.name, runID)
		execCtx = withStdContext(ctx, spanCtx)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	iterations := 0
	var nodeCount int
	result, nodeCount, runErr = cg.loop(execCtx, cfg, state, &iterations)

	awaiting := runErr == nil && result.Awaiting()
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, awaiting, time.Since(startTime))

	if runErr != nil {
		observability.LogRunError(cfg.logger, runID, runErr, elapsed(), lastNode(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, runID, elapsed(), nodeCount, awaiting)
	}

	return result, runErr
}

// lastNode extracts the failing node from an execution error.
func lastNode(err error) string {
	var nodeErr *NodeError
	var maxErr *MaxIterationsError
	var cancelErr *CancellationError
	var routerErr *RouterError
	var cpErr *CheckpointError
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}

// loop walks the graph from the entry node until the cycle ends.
// iterations is shared with subgraphs so the limit covers the whole cycle.
func (cg *CompiledGraph[S]) loop(ctx Context, cfg *runConfig, state S, iterations *int) (S, int, error) {
	current := cg.entryPoint
	previous := ""
	nodeCount := 0

	for {
		switch current {
		case END:
			return state, nodeCount, nil
		case AWAIT:
			state = state.Clone()
			state.Await()
			if err := cg.checkpoint(ctx, cfg, previous, state); err != nil {
				return state, nodeCount, err
			}
			observability.LogAwait(cfg.logger, previous, stepOf(state))
			cfg.spans.AddSpanEvent(ctx, "await", attribute.String("node.id", previous))
			return state, nodeCount, nil
		}

		*iterations++
		if *iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-ctx.Done():
			return state, nodeCount, &CancellationError{
				NodeID:       current,
				State:        state,
				Cause:        ctx.Err(),
				WasExecuting: false,
			}
		default:
		}

		n := cg.nodes[current]
		next, executed, err := cg.execute(ctx, cfg, current, n, state, iterations)
		nodeCount += executed
		state = next
		if err != nil {
			return state, nodeCount, err
		}

		// Subgraph nodes checkpoint from inside.
		if n.sub == nil {
			if err := cg.checkpoint(ctx, cfg, current, state); err != nil {
				return state, nodeCount, err
			}
		}

		if state.Awaiting() {
			if n.sub == nil {
				observability.LogAwait(cfg.logger, current, stepOf(state))
				cfg.spans.AddSpanEvent(ctx, "await", attribute.String("node.id", current))
			}
			return state, nodeCount, nil
		}

		to, err := cg.nextNode(ctx, state, current)
		if err != nil {
			return state, nodeCount, err
		}
		previous = current
		current = to
	}
}

// execute runs one node and applies its failure policy.
// It returns the resulting state, the number of function nodes executed,
// and an error only when the cycle must abort.
func (cg *CompiledGraph[S]) execute(ctx Context, cfg *runConfig, id string, n *node[S], state S, iterations *int) (S, int, error) {
	if n.sub != nil {
		return n.sub.loop(ctx, cfg, state, iterations)
	}

	observability.LogNodeStart(cfg.logger, id, n.cfg.reads)

	var spanCtx context.Context = ctx
	var span trace.Span
	if cfg.tracingEnabled {
		spanCtx, span = cfg.spans.StartNodeSpan(ctx, id)
	}
	nodeCtx := withNodeID(withStdContext(ctx, spanCtx), id)

	elapsed := observability.TimedOperation()
	start := time.Now()
	out, err := invoke(nodeCtx, id, n.fn, state.Clone())
	duration := time.Since(start)

	if err == nil {
		cfg.metrics.RecordNodeExecution(spanCtx, id, "ok", duration)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(span, nil)
		}
		observability.LogNodeComplete(cfg.logger, id, elapsed())
		return out, 1, nil
	}

	if cfg.tracingEnabled {
		cfg.spans.EndSpanWithError(span, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		cfg.metrics.RecordNodeExecution(spanCtx, id, "cancelled", duration)
		return state, 1, &CancellationError{
			NodeID:       id,
			State:        state,
			Cause:        ctxErr,
			WasExecuting: true,
		}
	}

	code := errorCode(id, n, err)

	if n.cfg.policy == PolicyRaise {
		failed := state.Clone()
		failed.RecordError(code)
		cfg.metrics.RecordNodeExecution(spanCtx, id, "raised", duration)
		observability.LogNodeError(cfg.logger, id, err)
		return failed, 1, &NodeError{NodeID: id, Op: "execute", Code: code, Err: err}
	}

	recovered := state.Clone()
	if n.cfg.policy == PolicyClear {
		for _, path := range n.cfg.writes {
			recovered.ClearPath(path)
		}
	}
	recovered.RecordError(code)
	if cg.recovery != nil {
		recovered = cg.recovery(nodeCtx, id, code, recovered)
	}

	cfg.metrics.RecordNodeExecution(spanCtx, id, "recovered", duration)
	observability.LogNodeRecovered(cfg.logger, id, n.cfg.policy.String(), code, err)
	return recovered, 1, nil
}

// invoke calls a node function, converting panics into *PanicError.
func invoke[S any](ctx Context, id string, fn NodeFunc[S], in S) (result S, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = in
			err = &PanicError{
				NodeID: id,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return fn(ctx, in)
}

// errorCode picks the diagnostic code for a failure: the node's ErrorCode
// option, then a code carried by the error, then "<node>_<class>".
func errorCode[S State[S]](id string, n *node[S], err error) string {
	if n.cfg.codeFn != nil {
		if code := n.cfg.codeFn(id, err); code != "" {
			return code
		}
	}
	if code, ok := flowerrors.CodeOf(err); ok {
		return code
	}
	return id + "_" + string(flowerrors.Classify(err))
}

// nextNode resolves the transition out of current.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if to, ok := cg.edges[current]; ok {
		return to, nil
	}

	cond, ok := cg.conditionals[current]
	if !ok {
		return "", &NodeError{NodeID: current, Op: "routing", Err: ErrNoTransition}
	}

	outcome, err := route(withNodeID(ctx, current), current, cond.router, state.Clone())
	if err != nil {
		return "", &RouterError{FromNode: current, Returned: outcome, Err: err}
	}

	to, ok := cond.routes[outcome]
	if !ok {
		return "", &RouterError{FromNode: current, Returned: outcome, Err: ErrUnknownOutcome}
	}
	return to, nil
}

func route[S any](ctx Context, id string, router RouterFunc[S], state S) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: id, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return router(ctx, state), nil
}

// checkpoint writes a record when the state's encoding differs from the
// last one written (or loaded) in this cycle.
func (cg *CompiledGraph[S]) checkpoint(ctx Context, cfg *runConfig, nodeID string, state S) error {
	if cfg.checkpointStore == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return checkpointFailure(cfg, nodeID, "serialize", fmt.Errorf("%w: %v", ErrSerializeState, err))
	}

	digest := checkpoint.Digest(data)
	if digest == cfg.lastDigest {
		return nil
	}

	rec := checkpoint.New(cfg.runID, cfg.version+1, nodeID, data).WithStep(stepOf(state))
	if err := cfg.checkpointStore.Put(ctx, rec); err != nil {
		return checkpointFailure(cfg, nodeID, "put", err)
	}

	cfg.version = rec.Version
	cfg.lastDigest = digest
	observability.LogCheckpoint(cfg.logger, nodeID, rec.Version, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

func checkpointFailure(cfg *runConfig, nodeID, op string, err error) error {
	if cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(cfg.logger, nodeID, op, err)
	return nil
}

func stepOf(state any) string {
	if s, ok := state.(stepper); ok {
		return s.Step()
	}
	return ""
}
