package flowgraph

import "fmt"

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// AWAIT ends the current processing cycle and waits for the next inbound
// message. Reaching it calls Await on the state.
const AWAIT = "__await__"

// State is the contract the executor needs from a state type.
//
// Clone must return a deep copy: nodes and routers receive clones, and a
// failed node's policy is applied to a clone of the pre-node state.
type State[S any] interface {
	Clone() S

	// RecordError appends a diagnostic code.
	RecordError(code string)

	// ClearPath nulls a declared write path (PolicyClear).
	ClearPath(path string)

	// Await marks the state as waiting for the next message.
	Await()

	// Awaiting reports whether the cycle must stop after the current node.
	Awaiting() bool
}

// stepper is optionally implemented by states that expose a named position.
// The step is stored on checkpoint records.
type stepper interface {
	Step() string
}

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and a clone of the current state,
// and return the updated state and any error.
//
// Example:
//
//	func extractName(ctx flowgraph.Context, s *state.Conversation) (*state.Conversation, error) {
//	    name, err := tier.Extract(ctx, s.UserMessage)
//	    if err != nil {
//	        return s, err
//	    }
//	    return s, s.Set("customer.first_name", name)
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc returns a routing outcome for a conditional edge.
// The outcome is looked up in the edge's Routes table. Routers receive a
// clone of the state, so they cannot mutate it.
type RouterFunc[S any] func(ctx Context, state S) string

// Routes maps router outcomes to targets (node IDs, END or AWAIT).
type Routes map[string]string

// RecoveryHook runs after a log or clear policy absorbed a node failure.
// It receives the recovered state and may adjust it, for example to tell
// the user which step failed.
type RecoveryHook[S any] func(ctx Context, nodeID, code string, state S) S

// Policy is a node's failure policy.
type Policy int

const (
	// PolicyLog appends the error code and continues.
	PolicyLog Policy = iota
	// PolicyClear nulls the node's Writes paths, appends the code, and continues.
	PolicyClear
	// PolicyRaise aborts the cycle with a *NodeError.
	PolicyRaise
)

func (p Policy) String() string {
	switch p {
	case PolicyLog:
		return "log"
	case PolicyClear:
		return "clear"
	case PolicyRaise:
		return "raise"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// NodeSpec describes a node's declared effects.
type NodeSpec struct {
	ID     string
	Reads  []string
	Writes []string
	Policy Policy

	// Subgraph is true for nodes added with AddSubgraph.
	Subgraph bool
}

// NodeOption configures a node.
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	reads  []string
	writes []string
	policy Policy
	codeFn func(nodeID string, err error) string
}

// Reads declares the state paths a node reads.
func Reads(paths ...string) NodeOption {
	return func(c *nodeConfig) {
		c.reads = append(c.reads, paths...)
	}
}

// Writes declares the state paths a node may write.
// PolicyClear nulls exactly these paths.
func Writes(paths ...string) NodeOption {
	return func(c *nodeConfig) {
		c.writes = append(c.writes, paths...)
	}
}

// OnFailure sets the node's failure policy. The default is PolicyLog.
func OnFailure(p Policy) NodeOption {
	return func(c *nodeConfig) {
		c.policy = p
	}
}

// ErrorCode overrides how a failure is turned into the code appended to
// the state's errors. Returning "" falls back to the default code.
func ErrorCode(fn func(nodeID string, err error) string) NodeOption {
	return func(c *nodeConfig) {
		c.codeFn = fn
	}
}

// node is a registered node: either a function or a compiled subgraph.
type node[S State[S]] struct {
	cfg nodeConfig
	fn  NodeFunc[S]
	sub *CompiledGraph[S]
}

func (n *node[S]) spec(id string) NodeSpec {
	return NodeSpec{
		ID:       id,
		Reads:    append([]string(nil), n.cfg.reads...),
		Writes:   append([]string(nil), n.cfg.writes...),
		Policy:   n.cfg.policy,
		Subgraph: n.sub != nil,
	}
}

// conditional is a router plus its outcome table.
type conditional[S any] struct {
	router RouterFunc[S]
	routes Routes
}
