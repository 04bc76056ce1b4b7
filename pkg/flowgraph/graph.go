package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// AddConditionalEdge and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flowgraph.NewGraph[*state.Conversation]("intake").
//	    AddNode("extract_name", extractName, flowgraph.Writes("customer")).
//	    AddNode("extract_phone", extractPhone, flowgraph.Writes("customer.phone")).
//	    AddEdge("extract_name", "extract_phone").
//	    AddEdge("extract_phone", flowgraph.AWAIT).
//	    SetEntry("extract_name")
//
//	compiled, err := graph.Compile()
type Graph[S State[S]] struct {
	mu           sync.RWMutex
	name         string
	nodes        map[string]*node[S]
	order        []string
	edges        map[string][]string
	conditionals map[string]conditional[S]
	entryPoint   string
	recovery     RecoveryHook[S]
}

// NewGraph creates a new graph builder for state type S.
// The name labels spans and logs.
func NewGraph[S State[S]](name string) *Graph[S] {
	return &Graph[S]{
		name:         name,
		nodes:        make(map[string]*node[S]),
		edges:        make(map[string][]string),
		conditionals: make(map[string]conditional[S]),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty, reserved (END, AWAIT) or contains whitespace
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S], opts ...NodeOption) *Graph[S] {
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}
	return g.add(id, &node[S]{fn: fn}, opts)
}

// AddSubgraph adds a compiled graph as a single node.
// The subgraph shares the parent's run configuration: checkpoint versions,
// logger and metrics continue across the boundary. When the subgraph pauses
// the parent cycle pauses too. Errors from inside the subgraph have already
// been through the inner nodes' policies and abort the parent cycle.
func (g *Graph[S]) AddSubgraph(id string, sub *CompiledGraph[S], opts ...NodeOption) *Graph[S] {
	if sub == nil {
		panic("flowgraph: subgraph cannot be nil")
	}
	return g.add(id, &node[S]{sub: sub}, opts)
}

func (g *Graph[S]) add(id string, n *node[S], opts []NodeOption) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}
	if isReserved(id) {
		panic(fmt.Sprintf("flowgraph: node ID cannot be reserved word %q", id))
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}

	for _, opt := range opts {
		opt(&n.cfg)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = n
	g.order = append(g.order, id)
	return g
}

func isReserved(id string) bool {
	switch strings.ToLower(id) {
	case "end", END, "await", AWAIT:
		return true
	}
	return false
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID, END or AWAIT.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a routing table to a node. After the node runs,
// router picks an outcome and routes maps it to the next target.
// Compile rejects empty tables and unknown targets; an outcome missing
// from the table at runtime is a *RouterError.
//
// A node can have either a simple edge or a conditional edge, not both.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], routes Routes) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	table := make(Routes, len(routes))
	for outcome, target := range routes {
		table[outcome] = target
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionals[from] = conditional[S]{router: router, routes: table}
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}

// SetRecoveryHook installs a hook that runs after a log or clear policy
// absorbed a failure in one of this graph's nodes.
func (g *Graph[S]) SetRecoveryHook(hook RecoveryHook[S]) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recovery = hook
	return g
}
