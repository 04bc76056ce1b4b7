package flowgraph

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
//
// Use the introspection methods (NodeIDs, Successors, Routes, etc.) to
// examine the graph structure for debugging or visualization.
type CompiledGraph[S State[S]] struct {
	name         string
	nodes        map[string]*node[S]
	order        []string
	edges        map[string]string
	conditionals map[string]conditional[S]
	entryPoint   string
	predecessors map[string][]string
	recovery     RecoveryHook[S]
}

// Name returns the graph name.
func (cg *CompiledGraph[S]) Name() string {
	return cg.name
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in insertion order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return append([]string(nil), cg.order...)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Node returns the declared effects of a node.
func (cg *CompiledGraph[S]) Node(id string) (NodeSpec, bool) {
	n, exists := cg.nodes[id]
	if !exists {
		return NodeSpec{}, false
	}
	return n.spec(id), true
}

// Successors returns the target of a node's simple edge, or every target
// of its routing table. Returns nil for END, AWAIT or unknown nodes.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if to, ok := cg.edges[id]; ok {
		return []string{to}
	}
	cond, ok := cg.conditionals[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cond.routes))
	seen := make(map[string]bool)
	for _, outcome := range sortedKeys(cond.routes) {
		to := cond.routes[outcome]
		if !seen[to] {
			seen[to] = true
			out = append(out, to)
		}
	}
	return out
}

// Predecessors returns the node IDs that can transition to the given node.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional returns true if the node has a routing table.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionals[id]
	return ok
}

// Routes returns a copy of a node's routing table, or nil.
func (cg *CompiledGraph[S]) Routes(id string) Routes {
	cond, ok := cg.conditionals[id]
	if !ok {
		return nil
	}
	out := make(Routes, len(cond.routes))
	for k, v := range cond.routes {
		out[k] = v
	}
	return out
}
