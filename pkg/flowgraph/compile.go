package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. Entry point must be set and reference an existing node
//  2. Every edge source must be an existing node
//  3. Every target must be an existing node, END or AWAIT
//  4. Every node has exactly one transition: one simple edge or one routing table
//  5. Routing tables are non-empty and have no empty outcomes
//  6. PolicyClear nodes declare at least one Writes path
//  7. Some path from the entry reaches END or AWAIT
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d simple edges", ErrMultipleTransitions, from, len(targets)))
		}
		for _, to := range targets {
			if !g.validTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range sortedKeys(g.conditionals) {
		cond := g.conditionals[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if _, hasSimple := g.edges[from]; hasSimple {
			errs = append(errs, fmt.Errorf("%w: node '%s' has both a simple and a conditional edge", ErrMultipleTransitions, from))
		}
		if len(cond.routes) == 0 {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrEmptyRoutes, from))
		}
		for _, outcome := range sortedKeys(cond.routes) {
			if outcome == "" {
				errs = append(errs, fmt.Errorf("%w: node '%s'", ErrEmptyOutcome, from))
			}
			if to := cond.routes[outcome]; !g.validTarget(to) {
				errs = append(errs, fmt.Errorf("%w: route '%s' from '%s' targets '%s'", ErrNodeNotFound, outcome, from, to))
			}
		}
	}

	for _, id := range g.order {
		n := g.nodes[id]
		_, hasSimple := g.edges[id]
		_, hasConditional := g.conditionals[id]
		if !hasSimple && !hasConditional {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoTransition, id))
		}
		if n.cfg.policy == PolicyClear && len(n.cfg.writes) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrClearWithoutWrites, id))
		}
	}

	if _, exists := g.nodes[g.entryPoint]; exists && !g.hasPathToExit() {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes()

	return g.buildCompiledGraph(), nil
}

func (g *Graph[S]) validTarget(to string) bool {
	if to == END || to == AWAIT {
		return true
	}
	_, exists := g.nodes[to]
	return exists
}

// targets returns every declared successor of a node.
func (g *Graph[S]) targets(id string) []string {
	out := append([]string(nil), g.edges[id]...)
	if cond, ok := g.conditionals[id]; ok {
		for _, outcome := range sortedKeys(cond.routes) {
			out = append(out, cond.routes[outcome])
		}
	}
	return out
}

// hasPathToExit checks that END or AWAIT is reachable from the entry.
func (g *Graph[S]) hasPathToExit() bool {
	for id := range g.findReachableNodes() {
		for _, to := range g.targets(id) {
			if to == END || to == AWAIT {
				return true
			}
		}
	}
	return false
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes() {
	reachable := g.findReachableNodes()
	for _, id := range g.order {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry", "graph", g.name, "node_id", id)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
// Routing tables make every conditional target known at compile time.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if _, exists := g.nodes[g.entryPoint]; !exists {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.targets(current) {
			if target == END || target == AWAIT || reachable[target] {
				continue
			}
			reachable[target] = true
			queue = append(queue, target)
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph() *CompiledGraph[S] {
	nodes := make(map[string]*node[S], len(g.nodes))
	for id, n := range g.nodes {
		cp := *n
		cp.cfg.reads = append([]string(nil), n.cfg.reads...)
		cp.cfg.writes = append([]string(nil), n.cfg.writes...)
		nodes[id] = &cp
	}

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditionals := make(map[string]conditional[S], len(g.conditionals))
	for from, cond := range g.conditionals {
		table := make(Routes, len(cond.routes))
		for outcome, target := range cond.routes {
			table[outcome] = target
		}
		conditionals[from] = conditional[S]{router: cond.router, routes: table}
	}

	predecessors := make(map[string][]string)
	for _, from := range g.order {
		for _, to := range g.targets(from) {
			if to != END && to != AWAIT {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	return &CompiledGraph[S]{
		name:         g.name,
		nodes:        nodes,
		order:        append([]string(nil), g.order...),
		edges:        edges,
		conditionals: conditionals,
		entryPoint:   g.entryPoint,
		predecessors: predecessors,
		recovery:     g.recovery,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
