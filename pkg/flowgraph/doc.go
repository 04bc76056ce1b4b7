/*
Package flowgraph runs conversational workflows as directed graphs.

# Overview

A conversation is driven one inbound message at a time. Each message runs
one processing cycle: the graph is entered at its entry node, nodes run
along edges, and the cycle stops at END, at AWAIT, or after any node that
leaves the state waiting for input. The next message re-enters at the
entry node, where a routing table decides where the conversation resumes.

The state type implements State[S]: it can be cloned, record diagnostic
codes, clear a path, and be marked as awaiting input.

# Basic Usage

	intake := flowgraph.NewGraph[*state.Conversation]("intake").
	    AddNode("extract_name", extractName,
	        flowgraph.Reads("user_message"),
	        flowgraph.Writes("customer")).
	    AddNode("extract_phone", extractPhone,
	        flowgraph.Writes("customer.phone")).
	    AddEdge("extract_name", flowgraph.AWAIT).
	    AddEdge("extract_phone", flowgraph.AWAIT).
	    SetEntry("extract_name")

	compiled, err := intake.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	conv, err = compiled.Run(ctx, conv)

# Routing Tables

Conditional edges are explicit state-machine tables. The router returns an
outcome; the table maps outcomes to targets. Compile rejects empty tables
and unknown targets, and an unlisted outcome at runtime is a *RouterError.

	graph.AddConditionalEdge("resume", resumeRoute, flowgraph.Routes{
	    "vehicle":  "extract_vehicle_selection",
	    "service":  "extract_service_selection",
	    "fresh":    "lookup_customer",
	})

Routers receive a clone of the state and cannot change it.

# Failure Policies

Every node has a failure policy:

  - PolicyLog (default) appends a code to the state's errors and continues
  - PolicyClear also nulls the node's declared Writes paths
  - PolicyRaise aborts the cycle with *NodeError

Policies are applied to the state as it was before the node ran, so a
failing node never leaves half-written data behind. Panics are failures
like any other. The default code is "<node>_<class>", where the class
comes from errors.Classify; errors implementing Code() supply their own.

A graph's RecoveryHook runs after log and clear policies, which lets a
workflow tell the user which step failed and pause.

# Subgraphs

Compiled graphs compose as nodes with AddSubgraph. Each group keeps its own
entry routing and pause logic and can be tested alone. A pause inside a
group pauses the parent.

# Checkpointing

	result, err := compiled.Run(ctx, conv,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithRunID(conv.ConversationID),
	    flowgraph.WithStartVersion(loaded.Version))

After each node, the state is encoded and hashed; a new record with the
next version is written only when the hash changed. Resume loads the latest
record and runs a new cycle from the entry node.

# Observability

	result, err := compiled.Run(ctx, conv,
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(true),
	    flowgraph.WithTracing(true))

Logs include run_id, node_id, duration_ms and policy outcomes.
Spans: wapiflow.cycle > wapiflow.node.{id}.

# Thread Safety

  - Graph[S] is NOT safe for concurrent use during construction
  - CompiledGraph[S] IS safe for concurrent use (immutable)
  - Runs for the same conversation must be serialized by the caller

# Subpackages

  - checkpoint: Record, Store, memory/SQLite/dual-tier stores
  - config: typed configuration with file and environment layering
  - errors: failure classification, collaborator taxonomy, retry
  - observability: logging, metrics, tracing helpers
*/
package flowgraph
