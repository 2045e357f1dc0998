// Package graph is the authoritative, live-editable model of a mosaik canvas:
// nodes, the directed edges wiring them together, and the structural
// invariants that keep the edge set acyclic.
//
// [Store] owns all node and edge data. Every successful mutation bumps a
// monotonic version counter that UI surfaces poll to detect external
// changes. A running workflow never reads the Store directly; it works on a
// [Graph] obtained from [Store.Snapshot], an immutable deep copy that later
// edits cannot affect.
//
// Structural failures are reported synchronously with sentinel errors
// ([ErrNotFound], [ErrCycleDetected], [ErrDuplicateEdge]) wrapped with
// context; callers match them with errors.Is. A rejected mutation leaves the
// Store unchanged.
//
// Example:
//
//	store := graph.NewStore()
//	intro := store.AddNode(graph.KindText, graph.NodeConfig{Text: "Hello"})
//	writer := store.AddNode(graph.KindChat, graph.NodeConfig{Provider: "ollama", Model: "llama3"})
//	if err := store.AddEdge(intro, writer, ""); err != nil {
//	    log.Fatal(err)
//	}
//	snapshot := store.Snapshot()
package graph
