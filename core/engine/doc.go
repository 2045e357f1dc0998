// Package engine executes mosaik graphs.
//
// An [Engine] sits between UI surfaces and the [graph.Store]. Edits are
// forwarded to the store as they arrive; a run is started with
// [Engine.TriggerRun] (a start node and everything downstream of it, or the
// whole graph) or [Engine.Chat] (one chat node). Each run works on a snapshot
// taken when it was triggered, so edits made while it is in flight only take
// effect on the next run.
//
// # Scheduling
//
// Within a run every node moves through Pending, Ready, Running and one of
// Succeeded, Failed or Cancelled. A node becomes Ready once all of its
// upstream nodes in the run have succeeded. Independent branches execute
// concurrently, bounded engine-wide by [WithMaxInFlight]. A failed node fails
// every node downstream of it without running them. [Engine.CancelRun]
// cancels nodes that have not started and asks running provider calls to
// stop.
//
// Nodes outside the start node's downstream closure whose stored output is
// still fresh are not executed again: they are reported queued and then
// succeeded with Cached set.
//
// # Events
//
// Every transition and every streamed fragment is published to a [Sink], an
// ordered log that any number of subscribers read at their own pace. Publish
// never blocks and never drops; when the slowest subscriber trails by more
// than the configured buffer, new node starts wait for it.
//
// Example:
//
//	eng := engine.New(store, registry)
//	events := eng.Subscribe()
//	defer events.Close()
//
//	runID, err := eng.TriggerRun(ctx, writer)
//	if err != nil {
//	    return err
//	}
//	for event := range events.Events(ctx) {
//	    if event.Type == engine.EventNodeFragment {
//	        fmt.Print(event.Fragment)
//	    }
//	    if event.Type == engine.EventRunFinished && event.RunID == runID {
//	        break
//	    }
//	}
package engine
