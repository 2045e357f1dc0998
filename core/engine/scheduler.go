package engine

import (
	"context"
	"errors"
	"time"

	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/observability"
)

// coordinate drives one run to completion. It is the only goroutine that
// writes the run state, so transitions are serialized even though node
// workers execute concurrently.
//
// The loop:
//  1. Reports every node in scope as queued, in topological order.
//  2. Starts ready nodes in topological order, reusing cached outputs
//     immediately and waiting for sink capacity and an in-flight slot before
//     each execution.
//  3. Applies worker outcomes: success readies dependents whose upstream
//     nodes have all succeeded, failure fails every in-scope dependent
//     without running it.
//  4. On cancellation, settles pending and ready nodes as cancelled and
//     waits for running workers to return.
//  5. Flushes the results into the store and reports the run outcome.
func (engine *Engine) coordinate(run *Run) {
	ctx := run.ctx
	startedAt := time.Now()
	engine.observeRunStart(&ctx, run)

	engine.sink.Publish(Event{Type: EventRunStarted, RunID: run.id, NodeID: run.trigger, Nodes: run.order})
	for _, nodeID := range run.order {
		engine.publishStatus(run, nodeID, graph.StatusQueued, false)
	}

	results := make(chan nodeOutcome, len(run.order))
	inFlight := 0
	cancelHandled := false
	ctxDone := ctx.Done()

	for {
		if ctx.Err() == nil {
			inFlight += engine.startReady(ctx, run, results)
		}
		if ctx.Err() != nil && !cancelHandled {
			cancelHandled = true
			ctxDone = nil
			engine.settleCancelled(ctx, run)
		}
		if inFlight == 0 {
			break
		}

		select {
		case outcome := <-results:
			inFlight--
			engine.applyOutcome(ctx, run, outcome)
		case <-ctxDone:
		}
	}

	engine.finish(ctx, run, time.Since(startedAt))
}

// startReady starts every ready node and returns how many workers it
// spawned. Reused nodes complete inline, which may ready further nodes later
// in the order; a single pass in topological order picks those up as well.
func (engine *Engine) startReady(ctx context.Context, run *Run, results chan<- nodeOutcome) int {
	started := 0
	for _, nodeID := range run.order {
		state := run.nodes[nodeID]
		if state.phase != phaseReady {
			continue
		}

		if !state.execute {
			engine.commitCached(ctx, run, nodeID)
			continue
		}

		if err := engine.sink.WaitCapacity(ctx, engine.config.backpressureTimeout); err != nil {
			if ctx.Err() != nil {
				return started
			}
			if engine.observer != nil && errors.Is(err, errBackpressureTimeout) {
				engine.observer.Warn(ctx, "event subscribers are lagging, starting node anyway",
					observability.String(observability.AttrRunID, string(run.id)),
					observability.String(observability.AttrNodeID, string(nodeID)),
				)
			}
		}
		if !engine.acquireSlot(ctx) {
			return started
		}

		work := execution{runID: run.id, node: state.node, inputs: run.inputsFor(nodeID)}

		run.mu.Lock()
		state.phase = phaseRunning
		state.startedAt = time.Now()
		run.mu.Unlock()
		engine.publishStatus(run, nodeID, graph.StatusRunning, false)

		started++
		go engine.runWorker(ctx, work, results)
	}
	return started
}

// commitCached completes a node whose stored output is reused.
func (engine *Engine) commitCached(ctx context.Context, run *Run, nodeID graph.NodeID) {
	run.mu.Lock()
	state := run.nodes[nodeID]
	state.phase = phaseSucceeded
	state.cached = true
	state.output = storedOutput(state.node)
	state.input = state.node.Input
	state.transcript = state.node.Conversation
	now := time.Now()
	state.startedAt, state.finishedAt = now, now
	run.mu.Unlock()

	engine.publishStatus(run, nodeID, graph.StatusSucceeded, true)
	engine.observeNodeSettled(ctx, state.node, graph.StatusSucceeded, "", true)
	engine.readyDependents(run, nodeID)
}

// applyOutcome commits a worker outcome and schedules its consequences.
func (engine *Engine) applyOutcome(ctx context.Context, run *Run, outcome nodeOutcome) {
	status := outcome.status()

	run.mu.Lock()
	state := run.nodes[outcome.nodeID]
	state.finishedAt = time.Now()
	state.input = outcome.input
	switch status {
	case graph.StatusSucceeded:
		state.phase = phaseSucceeded
		state.output = outcome.output
		state.transcript = outcome.transcript
		state.conversation = outcome.conversation
	case graph.StatusCancelled:
		state.phase = phaseCancelled
		state.reason = ReasonCancelled
	default:
		state.phase = phaseFailed
		state.err = errorMessage(outcome.err)
		state.reason = reasonOf(outcome.err)
	}
	run.mu.Unlock()

	engine.publishStatus(run, outcome.nodeID, status, false)

	switch status {
	case graph.StatusSucceeded:
		engine.readyDependents(run, outcome.nodeID)
	case graph.StatusCancelled:
		engine.settleDependents(ctx, run, outcome.nodeID, phaseCancelled, ReasonCancelled, "")
	default:
		engine.settleDependents(ctx, run, outcome.nodeID, phaseFailed, ReasonUpstreamFailed,
			"upstream node "+string(outcome.nodeID)+" failed")
	}
}

// readyDependents moves in-scope dependents whose upstream nodes have all
// succeeded from pending to ready.
func (engine *Engine) readyDependents(run *Run, nodeID graph.NodeID) {
	run.mu.Lock()
	defer run.mu.Unlock()

	for _, dependentID := range run.snapshot.Downstream(nodeID) {
		dependent, inScope := run.nodes[dependentID]
		if !inScope || dependent.phase != phasePending {
			continue
		}
		dependent.remaining--
		if dependent.remaining == 0 {
			dependent.phase = phaseReady
		}
	}
}

// settleDependents moves every pending in-scope node downstream of nodeID
// straight to a terminal phase. Their provider is never called.
func (engine *Engine) settleDependents(ctx context.Context, run *Run, nodeID graph.NodeID, terminal phase, reason, message string) {
	descendants := run.snapshot.Descendants(nodeID)
	for _, dependentID := range run.order {
		if !descendants[dependentID] {
			continue
		}
		run.mu.Lock()
		dependent := run.nodes[dependentID]
		if dependent.phase.terminal() || dependent.phase == phaseRunning {
			run.mu.Unlock()
			continue
		}
		dependent.phase = terminal
		dependent.reason = reason
		dependent.err = message
		dependent.finishedAt = time.Now()
		run.mu.Unlock()

		engine.publishStatus(run, dependentID, terminal.status(), false)
		engine.observeNodeSettled(ctx, dependent.node, terminal.status(), reason, false)
	}
}

// settleCancelled cancels every node that has not started.
func (engine *Engine) settleCancelled(ctx context.Context, run *Run) {
	run.mu.Lock()
	run.cancelled = true
	run.mu.Unlock()

	for _, nodeID := range run.order {
		run.mu.Lock()
		state := run.nodes[nodeID]
		if state.phase != phasePending && state.phase != phaseReady {
			run.mu.Unlock()
			continue
		}
		state.phase = phaseCancelled
		state.reason = ReasonCancelled
		state.finishedAt = time.Now()
		run.mu.Unlock()

		engine.publishStatus(run, nodeID, graph.StatusCancelled, false)
		engine.observeNodeSettled(ctx, state.node, graph.StatusCancelled, ReasonCancelled, false)
	}
}

// finish flushes the run into the store, retires it and publishes the run
// outcome. Done is closed last, so waiters observe the flushed store.
func (engine *Engine) finish(ctx context.Context, run *Run, duration time.Duration) {
	outcome := run.computeOutcome()

	engine.store.ApplyRun(run.snapshot.Version(), run.results())

	run.mu.Lock()
	run.outcome = outcome
	run.finishedAt = time.Now()
	run.mu.Unlock()

	engine.retire(run)
	engine.sink.Publish(Event{Type: EventRunFinished, RunID: run.id, NodeID: run.trigger, Status: outcome})
	engine.observeRunFinished(ctx, run, outcome, duration)
	run.cancel()
	close(run.done)
}

// publishStatus emits a node status event built from the current state.
func (engine *Engine) publishStatus(run *Run, nodeID graph.NodeID, status graph.Status, cached bool) {
	event := Event{Type: EventNodeStatus, RunID: run.id, NodeID: nodeID, Status: status, Cached: cached}
	if status == graph.StatusFailed || status == graph.StatusCancelled {
		run.mu.RLock()
		state := run.nodes[nodeID]
		event.Error = state.err
		event.Reason = state.reason
		run.mu.RUnlock()
	}
	engine.sink.Publish(event)
}

// computeOutcome derives the run outcome: cancelled when the user cancelled
// it, failed when any node failed, cancelled when a node was cancelled, and
// succeeded otherwise.
func (run *Run) computeOutcome() graph.Status {
	run.mu.RLock()
	defer run.mu.RUnlock()

	if run.cancelled {
		return graph.StatusCancelled
	}
	outcome := graph.StatusSucceeded
	for _, state := range run.nodes {
		switch state.phase {
		case phaseFailed:
			return graph.StatusFailed
		case phaseCancelled:
			outcome = graph.StatusCancelled
		}
	}
	return outcome
}

// inputsFor materializes the inbound edges of nodeID in insertion order.
// In-scope sources contribute their output from this run; sources outside
// the scope contribute what the snapshot holds, if their last run succeeded.
func (run *Run) inputsFor(nodeID graph.NodeID) []upstreamInput {
	run.mu.RLock()
	defer run.mu.RUnlock()

	edges := run.snapshot.Inbound(nodeID)
	inputs := make([]upstreamInput, 0, len(edges))
	for _, edge := range edges {
		value := ""
		if state, inScope := run.nodes[edge.Source]; inScope {
			value = state.output
		} else if source, exists := run.snapshot.Node(edge.Source); exists {
			value = upstreamOutput(source)
		}
		inputs = append(inputs, upstreamInput{Source: edge.Source, Slot: edge.Slot, Value: value})
	}
	return inputs
}
