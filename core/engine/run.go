package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/leofalp/mosaik/core/graph"
)

// phase is the scheduler state of a node inside one run.
type phase int

const (
	phasePending phase = iota
	phaseReady
	phaseRunning
	phaseSucceeded
	phaseFailed
	phaseCancelled
)

// status maps a phase to the status reported to UI surfaces. Pending and
// Ready are both reported as queued.
func (nodePhase phase) status() graph.Status {
	switch nodePhase {
	case phaseRunning:
		return graph.StatusRunning
	case phaseSucceeded:
		return graph.StatusSucceeded
	case phaseFailed:
		return graph.StatusFailed
	case phaseCancelled:
		return graph.StatusCancelled
	default:
		return graph.StatusQueued
	}
}

func (nodePhase phase) terminal() bool {
	return nodePhase >= phaseSucceeded
}

// nodeRun is the per-run state of one node in scope.
type nodeRun struct {
	node graph.Node

	phase     phase
	execute   bool // false when the stored output is reused
	remaining int  // in-scope upstream nodes not yet succeeded

	input  string
	output string

	// transcript is the conversation as sent to the provider plus the reply;
	// conversation is what gets flushed back to the store.
	transcript   []graph.Message
	conversation []graph.Message

	err    string
	reason string
	cached bool

	startedAt  time.Time
	finishedAt time.Time
}

// Run is the context of one triggered execution: a snapshot of the graph,
// the node states of its scope, and the cancellation handle. Only the
// scheduler goroutine writes it; readers take snapshots through Snapshot.
type Run struct {
	id      RunID
	trigger graph.NodeID // empty for a whole-graph run

	snapshot *graph.Graph
	order    []graph.NodeID

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	nodes      map[graph.NodeID]*nodeRun
	outcome    graph.Status
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time
}

// ID returns the run id.
func (run *Run) ID() RunID {
	return run.id
}

// Done is closed once every node in scope is terminal and results have been
// flushed to the store.
func (run *Run) Done() <-chan struct{} {
	return run.done
}

// NodeState is the view of one node inside a RunSnapshot.
type NodeState struct {
	Status       graph.Status    `json:"status"`
	Input        string          `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Cached       bool            `json:"cached,omitempty"`
	Conversation []graph.Message `json:"conversation,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	FinishedAt   time.Time       `json:"finished_at,omitzero"`
}

// RunSnapshot is a point-in-time copy of a run.
type RunSnapshot struct {
	ID         RunID                      `json:"id"`
	Trigger    graph.NodeID               `json:"trigger,omitempty"`
	Order      []graph.NodeID             `json:"order"`
	Outcome    graph.Status               `json:"outcome,omitempty"`
	Finished   bool                       `json:"finished"`
	Nodes      map[graph.NodeID]NodeState `json:"nodes"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at,omitzero"`
}

// Snapshot copies the current state of the run.
func (run *Run) Snapshot() RunSnapshot {
	run.mu.RLock()
	defer run.mu.RUnlock()

	snapshot := RunSnapshot{
		ID:         run.id,
		Trigger:    run.trigger,
		Order:      slices.Clone(run.order),
		Outcome:    run.outcome,
		Finished:   !run.finishedAt.IsZero(),
		Nodes:      make(map[graph.NodeID]NodeState, len(run.nodes)),
		StartedAt:  run.startedAt,
		FinishedAt: run.finishedAt,
	}
	for nodeID, state := range run.nodes {
		snapshot.Nodes[nodeID] = NodeState{
			Status:       state.phase.status(),
			Input:        state.input,
			Output:       state.output,
			Error:        state.err,
			Reason:       state.reason,
			Cached:       state.cached,
			Conversation: slices.Clone(state.transcript),
			StartedAt:    state.startedAt,
			FinishedAt:   state.finishedAt,
		}
	}
	return snapshot
}

// liveStatuses returns the reported status of every node in scope.
func (run *Run) liveStatuses() map[graph.NodeID]graph.Status {
	run.mu.RLock()
	defer run.mu.RUnlock()

	statuses := make(map[graph.NodeID]graph.Status, len(run.nodes))
	for nodeID, state := range run.nodes {
		statuses[nodeID] = state.phase.status()
	}
	return statuses
}

// results converts executed node states into store results. Reused nodes
// are skipped because the store already holds their output.
func (run *Run) results() []graph.NodeResult {
	run.mu.RLock()
	defer run.mu.RUnlock()

	results := make([]graph.NodeResult, 0, len(run.order))
	for _, nodeID := range run.order {
		state := run.nodes[nodeID]
		if state.cached {
			continue
		}
		result := graph.NodeResult{
			NodeID:   nodeID,
			Status:   state.phase.status(),
			Input:    state.input,
			Output:   state.output,
			Error:    state.err,
			Reason:   state.reason,
			Revision: state.node.Revision,
		}
		if state.node.Kind == graph.KindChat && state.phase == phaseSucceeded {
			result.Conversation = slices.Clone(state.conversation)
		}
		results = append(results, result)
	}
	return results
}
