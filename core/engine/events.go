package engine

import (
	"time"

	"github.com/leofalp/mosaik/core/graph"
)

// RunID identifies one triggered execution.
type RunID string

// EventType identifies the kind of an Event.
type EventType string

const (
	// EventRunStarted opens a run. Nodes lists its scope in execution order.
	EventRunStarted EventType = "run_started"

	// EventNodeStatus reports a node status transition.
	EventNodeStatus EventType = "node_status"

	// EventNodeFragment carries a streamed piece of a node's response.
	EventNodeFragment EventType = "node_fragment"

	// EventNodeReasoning carries a streamed piece of a node's reasoning.
	EventNodeReasoning EventType = "node_reasoning"

	// EventRunFinished closes a run. Status holds the run outcome.
	EventRunFinished EventType = "run_finished"
)

// Event is one entry of the sink's ordered log.
//
// For a given node, events are causal: queued, then running, then any
// fragments, then exactly one terminal status.
type Event struct {
	// Seq is assigned by the sink and increases by one per event.
	Seq uint64 `json:"seq"`

	Type   EventType    `json:"type"`
	RunID  RunID        `json:"run_id"`
	NodeID graph.NodeID `json:"node_id,omitempty"`
	Status graph.Status `json:"status,omitempty"`

	Fragment  string `json:"fragment,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`

	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Cached is set on a succeeded status whose output was reused.
	Cached bool `json:"cached,omitempty"`

	Nodes []graph.NodeID `json:"nodes,omitempty"`
	Time  time.Time      `json:"time"`
}

// Terminal reports whether the event is the final status event of a node.
func (event Event) Terminal() bool {
	return event.Type == EventNodeStatus && event.Status.Terminal()
}
