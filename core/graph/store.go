package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Store owns the live graph. All methods are safe for concurrent use; the
// mutation lock is held only for the duration of a single operation, so UI
// edits proceed while runs work on their snapshots.
type Store struct {
	mutex sync.RWMutex

	nodes map[NodeID]*Node

	// nodeOrder preserves insertion order so snapshots and listings are
	// deterministic.
	nodeOrder []NodeID

	edges   []Edge
	edgeSeq uint64

	version uint64
}

// NewStore creates an empty Store at version 0.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[NodeID]*Node),
		nodeOrder: make([]NodeID, 0),
		edges:     make([]Edge, 0),
	}
}

// Version returns the monotonic graph version. It increases by exactly one
// on every successful mutation.
func (store *Store) Version() uint64 {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return store.version
}

// AddNode creates a node with a fresh unique id. It always succeeds. New
// nodes start Idle and stale.
func (store *Store) AddNode(kind NodeKind, config NodeConfig) NodeID {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	nodeID := NodeID(uuid.NewString())
	store.nodes[nodeID] = &Node{
		ID:     nodeID,
		Kind:   kind,
		Config: config.Clone(),
		Status: StatusIdle,
		Stale:  true,

		staleSince: store.version + 1,
	}
	store.nodeOrder = append(store.nodeOrder, nodeID)
	store.version++
	return nodeID
}

// RemoveNode deletes the node and every edge touching it. Former downstream
// nodes become stale.
func (store *Store) RemoveNode(nodeID NodeID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.nodes[nodeID]; !exists {
		return fmt.Errorf("remove node %q: %w", nodeID, ErrNotFound)
	}

	store.markStaleLocked(store.downstreamLocked(nodeID)...)

	delete(store.nodes, nodeID)
	store.nodeOrder = slices.DeleteFunc(store.nodeOrder, func(candidate NodeID) bool {
		return candidate == nodeID
	})
	store.edges = slices.DeleteFunc(store.edges, func(edge Edge) bool {
		return edge.Source == nodeID || edge.Target == nodeID
	})
	store.version++
	return nil
}

// AddEdge wires source to target on the given slot. The graph is checked for
// reachability from target back to source before insertion, so a rejected
// edge never touches the edge set.
func (store *Store) AddEdge(source, target NodeID, slot string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if _, exists := store.nodes[source]; !exists {
		return fmt.Errorf("add edge: source %q: %w", source, ErrNotFound)
	}
	if _, exists := store.nodes[target]; !exists {
		return fmt.Errorf("add edge: target %q: %w", target, ErrNotFound)
	}
	for _, edge := range store.edges {
		if edge.sameLink(source, target, slot) {
			return fmt.Errorf("add edge %q -> %q (slot %q): %w", source, target, slot, ErrDuplicateEdge)
		}
	}
	if reachable(store.edges, target, source) {
		return fmt.Errorf("add edge %q -> %q: %w", source, target, ErrCycleDetected)
	}

	store.edgeSeq++
	store.edges = append(store.edges, Edge{Source: source, Target: target, Slot: slot, Seq: store.edgeSeq})
	store.markStaleLocked(target)
	store.version++
	return nil
}

// RemoveEdge deletes the edge matching source, target and slot.
func (store *Store) RemoveEdge(source, target NodeID, slot string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	edgeIndex := slices.IndexFunc(store.edges, func(edge Edge) bool {
		return edge.sameLink(source, target, slot)
	})
	if edgeIndex < 0 {
		return fmt.Errorf("remove edge %q -> %q (slot %q): %w", source, target, slot, ErrNotFound)
	}

	store.edges = slices.Delete(store.edges, edgeIndex, edgeIndex+1)
	store.markStaleLocked(target)
	store.version++
	return nil
}

// UpdateConfig replaces the node's configuration.
func (store *Store) UpdateConfig(nodeID NodeID, config NodeConfig) error {
	return store.edit(nodeID, "update config", func(node *Node) {
		node.Config = config.Clone()
	})
}

// SetText replaces the text payload of a text or file_import node.
func (store *Store) SetText(nodeID NodeID, text string) error {
	return store.edit(nodeID, "set text", func(node *Node) {
		node.Config.Text = text
	})
}

// AppendMessage adds a turn to the node's conversation.
func (store *Store) AppendMessage(nodeID NodeID, message Message) error {
	return store.edit(nodeID, "append message", func(node *Node) {
		node.Conversation = append(node.Conversation, message)
	})
}

// ClearConversation empties the node's conversation and output.
func (store *Store) ClearConversation(nodeID NodeID) error {
	return store.edit(nodeID, "clear conversation", func(node *Node) {
		node.Conversation = nil
		node.Output = ""
	})
}

// edit applies a user edit, bumps the node revision and marks the node and
// its descendants stale.
func (store *Store) edit(nodeID NodeID, operation string, apply func(node *Node)) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	node, exists := store.nodes[nodeID]
	if !exists {
		return fmt.Errorf("%s %q: %w", operation, nodeID, ErrNotFound)
	}

	apply(node)
	node.Revision++
	store.markStaleLocked(nodeID)
	store.version++
	return nil
}

// Node returns a copy of the node.
func (store *Store) Node(nodeID NodeID) (Node, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	node, exists := store.nodes[nodeID]
	if !exists {
		return Node{}, fmt.Errorf("node %q: %w", nodeID, ErrNotFound)
	}
	return node.Clone(), nil
}

// Snapshot returns an immutable deep copy of the whole graph. Two snapshots
// taken without an intervening mutation are structurally identical.
func (store *Store) Snapshot() *Graph {
	store.mutex.RLock()
	defer store.mutex.RUnlock()

	nodes := make(map[NodeID]Node, len(store.nodes))
	for nodeID, node := range store.nodes {
		nodes[nodeID] = node.Clone()
	}

	return newGraph(store.version, nodes, slices.Clone(store.nodeOrder), slices.Clone(store.edges))
}

// NodeResult is the outcome of one node in a finished run, flushed back into
// the store by ApplyRun.
type NodeResult struct {
	NodeID       NodeID
	Status       Status
	Input        string
	Output       string
	Error        string
	Reason       string
	Conversation []Message // nil leaves the stored conversation untouched

	// Revision is the node revision the run executed against.
	Revision uint64
}

// ApplyRun flushes the results of a run taken at snapshotVersion into the
// nodes that still exist. Nodes edited (or made stale by an upstream edit)
// while the run was in flight keep their new config and conversation and stay
// stale, so the edit takes effect on the next run.
func (store *Store) ApplyRun(snapshotVersion uint64, results []NodeResult) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	changed := false
	for _, result := range results {
		node, exists := store.nodes[result.NodeID]
		if !exists {
			continue
		}
		changed = true

		node.Status = result.Status
		node.Error = result.Error
		node.Reason = result.Reason
		if result.Status != StatusSucceeded {
			continue
		}

		node.Input = result.Input
		node.Output = result.Output
		if node.Revision != result.Revision {
			continue
		}
		if result.Conversation != nil {
			node.Conversation = slices.Clone(result.Conversation)
		}
		if node.staleSince <= snapshotVersion {
			node.Stale = false
		}
	}

	if changed {
		store.version++
	}
}

// markStaleLocked flags the given nodes and all their descendants as stale.
func (store *Store) markStaleLocked(nodeIDs ...NodeID) {
	pending := slices.Clone(nodeIDs)
	visited := make(map[NodeID]bool)
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		if node, exists := store.nodes[current]; exists {
			node.Stale = true
			node.staleSince = store.version + 1
		}
		pending = append(pending, store.downstreamLocked(current)...)
	}
}

func (store *Store) downstreamLocked(nodeID NodeID) []NodeID {
	targets := make([]NodeID, 0)
	for _, edge := range store.edges {
		if edge.Source == nodeID {
			targets = append(targets, edge.Target)
		}
	}
	return targets
}

// reachable reports whether to can be reached from from by following edges.
// A node always reaches itself.
func reachable(edges []Edge, from, to NodeID) bool {
	if from == to {
		return true
	}

	adjacency := make(map[NodeID][]NodeID)
	for _, edge := range edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	visited := map[NodeID]bool{from: true}
	stack := []NodeID{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adjacency[current] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
