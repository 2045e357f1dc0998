package graph

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
)

// newChain builds a store with the given number of text nodes wired in a line.
func newChain(testCase *testing.T, length int) (*Store, []NodeID) {
	testCase.Helper()
	store := NewStore()
	nodeIDs := make([]NodeID, 0, length)
	for index := 0; index < length; index++ {
		nodeIDs = append(nodeIDs, store.AddNode(KindText, NodeConfig{Text: "n"}))
	}
	for index := 1; index < length; index++ {
		if err := store.AddEdge(nodeIDs[index-1], nodeIDs[index], ""); err != nil {
			testCase.Fatalf("failed to wire chain: %v", err)
		}
	}
	return store, nodeIDs
}

func TestAddNode_AssignsUniqueIDsAndBumpsVersion(testCase *testing.T) {
	store := NewStore()

	first := store.AddNode(KindText, NodeConfig{Text: "Hello"})
	second := store.AddNode(KindChat, NodeConfig{Provider: "ollama", Model: "llama3"})

	if first == second {
		testCase.Fatalf("expected distinct ids, both were %q", first)
	}
	if store.Version() != 2 {
		testCase.Errorf("expected version 2, got %d", store.Version())
	}

	node, err := store.Node(first)
	if err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	if node.Status != StatusIdle || !node.Stale {
		testCase.Errorf("expected new node idle and stale, got status=%s stale=%v", node.Status, node.Stale)
	}
}

func TestAddNode_CopiesParams(testCase *testing.T) {
	store := NewStore()
	params := map[string]any{"temperature": 0.2}
	nodeID := store.AddNode(KindChat, NodeConfig{Params: params})

	params["temperature"] = 0.9

	node, _ := store.Node(nodeID)
	if node.Config.Params["temperature"] != 0.2 {
		testCase.Errorf("store aliased caller params: %v", node.Config.Params)
	}
}

func TestRemoveNode_RemovesIncidentEdges(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 3)

	if err := store.RemoveNode(nodeIDs[1]); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}

	snapshot := store.Snapshot()
	if snapshot.Len() != 2 {
		testCase.Errorf("expected 2 nodes, got %d", snapshot.Len())
	}
	if len(snapshot.Edges()) != 0 {
		testCase.Errorf("expected incident edges removed, got %v", snapshot.Edges())
	}
}

func TestRemoveNode_NotFound(testCase *testing.T) {
	store := NewStore()
	versionBefore := store.Version()

	err := store.RemoveNode("missing")
	if !errors.Is(err, ErrNotFound) {
		testCase.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.Version() != versionBefore {
		testCase.Errorf("failed mutation changed version")
	}
}

func TestAddEdge_Errors(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 3)

	tests := []struct {
		name     string
		source   NodeID
		target   NodeID
		slot     string
		expected error
	}{
		{name: "missing source", source: "missing", target: nodeIDs[0], expected: ErrNotFound},
		{name: "missing target", source: nodeIDs[0], target: "missing", expected: ErrNotFound},
		{name: "duplicate", source: nodeIDs[0], target: nodeIDs[1], expected: ErrDuplicateEdge},
		{name: "self loop", source: nodeIDs[1], target: nodeIDs[1], expected: ErrCycleDetected},
		{name: "back edge", source: nodeIDs[2], target: nodeIDs[0], expected: ErrCycleDetected},
		{name: "short back edge", source: nodeIDs[1], target: nodeIDs[0], expected: ErrCycleDetected},
	}

	for _, test := range tests {
		testCase.Run(test.name, func(subTest *testing.T) {
			versionBefore := store.Version()
			edgesBefore := store.Snapshot().Edges()

			err := store.AddEdge(test.source, test.target, test.slot)
			if !errors.Is(err, test.expected) {
				subTest.Fatalf("expected %v, got %v", test.expected, err)
			}
			if store.Version() != versionBefore {
				subTest.Errorf("rejected edge changed version")
			}
			if !reflect.DeepEqual(edgesBefore, store.Snapshot().Edges()) {
				subTest.Errorf("rejected edge changed the edge set")
			}
		})
	}
}

func TestAddEdge_SameEndpointsDifferentSlot(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 2)

	if err := store.AddEdge(nodeIDs[0], nodeIDs[1], "system"); err != nil {
		testCase.Fatalf("expected a second slot to be accepted, got %v", err)
	}

	inbound := store.Snapshot().Inbound(nodeIDs[1])
	if len(inbound) != 2 {
		testCase.Fatalf("expected 2 inbound edges, got %d", len(inbound))
	}
	if inbound[0].Seq >= inbound[1].Seq {
		testCase.Errorf("expected inbound edges in insertion order, got %v", inbound)
	}
}

func TestRemoveEdge(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 2)

	if err := store.RemoveEdge(nodeIDs[0], nodeIDs[1], "other"); !errors.Is(err, ErrNotFound) {
		testCase.Errorf("expected ErrNotFound for wrong slot, got %v", err)
	}
	if err := store.RemoveEdge(nodeIDs[0], nodeIDs[1], ""); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	if len(store.Snapshot().Edges()) != 0 {
		testCase.Errorf("expected edge removed")
	}
	// Once removed, the reverse direction is legal.
	if err := store.AddEdge(nodeIDs[1], nodeIDs[0], ""); err != nil {
		testCase.Errorf("expected reverse edge accepted, got %v", err)
	}
}

func TestSnapshot_IsolatedFromLaterMutations(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 2)
	snapshot := store.Snapshot()

	if err := store.UpdateConfig(nodeIDs[0], NodeConfig{Text: "changed"}); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	if err := store.RemoveNode(nodeIDs[1]); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}

	node, exists := snapshot.Node(nodeIDs[0])
	if !exists || node.Config.Text != "n" {
		testCase.Errorf("snapshot observed a later edit: %+v", node)
	}
	if snapshot.Len() != 2 || len(snapshot.Edges()) != 1 {
		testCase.Errorf("snapshot observed a later removal")
	}
}

func TestSnapshot_Idempotent(testCase *testing.T) {
	store, _ := newChain(testCase, 4)

	first := store.Snapshot()
	second := store.Snapshot()

	if !reflect.DeepEqual(first, second) {
		testCase.Errorf("two snapshots without mutation differ")
	}
}

func TestEdits_MarkDescendantsStale(testCase *testing.T) {
	store, nodeIDs := newChain(testCase, 3)
	snapshot := store.Snapshot()

	results := make([]NodeResult, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		results = append(results, NodeResult{NodeID: nodeID, Status: StatusSucceeded, Output: "ok"})
	}
	store.ApplyRun(snapshot.Version(), results)

	for _, nodeID := range nodeIDs {
		node, _ := store.Node(nodeID)
		if node.Stale {
			testCase.Fatalf("expected %s fresh after a successful run", nodeID)
		}
	}

	if err := store.SetText(nodeIDs[1], "edited"); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}

	expected := []bool{false, true, true}
	for index, nodeID := range nodeIDs {
		node, _ := store.Node(nodeID)
		if node.Stale != expected[index] {
			testCase.Errorf("node %d: expected stale=%v, got %v", index, expected[index], node.Stale)
		}
	}
}

func TestApplyRun_KeepsMidRunEdits(testCase *testing.T) {
	store := NewStore()
	nodeID := store.AddNode(KindChat, NodeConfig{Model: "a"})
	if err := store.AppendMessage(nodeID, Message{Role: RoleUser, Content: "hi"}); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}
	snapshot := store.Snapshot()
	node, _ := snapshot.Node(nodeID)

	// The user edits the node while the run is in flight.
	if err := store.UpdateConfig(nodeID, NodeConfig{Model: "b"}); err != nil {
		testCase.Fatalf("unexpected error: %v", err)
	}

	store.ApplyRun(snapshot.Version(), []NodeResult{{
		NodeID:   nodeID,
		Status:   StatusSucceeded,
		Output:   "hello",
		Revision: node.Revision,
		Conversation: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}})

	flushed, _ := store.Node(nodeID)
	if flushed.Config.Model != "b" {
		testCase.Errorf("run overwrote a mid-run config edit: %q", flushed.Config.Model)
	}
	if !flushed.Stale {
		testCase.Errorf("expected node to stay stale after a mid-run edit")
	}
	if flushed.Status != StatusSucceeded || flushed.Output != "hello" {
		testCase.Errorf("expected status and output flushed, got %s %q", flushed.Status, flushed.Output)
	}
}

func TestApplyRun_SkipsDeletedNodes(testCase *testing.T) {
	store := NewStore()
	nodeID := store.AddNode(KindText, NodeConfig{})
	snapshot := store.Snapshot()
	_ = store.RemoveNode(nodeID)
	versionBefore := store.Version()

	store.ApplyRun(snapshot.Version(), []NodeResult{{NodeID: nodeID, Status: StatusSucceeded}})

	if store.Version() != versionBefore {
		testCase.Errorf("flushing only deleted nodes should not bump the version")
	}
}

// TestAddEdge_NeverCreatesCycle inserts random edges and verifies that after
// every accepted insertion a depth-first walk from any node never revisits it.
func TestAddEdge_NeverCreatesCycle(testCase *testing.T) {
	random := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		store := NewStore()
		nodeIDs := make([]NodeID, 8)
		for index := range nodeIDs {
			nodeIDs[index] = store.AddNode(KindText, NodeConfig{})
		}

		for attempt := 0; attempt < 40; attempt++ {
			source := nodeIDs[random.Intn(len(nodeIDs))]
			target := nodeIDs[random.Intn(len(nodeIDs))]
			err := store.AddEdge(source, target, "")
			if err != nil && !errors.Is(err, ErrCycleDetected) && !errors.Is(err, ErrDuplicateEdge) {
				testCase.Fatalf("unexpected error: %v", err)
			}

			snapshot := store.Snapshot()
			for _, nodeID := range nodeIDs {
				if snapshot.Descendants(nodeID)[nodeID] {
					testCase.Fatalf("round %d: node %s reaches itself", round, nodeID)
				}
			}
			if _, _, err := snapshot.TopologicalOrder(nil); err != nil {
				testCase.Fatalf("round %d: topological sort failed: %v", round, err)
			}
		}
	}
}

func TestStore_ConcurrentEdits(testCase *testing.T) {
	store := NewStore()
	root := store.AddNode(KindText, NodeConfig{})

	var waitGroup sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for index := 0; index < 25; index++ {
				child := store.AddNode(KindChat, NodeConfig{})
				_ = store.AddEdge(root, child, "")
				_ = store.Snapshot()
			}
		}()
	}
	waitGroup.Wait()

	// 1 root + 200 children + 200 edges.
	if store.Version() != 401 {
		testCase.Errorf("expected version 401, got %d", store.Version())
	}
}
