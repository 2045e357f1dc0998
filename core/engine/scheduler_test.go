package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
)

func TestTriggerRun_TextFeedsChatAsFirstTurn(testCase *testing.T) {
	provider := newFakeProvider()
	eng, store := newTestEngine(testCase, provider)

	intro := addText(store, "Hello")
	writer := addChat(testCase, store, "model", "")
	connect(testCase, store, intro, writer)

	snapshot := runAndWait(testCase, eng, writer)

	requests := provider.sent()
	if len(requests) != 1 {
		testCase.Fatalf("expected one provider call, got %d", len(requests))
	}
	first := requests[0].Messages[0]
	if first.Role != ai.RoleUser || first.Content != "Hello" {
		testCase.Errorf("expected upstream text as first user turn, got %+v", first)
	}

	state := snapshot.Nodes[writer]
	if len(state.Conversation) != 2 || state.Conversation[0].Content != "Hello" {
		testCase.Errorf("expected run conversation to start with upstream text, got %+v", state.Conversation)
	}
	expectStatus(testCase, snapshot, intro, graph.StatusSucceeded, "")
	expectStatus(testCase, snapshot, writer, graph.StatusSucceeded, "")
	if snapshot.Outcome != graph.StatusSucceeded || !snapshot.Finished {
		testCase.Errorf("expected succeeded run, got %s finished=%v", snapshot.Outcome, snapshot.Finished)
	}

	stored, _ := store.Node(writer)
	if stored.Output != "echo: Hello" || stored.Input != "Hello" || stored.Stale {
		testCase.Errorf("unexpected flushed node: output=%q input=%q stale=%v", stored.Output, stored.Input, stored.Stale)
	}
	if len(stored.Conversation) != 1 || stored.Conversation[0].Role != graph.RoleAssistant {
		testCase.Errorf("expected stored conversation to hold the reply, got %+v", stored.Conversation)
	}
	if stored.Status != graph.StatusSucceeded {
		testCase.Errorf("expected stored status succeeded, got %s", stored.Status)
	}
}

func TestTriggerRun_IndependentBranchesRunConcurrently(testCase *testing.T) {
	blocking := newGate()
	provider := newFakeProvider().on("slow", blocking.respond)
	eng, store := newTestEngine(testCase, provider)

	left := addChat(testCase, store, "slow", "a")
	right := addChat(testCase, store, "slow", "b")
	merge := addChat(testCase, store, "merge", "")
	connect(testCase, store, left, merge)
	connect(testCase, store, right, merge)

	runID := trigger(testCase, eng, "")

	// Both branches are in flight at the same time.
	blocking.awaitStarts(testCase, 2)
	if len(provider.sentTo("merge")) != 0 {
		testCase.Fatalf("merge node started before its upstream nodes finished")
	}
	live, _ := eng.Run(runID)
	if live.Nodes[merge].Status != graph.StatusQueued {
		testCase.Errorf("expected merge queued while branches run, got %s", live.Nodes[merge].Status)
	}

	blocking.open()
	snapshot := waitRun(testCase, eng, runID)

	expectStatus(testCase, snapshot, merge, graph.StatusSucceeded, "")
	mergeRequests := provider.sentTo("merge")
	if len(mergeRequests) != 1 {
		testCase.Fatalf("expected one merge call, got %d", len(mergeRequests))
	}
	if got := mergeRequests[0].Messages[0].Content; got != "reply:a\n\nreply:b" {
		testCase.Errorf("expected upstream outputs in edge order, got %q", got)
	}
	if snapshot.Nodes[merge].StartedAt.Before(snapshot.Nodes[left].FinishedAt) ||
		snapshot.Nodes[merge].StartedAt.Before(snapshot.Nodes[right].FinishedAt) {
		testCase.Errorf("merge started before an upstream node finished")
	}
}

func TestTriggerRun_FailurePropagatesForward(testCase *testing.T) {
	provider := newFakeProvider().on("limited", func(context.Context, ai.ChatRequest) *ai.ChatStream {
		return ai.NewErrorStream("fake", &ai.HTTPStatusError{StatusCode: 429, Body: "slow down"})
	})
	eng, store := newTestEngine(testCase, provider)

	failing := addChat(testCase, store, "limited", "a")
	healthy := addChat(testCase, store, "model", "b")
	merge := addChat(testCase, store, "merge", "")
	tail := addChat(testCase, store, "tail", "")
	connect(testCase, store, failing, merge)
	connect(testCase, store, healthy, merge)
	connect(testCase, store, merge, tail)

	snapshot := runAndWait(testCase, eng, "")

	expectStatus(testCase, snapshot, failing, graph.StatusFailed, "RateLimited")
	expectStatus(testCase, snapshot, healthy, graph.StatusSucceeded, "")
	expectStatus(testCase, snapshot, merge, graph.StatusFailed, ReasonUpstreamFailed)
	expectStatus(testCase, snapshot, tail, graph.StatusFailed, ReasonUpstreamFailed)
	if len(provider.sentTo("merge")) != 0 || len(provider.sentTo("tail")) != 0 {
		testCase.Errorf("dependents of a failed node must never reach their provider")
	}
	if snapshot.Outcome != graph.StatusFailed {
		testCase.Errorf("expected failed run, got %s", snapshot.Outcome)
	}

	stored, _ := store.Node(failing)
	if stored.Status != graph.StatusFailed || stored.Reason != "RateLimited" || stored.Error == "" {
		testCase.Errorf("expected failure flushed to store, got %s/%q/%q", stored.Status, stored.Reason, stored.Error)
	}
	if stored.Stale != true {
		testCase.Errorf("failed node must stay stale")
	}
}

func TestCancelRun_SettlesRunningAndPendingNodes(testCase *testing.T) {
	blocking := newGate()
	provider := newFakeProvider().on("slow", blocking.respond)
	eng, store := newTestEngine(testCase, provider)

	intro := addText(store, "Hello")
	slow := addChat(testCase, store, "slow", "")
	tail := addChat(testCase, store, "tail", "")
	connect(testCase, store, intro, slow)
	connect(testCase, store, slow, tail)

	runID := trigger(testCase, eng, "")
	blocking.awaitStarts(testCase, 1)

	if err := eng.CancelRun(runID); err != nil {
		testCase.Fatalf("unexpected cancel error: %v", err)
	}
	snapshot := waitRun(testCase, eng, runID)

	expectStatus(testCase, snapshot, intro, graph.StatusSucceeded, "")
	expectStatus(testCase, snapshot, slow, graph.StatusCancelled, ReasonCancelled)
	expectStatus(testCase, snapshot, tail, graph.StatusCancelled, ReasonCancelled)
	if snapshot.Outcome != graph.StatusCancelled {
		testCase.Errorf("expected cancelled run, got %s", snapshot.Outcome)
	}
	if len(provider.sentTo("tail")) != 0 {
		testCase.Errorf("pending node reached its provider after cancellation")
	}

	stored, _ := store.Node(slow)
	if stored.Status != graph.StatusCancelled {
		testCase.Errorf("expected cancelled status flushed, got %s", stored.Status)
	}
	if err := eng.CancelRun(runID); err != nil {
		testCase.Errorf("cancelling a finished run should be a no-op, got %v", err)
	}
	if err := eng.CancelRun("missing"); !errors.Is(err, ErrRunNotFound) {
		testCase.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestCancelRun_KeepsNodeThatCompletedFirst(testCase *testing.T) {
	var eng *Engine
	var store *graph.Store
	runIDs := make(chan RunID, 1)

	// The provider finishes its stream, then the run is cancelled before the
	// coordinator has committed the outcome.
	provider := newFakeProvider().on("quick", func(ctx context.Context, _ ai.ChatRequest) *ai.ChatStream {
		return ai.NewChatStream(ctx, "fake", func(yield func(ai.StreamEvent, error) bool) {
			if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: "made it"}, nil) {
				return
			}
			yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: "stop"}, nil)
			_ = eng.CancelRun(<-runIDs)
		})
	})
	eng, store = newTestEngine(testCase, provider)

	quick := addChat(testCase, store, "quick", "go")
	tail := addChat(testCase, store, "tail", "")
	connect(testCase, store, quick, tail)

	runID := trigger(testCase, eng, "")
	runIDs <- runID
	snapshot := waitRun(testCase, eng, runID)

	expectStatus(testCase, snapshot, quick, graph.StatusSucceeded, "")
	expectStatus(testCase, snapshot, tail, graph.StatusCancelled, ReasonCancelled)
	if snapshot.Outcome != graph.StatusCancelled {
		testCase.Errorf("expected cancelled run, got %s", snapshot.Outcome)
	}
	if len(provider.sentTo("tail")) != 0 {
		testCase.Errorf("dependent reached its provider after cancellation")
	}

	stored, _ := store.Node(quick)
	if stored.Status != graph.StatusSucceeded || stored.Output != "made it" {
		testCase.Errorf("expected success flushed to store, got %s/%q", stored.Status, stored.Output)
	}
	if len(stored.Conversation) != 2 || stored.Conversation[1].Content != "made it" {
		testCase.Errorf("expected reply stored, got %+v", stored.Conversation)
	}
}

func TestTriggerRun_RespectsMaxInFlight(testCase *testing.T) {
	var current, peak atomic.Int32
	provider := newFakeProvider().on("count", func(ctx context.Context, _ ai.ChatRequest) *ai.ChatStream {
		return ai.NewChatStream(ctx, "fake", func(yield func(ai.StreamEvent, error) bool) {
			now := current.Add(1)
			for {
				seen := peak.Load()
				if now <= seen || peak.CompareAndSwap(seen, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			yield(ai.StreamEvent{Type: ai.StreamEventDone}, nil)
		})
	})
	eng, store := newTestEngine(testCase, provider, WithMaxInFlight(2))

	nodeIDs := make([]graph.NodeID, 0, 5)
	for index := 0; index < 5; index++ {
		nodeIDs = append(nodeIDs, addChat(testCase, store, "count", "go"))
	}

	snapshot := runAndWait(testCase, eng, "")

	for _, nodeID := range nodeIDs {
		expectStatus(testCase, snapshot, nodeID, graph.StatusSucceeded, "")
	}
	if peak.Load() > 2 {
		testCase.Errorf("expected at most 2 nodes in flight, saw %d", peak.Load())
	}
}

func TestTriggerRun_EventsAreCausalPerNode(testCase *testing.T) {
	provider := newFakeProvider().on("stream", func(ctx context.Context, _ ai.ChatRequest) *ai.ChatStream {
		return ai.NewChatStream(ctx, "fake", func(yield func(ai.StreamEvent, error) bool) {
			for _, event := range []ai.StreamEvent{
				{Type: ai.StreamEventReasoning, Reasoning: "hmm"},
				{Type: ai.StreamEventContent, Content: "Hel"},
				{Type: ai.StreamEventContent, Content: "lo"},
				{Type: ai.StreamEventDone},
			} {
				if !yield(event, nil) {
					return
				}
			}
		})
	})
	eng, store := newTestEngine(testCase, provider)

	intro := addText(store, "Hi")
	writer := addChat(testCase, store, "stream", "")
	connect(testCase, store, intro, writer)

	subscription := eng.Subscribe()
	defer subscription.Close()

	runID := trigger(testCase, eng, writer)
	events := collectRun(testCase, subscription, runID)

	if events[0].Type != EventRunStarted || len(events[0].Nodes) != 2 {
		testCase.Errorf("expected run_started with scope first, got %+v", events[0])
	}
	for index := 1; index < len(events); index++ {
		if events[index].Seq != events[index-1].Seq+1 {
			testCase.Fatalf("expected contiguous sequence numbers, got %d after %d", events[index].Seq, events[index-1].Seq)
		}
	}
	if got := describe(events, intro); got != "queued running succeeded" {
		testCase.Errorf("unexpected text node events: %s", got)
	}
	if got := describe(events, writer); got != "queued running ~hmm +Hel +lo succeeded" {
		testCase.Errorf("unexpected chat node events: %s", got)
	}
	last := events[len(events)-1]
	if last.Type != EventRunFinished || last.Status != graph.StatusSucceeded {
		testCase.Errorf("expected run_finished succeeded last, got %+v", last)
	}

	stored, _ := store.Node(writer)
	if stored.Conversation[0].Thinking != "hmm" {
		testCase.Errorf("expected reasoning kept on the reply, got %+v", stored.Conversation)
	}
}

func TestTriggerRun_ReusesFreshAncestors(testCase *testing.T) {
	provider := newFakeProvider()
	eng, store := newTestEngine(testCase, provider)

	intro := addText(store, "Hello")
	middle := addChat(testCase, store, "middle", "")
	tail := addChat(testCase, store, "tail", "")
	connect(testCase, store, intro, middle)
	connect(testCase, store, middle, tail)

	runAndWait(testCase, eng, "")
	if len(provider.sent()) != 2 {
		testCase.Fatalf("expected 2 calls after the first run, got %d", len(provider.sent()))
	}

	snapshot := runAndWait(testCase, eng, tail)
	if len(provider.sent()) != 3 || len(provider.sentTo("tail")) != 2 {
		testCase.Fatalf("expected only the start node to execute again, calls=%d", len(provider.sent()))
	}
	if !snapshot.Nodes[intro].Cached || !snapshot.Nodes[middle].Cached || snapshot.Nodes[tail].Cached {
		testCase.Errorf("expected ancestors cached and start node executed: %+v", snapshot.Nodes)
	}
	expectStatus(testCase, snapshot, middle, graph.StatusSucceeded, "")
	if got := provider.sentTo("tail")[1].Messages[0].Content; got != "echo: Hello" {
		testCase.Errorf("expected cached output forwarded, got %q", got)
	}

	runAndWait(testCase, eng, tail, WithForce())
	if len(provider.sentTo("middle")) != 2 {
		testCase.Errorf("expected WithForce to re-execute fresh ancestors")
	}

	if err := store.SetText(intro, "Bonjour"); err != nil {
		testCase.Fatal(err)
	}
	snapshot = runAndWait(testCase, eng, tail)
	if snapshot.Nodes[middle].Cached {
		testCase.Errorf("expected a stale ancestor to execute")
	}
	if got := lastContent(provider.sentTo("middle")[2]); got != "Bonjour" {
		testCase.Errorf("expected the edited text upstream, got %q", got)
	}
}

func TestTriggerRun_RejectsOverlappingRuns(testCase *testing.T) {
	blocking := newGate()
	provider := newFakeProvider().on("slow", blocking.respond)
	eng, store := newTestEngine(testCase, provider)

	slow := addChat(testCase, store, "slow", "a")
	other := addText(store, "independent")

	runID := trigger(testCase, eng, slow)
	blocking.awaitStarts(testCase, 1)

	if _, err := eng.TriggerRun(context.Background(), slow); !errors.Is(err, ErrRunConflict) {
		testCase.Errorf("expected ErrRunConflict, got %v", err)
	}
	if _, err := eng.TriggerRun(context.Background(), ""); !errors.Is(err, ErrRunConflict) {
		testCase.Errorf("expected whole-graph run to conflict, got %v", err)
	}
	if active := eng.ActiveRuns(); len(active) != 1 || active[0] != runID {
		testCase.Errorf("expected one active run, got %v", active)
	}

	disjoint := runAndWait(testCase, eng, other)
	expectStatus(testCase, disjoint, other, graph.StatusSucceeded, "")

	blocking.open()
	waitRun(testCase, eng, runID)
	runAndWait(testCase, eng, slow)
}

func TestTriggerRun_UnknownStart(testCase *testing.T) {
	eng, _ := newTestEngine(testCase, newFakeProvider())
	if _, err := eng.TriggerRun(context.Background(), "missing"); !errors.Is(err, graph.ErrNotFound) {
		testCase.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerRun_EmptyInputAndUnsupportedModel(testCase *testing.T) {
	provider := newFakeProvider()
	eng, store := newTestEngine(testCase, provider)

	empty := addChat(testCase, store, "model", "")
	unsupported := addChat(testCase, store, "unsupported", "hi")
	unknownProvider := store.AddNode(graph.KindChat, graph.NodeConfig{Provider: "nobody", Model: "x"})
	if err := store.AppendMessage(unknownProvider, graph.Message{Role: graph.RoleUser, Content: "hi"}); err != nil {
		testCase.Fatal(err)
	}

	snapshot := runAndWait(testCase, eng, "")

	expectStatus(testCase, snapshot, empty, graph.StatusFailed, ReasonEmptyInput)
	expectStatus(testCase, snapshot, unsupported, graph.StatusFailed, ReasonUnsupported)
	expectStatus(testCase, snapshot, unknownProvider, graph.StatusFailed, ReasonUnsupported)
	if len(provider.sent()) != 0 {
		testCase.Errorf("expected no provider calls, got %d", len(provider.sent()))
	}
}

func TestTriggerRun_ProviderCancelledIsNotFailure(testCase *testing.T) {
	provider := newFakeProvider().on("gone", func(context.Context, ai.ChatRequest) *ai.ChatStream {
		return ai.NewErrorStream("fake", context.Canceled)
	})
	eng, store := newTestEngine(testCase, provider)

	gone := addChat(testCase, store, "gone", "hi")
	tail := addChat(testCase, store, "tail", "")
	connect(testCase, store, gone, tail)

	snapshot := runAndWait(testCase, eng, "")
	expectStatus(testCase, snapshot, gone, graph.StatusCancelled, ReasonCancelled)
	expectStatus(testCase, snapshot, tail, graph.StatusCancelled, ReasonCancelled)
}

func TestTriggerRun_EditsDuringRunApplyNextTime(testCase *testing.T) {
	blocking := newGate()
	provider := newFakeProvider().on("slow", blocking.respond)
	eng, store := newTestEngine(testCase, provider)

	intro := addText(store, "first")
	slow := addChat(testCase, store, "slow", "")
	connect(testCase, store, intro, slow)

	runID := trigger(testCase, eng, "")
	blocking.awaitStarts(testCase, 1)
	if err := store.SetText(intro, "second"); err != nil {
		testCase.Fatal(err)
	}
	blocking.open()
	snapshot := waitRun(testCase, eng, runID)

	if snapshot.Nodes[slow].Output != "reply:first" {
		testCase.Errorf("run must use its snapshot, got %q", snapshot.Nodes[slow].Output)
	}
	stored, _ := store.Node(slow)
	if !stored.Stale {
		testCase.Errorf("node edited upstream during the run must stay stale")
	}
	introNode, _ := store.Node(intro)
	if introNode.Config.Text != "second" {
		testCase.Errorf("edit was overwritten by the run: %q", introNode.Config.Text)
	}
}

func TestTriggerRun_NodeDeletedDuringRun(testCase *testing.T) {
	blocking := newGate()
	provider := newFakeProvider().on("slow", blocking.respond)
	eng, store := newTestEngine(testCase, provider)

	slow := addChat(testCase, store, "slow", "a")
	runID := trigger(testCase, eng, slow)
	blocking.awaitStarts(testCase, 1)

	if err := eng.DeleteNode(slow); err != nil {
		testCase.Fatal(err)
	}
	blocking.open()
	snapshot := waitRun(testCase, eng, runID)

	expectStatus(testCase, snapshot, slow, graph.StatusSucceeded, "")
	if _, err := store.Node(slow); !errors.Is(err, graph.ErrNotFound) {
		testCase.Errorf("deleted node came back: %v", err)
	}
}

func TestTriggerRun_ProgressesWithLaggingSubscriber(testCase *testing.T) {
	eng, store := newTestEngine(testCase, newFakeProvider(),
		WithEventBuffer(1), WithBackpressureTimeout(10*time.Millisecond))

	previous := addText(store, "0")
	for index := 0; index < 4; index++ {
		next := addText(store, "n")
		connect(testCase, store, previous, next)
		previous = next
	}

	lagging := eng.Subscribe()
	defer lagging.Close()

	runID := trigger(testCase, eng, "")
	snapshot := waitRun(testCase, eng, runID)
	if snapshot.Outcome != graph.StatusSucceeded {
		testCase.Fatalf("expected run to finish despite the lagging subscriber, got %s", snapshot.Outcome)
	}

	events := collectRun(testCase, lagging, runID)
	// run_started + 5 x (queued, running, succeeded) + run_finished
	if len(events) != 17 {
		testCase.Errorf("expected every event delivered, got %d", len(events))
	}
}

func TestTriggerRun_ConcurrentTriggersAreSafe(testCase *testing.T) {
	eng, store := newTestEngine(testCase, newFakeProvider())

	nodeIDs := make([]graph.NodeID, 0, 8)
	for index := 0; index < 8; index++ {
		nodeIDs = append(nodeIDs, addChat(testCase, store, "model", "hi"))
	}

	var waitGroup sync.WaitGroup
	for _, nodeID := range nodeIDs {
		waitGroup.Add(1)
		go func(nodeID graph.NodeID) {
			defer waitGroup.Done()
			runID, err := eng.TriggerRun(context.Background(), nodeID)
			if err != nil {
				testCase.Errorf("unexpected error: %v", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := eng.Wait(ctx, runID); err != nil {
				testCase.Errorf("run did not finish: %v", err)
			}
		}(nodeID)
	}
	waitGroup.Wait()

	for _, nodeID := range nodeIDs {
		node, _ := store.Node(nodeID)
		if node.Status != graph.StatusSucceeded {
			testCase.Errorf("node %s ended %s", nodeID, node.Status)
		}
	}
}

func TestEngine_ObservesRunsAndNodes(testCase *testing.T) {
	observer := newTestObserver()
	eng, store := newTestEngine(testCase, newFakeProvider(), WithObserver(observer))

	intro := addText(store, "Hello")
	writer := addChat(testCase, store, "model", "")
	connect(testCase, store, intro, writer)

	runAndWait(testCase, eng, writer)

	if observer.spanCount("engine.run") != 1 {
		testCase.Errorf("expected one run span, got %d", observer.spanCount("engine.run"))
	}
	if observer.spanCount("engine.node.execute") != 2 {
		testCase.Errorf("expected two node spans, got %d", observer.spanCount("engine.node.execute"))
	}
	if observer.spanCount("llm.request") != 1 {
		testCase.Errorf("expected one provider span, got %d", observer.spanCount("llm.request"))
	}
	if observer.counter("mosaik.node.count") != 2 {
		testCase.Errorf("expected two node completions counted, got %d", observer.counter("mosaik.node.count"))
	}
	if observer.counter("mosaik.provider.fragments") != 1 {
		testCase.Errorf("expected one fragment counted, got %d", observer.counter("mosaik.provider.fragments"))
	}
}

func TestEngine_CloseRejectsNewRuns(testCase *testing.T) {
	store := graph.NewStore()
	eng := New(store, nil)
	nodeID := addText(store, "x")
	eng.Close()

	if _, err := eng.TriggerRun(context.Background(), nodeID); !errors.Is(err, ErrClosed) {
		testCase.Errorf("expected ErrClosed, got %v", err)
	}
}
