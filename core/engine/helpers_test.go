package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// --- Mock Types ---

// respondFunc produces the stream for one request.
type respondFunc func(ctx context.Context, request ai.ChatRequest) *ai.ChatStream

// fakeProvider is a scripted ai.Provider. Responses are chosen by model;
// unknown models echo the last message.
type fakeProvider struct {
	mu       sync.Mutex
	requests []ai.ChatRequest
	byModel  map[string]respondFunc
}

var _ ai.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{byModel: make(map[string]respondFunc)}
}

func (provider *fakeProvider) on(model string, respond respondFunc) *fakeProvider {
	provider.byModel[model] = respond
	return provider
}

func (provider *fakeProvider) Name() string { return "fake" }

func (provider *fakeProvider) Supports(model string) bool {
	return model != "" && model != "unsupported"
}

func (provider *fakeProvider) Send(ctx context.Context, request ai.ChatRequest) *ai.ChatStream {
	provider.mu.Lock()
	provider.requests = append(provider.requests, request)
	respond, scripted := provider.byModel[request.Model]
	provider.mu.Unlock()

	if scripted {
		return respond(ctx, request)
	}
	return ai.NewTextStream("echo: " + lastContent(request))
}

func (provider *fakeProvider) sent() []ai.ChatRequest {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return append([]ai.ChatRequest(nil), provider.requests...)
}

func (provider *fakeProvider) sentTo(model string) []ai.ChatRequest {
	matching := make([]ai.ChatRequest, 0)
	for _, request := range provider.sent() {
		if request.Model == model {
			matching = append(matching, request)
		}
	}
	return matching
}

func lastContent(request ai.ChatRequest) string {
	if len(request.Messages) == 0 {
		return ""
	}
	return request.Messages[len(request.Messages)-1].Content
}

// gate holds blocking responses until released and reports each start.
type gate struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), release: make(chan struct{})}
}

func (gate *gate) open() {
	gate.once.Do(func() { close(gate.release) })
}

// respond streams "reply:<last message>" once the gate opens, or fails with
// the context error when the call is cancelled first.
func (gate *gate) respond(ctx context.Context, request ai.ChatRequest) *ai.ChatStream {
	return ai.NewChatStream(ctx, "fake", func(yield func(ai.StreamEvent, error) bool) {
		gate.started <- lastContent(request)
		select {
		case <-ctx.Done():
			yield(ai.StreamEvent{}, ctx.Err())
			return
		case <-gate.release:
		}
		if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: "reply:" + lastContent(request)}, nil) {
			return
		}
		yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: "stop"}, nil)
	})
}

func (gate *gate) awaitStarts(testCase *testing.T, count int) []string {
	testCase.Helper()
	prompts := make([]string, 0, count)
	timeout := time.After(5 * time.Second)
	for len(prompts) < count {
		select {
		case prompt := <-gate.started:
			prompts = append(prompts, prompt)
		case <-timeout:
			testCase.Fatalf("expected %d provider calls to start, saw %d", count, len(prompts))
		}
	}
	return prompts
}

// testObserver implements observability.Provider for verifying observe calls.
type testObserver struct {
	mu       sync.Mutex
	spans    []string
	logs     []string
	counters map[string]int64
}

var _ observability.Provider = (*testObserver)(nil)

func newTestObserver() *testObserver {
	return &testObserver{counters: make(map[string]int64)}
}

func (observer *testObserver) StartSpan(ctx context.Context, name string, _ ...observability.Attribute) (context.Context, observability.Span) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.spans = append(observer.spans, name)
	return ctx, &testSpan{}
}

func (observer *testObserver) log(msg string) {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	observer.logs = append(observer.logs, msg)
}

func (observer *testObserver) Trace(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Debug(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Info(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Warn(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Error(_ context.Context, msg string, _ ...observability.Attribute) {
	observer.log(msg)
}

func (observer *testObserver) Counter(name string) observability.Counter {
	return &testCounter{name: name, observer: observer}
}

func (observer *testObserver) Histogram(string) observability.Histogram {
	return testHistogram{}
}

func (observer *testObserver) spanCount(name string) int {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	count := 0
	for _, span := range observer.spans {
		if span == name {
			count++
		}
	}
	return count
}

func (observer *testObserver) counter(name string) int64 {
	observer.mu.Lock()
	defer observer.mu.Unlock()
	return observer.counters[name]
}

type testSpan struct{}

func (testSpan) End()                                            {}
func (testSpan) SetAttributes(_ ...observability.Attribute)      {}
func (testSpan) SetStatus(_ observability.StatusCode, _ string)  {}
func (testSpan) RecordError(error)                               {}
func (testSpan) AddEvent(_ string, _ ...observability.Attribute) {}

type testCounter struct {
	name     string
	observer *testObserver
}

func (counter *testCounter) Add(_ context.Context, value int64, _ ...observability.Attribute) {
	counter.observer.mu.Lock()
	defer counter.observer.mu.Unlock()
	counter.observer.counters[counter.name] += value
}

type testHistogram struct{}

func (testHistogram) Record(context.Context, float64, ...observability.Attribute) {}

// --- Helpers ---

// newTestEngine creates an engine over a fresh store with provider
// registered, closed when the test ends.
func newTestEngine(testCase *testing.T, provider ai.Provider, opts ...Option) (*Engine, *graph.Store) {
	testCase.Helper()
	store := graph.NewStore()
	eng := New(store, ai.NewRegistry(provider), opts...)
	testCase.Cleanup(eng.Close)
	return eng, store
}

func addText(store *graph.Store, text string) graph.NodeID {
	return store.AddNode(graph.KindText, graph.NodeConfig{Text: text})
}

// addChat adds a chat node on the fake provider, seeded with prompt as a
// user turn when prompt is non-empty.
func addChat(testCase *testing.T, store *graph.Store, model, prompt string) graph.NodeID {
	testCase.Helper()
	nodeID := store.AddNode(graph.KindChat, graph.NodeConfig{Provider: "fake", Model: model})
	if prompt != "" {
		if err := store.AppendMessage(nodeID, graph.Message{Role: graph.RoleUser, Content: prompt}); err != nil {
			testCase.Fatalf("failed to seed conversation: %v", err)
		}
	}
	return nodeID
}

func connect(testCase *testing.T, store *graph.Store, source, target graph.NodeID) {
	testCase.Helper()
	if err := store.AddEdge(source, target, ""); err != nil {
		testCase.Fatalf("failed to connect: %v", err)
	}
}

func trigger(testCase *testing.T, eng *Engine, start graph.NodeID, opts ...TriggerOption) RunID {
	testCase.Helper()
	runID, err := eng.TriggerRun(context.Background(), start, opts...)
	if err != nil {
		testCase.Fatalf("failed to trigger run: %v", err)
	}
	return runID
}

func waitRun(testCase *testing.T, eng *Engine, runID RunID) RunSnapshot {
	testCase.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, err := eng.Wait(ctx, runID)
	if err != nil {
		testCase.Fatalf("run %s did not finish: %v", runID, err)
	}
	return snapshot
}

func runAndWait(testCase *testing.T, eng *Engine, start graph.NodeID, opts ...TriggerOption) RunSnapshot {
	testCase.Helper()
	return waitRun(testCase, eng, trigger(testCase, eng, start, opts...))
}

func expectStatus(testCase *testing.T, snapshot RunSnapshot, nodeID graph.NodeID, status graph.Status, reason string) {
	testCase.Helper()
	state, exists := snapshot.Nodes[nodeID]
	if !exists {
		testCase.Fatalf("node %s not in run", nodeID)
	}
	if state.Status != status || state.Reason != reason {
		testCase.Errorf("node %s: expected %s/%q, got %s/%q (%s)", nodeID, status, reason, state.Status, state.Reason, state.Error)
	}
}

// collectRun reads events until the run_finished event of runID.
func collectRun(testCase *testing.T, subscription *Subscription, runID RunID) []Event {
	testCase.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make([]Event, 0)
	for {
		event, err := subscription.Next(ctx)
		if err != nil {
			testCase.Fatalf("event stream ended early: %v (got %d events)", err, len(events))
		}
		if event.RunID != runID {
			continue
		}
		events = append(events, event)
		if event.Type == EventRunFinished {
			return events
		}
	}
}

// describe renders the events of one node as a compact string such as
// "queued running +Hel +lo succeeded".
func describe(events []Event, nodeID graph.NodeID) string {
	parts := make([]string, 0)
	for _, event := range events {
		if event.NodeID != nodeID {
			continue
		}
		switch event.Type {
		case EventNodeStatus:
			parts = append(parts, string(event.Status))
		case EventNodeFragment:
			parts = append(parts, "+"+event.Fragment)
		case EventNodeReasoning:
			parts = append(parts, "~"+event.Reasoning)
		}
	}
	return strings.Join(parts, " ")
}
