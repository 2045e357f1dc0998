package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// Engine is the entry point for UI surfaces: it forwards graph edits to the
// store, starts and cancels runs, and exposes the event sink. All methods
// are safe for concurrent use.
type Engine struct {
	store    *graph.Store
	registry *ai.Registry
	sink     *Sink
	observer observability.Provider
	config   engineConfig

	// slots bounds node executions across all runs.
	slots chan struct{}

	mu       sync.Mutex
	closed   bool
	active   map[RunID]*Run
	claimed  map[graph.NodeID]RunID
	finished []*Run
}

// New creates an engine over store that resolves chat nodes through
// registry.
//
// Example:
//
//	registry := ai.NewRegistry(anthropic.New(), ollama.New())
//	eng := engine.New(graph.NewStore(), registry, engine.WithMaxInFlight(2))
//	defer eng.Close()
func New(store *graph.Store, registry *ai.Registry, opts ...Option) *Engine {
	config := defaultEngineConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if registry == nil {
		registry = ai.NewRegistry()
	}
	sink := config.sink
	if sink == nil {
		sink = NewSink(config.eventBuffer, config.observer)
	}

	return &Engine{
		store:    store,
		registry: registry,
		sink:     sink,
		observer: config.observer,
		config:   config,
		slots:    make(chan struct{}, config.maxInFlight),
		active:   make(map[RunID]*Run),
		claimed:  make(map[graph.NodeID]RunID),
	}
}

// Store returns the graph store the engine edits.
func (engine *Engine) Store() *graph.Store {
	return engine.store
}

// Sink returns the event sink runs publish into.
func (engine *Engine) Sink() *Sink {
	return engine.sink
}

// Subscribe returns a subscription to every event published from now on.
func (engine *Engine) Subscribe() *Subscription {
	return engine.sink.Subscribe()
}

// GraphVersion returns the store's monotonic version counter.
func (engine *Engine) GraphVersion() uint64 {
	return engine.store.Version()
}

// Capabilities describes the registered providers.
func (engine *Engine) Capabilities() []ai.Capability {
	return engine.registry.Capabilities()
}

// Registry returns the provider registry.
func (engine *Engine) Registry() *ai.Registry {
	return engine.registry
}

// --- Graph edits ---

// CreateNode adds a node of the given kind.
func (engine *Engine) CreateNode(kind graph.NodeKind, config graph.NodeConfig) (graph.NodeID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("create node: %w: %q", graph.ErrInvalidKind, kind)
	}
	return engine.store.AddNode(kind, config), nil
}

// DeleteNode removes a node and its edges. A run that already holds the
// node in its snapshot finishes unaffected; its result for the node is
// discarded.
func (engine *Engine) DeleteNode(nodeID graph.NodeID) error {
	return engine.store.RemoveNode(nodeID)
}

// Connect wires source to target on slot.
func (engine *Engine) Connect(source, target graph.NodeID, slot string) error {
	return engine.store.AddEdge(source, target, slot)
}

// Disconnect removes the edge from source to target on slot.
func (engine *Engine) Disconnect(source, target graph.NodeID, slot string) error {
	return engine.store.RemoveEdge(source, target, slot)
}

// UpdateConfig replaces a node's configuration.
func (engine *Engine) UpdateConfig(nodeID graph.NodeID, config graph.NodeConfig) error {
	return engine.store.UpdateConfig(nodeID, config)
}

// SetText replaces the text payload of a node.
func (engine *Engine) SetText(nodeID graph.NodeID, text string) error {
	return engine.store.SetText(nodeID, text)
}

// ClearConversation empties a chat node's conversation.
func (engine *Engine) ClearConversation(nodeID graph.NodeID) error {
	return engine.store.ClearConversation(nodeID)
}

// Node returns a copy of a stored node with its live status when an active
// run holds it.
func (engine *Engine) Node(nodeID graph.NodeID) (graph.Node, error) {
	node, err := engine.store.Node(nodeID)
	if err != nil {
		return graph.Node{}, err
	}
	if status, live := engine.liveStatuses()[nodeID]; live {
		node.Status = status
	}
	return node, nil
}

// GraphView is the graph as presented to UI surfaces.
type GraphView struct {
	Version uint64       `json:"version"`
	Nodes   []graph.Node `json:"nodes"`
	Edges   []graph.Edge `json:"edges"`
}

// Graph returns the current graph with live statuses of active runs laid
// over the stored ones.
func (engine *Engine) Graph() GraphView {
	snapshot := engine.store.Snapshot()
	statuses := engine.liveStatuses()

	nodes := snapshot.Nodes()
	for index := range nodes {
		if status, live := statuses[nodes[index].ID]; live {
			nodes[index].Status = status
		}
	}
	return GraphView{Version: snapshot.Version(), Nodes: nodes, Edges: snapshot.Edges()}
}

func (engine *Engine) liveStatuses() map[graph.NodeID]graph.Status {
	engine.mu.Lock()
	runs := make([]*Run, 0, len(engine.active))
	for _, run := range engine.active {
		runs = append(runs, run)
	}
	engine.mu.Unlock()

	statuses := make(map[graph.NodeID]graph.Status)
	for _, run := range runs {
		for nodeID, status := range run.liveStatuses() {
			statuses[nodeID] = status
		}
	}
	return statuses
}

// --- Files ---

// ImportFile loads file content into an existing text or file_import node.
func (engine *Engine) ImportFile(nodeID graph.NodeID, fileName string, content []byte) error {
	if _, err := fileio.FormatFromName(fileName); err != nil {
		return err
	}
	text, err := fileio.Decode(content)
	if err != nil {
		return err
	}

	node, err := engine.store.Node(nodeID)
	if err != nil {
		return err
	}
	if node.Kind != graph.KindFileImport && node.Kind != graph.KindText {
		return fmt.Errorf("import into %s node %q: %w", node.Kind, nodeID, graph.ErrInvalidKind)
	}

	config := node.Config
	config.Text = text
	if node.Kind == graph.KindFileImport {
		config.Title = fileName
	}
	return engine.store.UpdateConfig(nodeID, config)
}

// ImportPath creates a file_import node from a txt or md file on disk.
func (engine *Engine) ImportPath(path string) (graph.NodeID, error) {
	text, name, err := fileio.ReadText(path)
	if err != nil {
		return "", err
	}
	return engine.store.AddNode(graph.KindFileImport, graph.NodeConfig{Title: name, Path: path, Text: text}), nil
}

// ExportNode serializes a node for download. Chat nodes export their
// conversation, led by the upstream input they last ran with; other nodes
// export their output.
func (engine *Engine) ExportNode(nodeID graph.NodeID, format fileio.Format) ([]byte, error) {
	node, err := engine.store.Node(nodeID)
	if err != nil {
		return nil, err
	}
	if node.Kind != graph.KindChat {
		return []byte(storedOutput(node)), nil
	}

	conversation := node.Conversation
	if node.Input != "" {
		conversation = append([]graph.Message{{Role: graph.RoleUser, Content: node.Input}}, conversation...)
	}
	return fileio.RenderConversation(conversation, format), nil
}

// --- Runs ---

// TriggerRun starts a run and returns its id without waiting for it.
//
// With an empty start the scope is the whole graph. Otherwise it is start,
// every node downstream of it, and every ancestor needed to feed them.
// Nodes that are fresh (succeeded, not stale, no re-executed upstream) are
// reused instead of executed unless WithForce is given; start and its
// descendants always execute.
//
// The run outlives ctx: cancel it with CancelRun. Values carried by ctx
// (such as an observer) are kept.
func (engine *Engine) TriggerRun(ctx context.Context, start graph.NodeID, opts ...TriggerOption) (RunID, error) {
	var trigger triggerConfig
	for _, opt := range opts {
		opt(&trigger)
	}

	snapshot := engine.store.Snapshot()

	var scope, always map[graph.NodeID]bool
	if start == "" {
		scope = make(map[graph.NodeID]bool, snapshot.Len())
		for _, nodeID := range snapshot.NodeIDs() {
			scope[nodeID] = true
		}
		always = map[graph.NodeID]bool{}
	} else {
		if _, exists := snapshot.Node(start); !exists {
			return "", fmt.Errorf("trigger run from %q: %w", start, graph.ErrNotFound)
		}
		always = snapshot.Descendants(start)
		always[start] = true
		scope = make(map[graph.NodeID]bool)
		for nodeID := range always {
			scope[nodeID] = true
			for ancestorID := range snapshot.Ancestors(nodeID) {
				scope[ancestorID] = true
			}
		}
	}

	return engine.startRun(ctx, RunID(uuid.NewString()), snapshot, start, scope, func(node graph.Node, upstreamExecutes bool) bool {
		return trigger.force || always[node.ID] || upstreamExecutes || needsExecution(node)
	})
}

// Chat appends a user turn to a chat node and regenerates its reply in a
// one-node run. Upstream outputs are taken from the store as they are. An
// empty text regenerates the last reply.
func (engine *Engine) Chat(ctx context.Context, nodeID graph.NodeID, text string) (RunID, error) {
	node, err := engine.store.Node(nodeID)
	if err != nil {
		return "", err
	}
	if node.Kind != graph.KindChat {
		return "", fmt.Errorf("chat with %q: %w", nodeID, ErrNotChatNode)
	}

	// The node is claimed before the turn is stored so a conflicting chat
	// leaves the conversation untouched.
	runID, err := engine.reserve(nodeID)
	if err != nil {
		return "", err
	}

	if text != "" {
		if err := engine.store.AppendMessage(nodeID, graph.Message{Role: graph.RoleUser, Content: text}); err != nil {
			engine.release(nodeID, runID)
			return "", err
		}
	}

	snapshot := engine.store.Snapshot()
	if _, exists := snapshot.Node(nodeID); !exists {
		engine.release(nodeID, runID)
		return "", fmt.Errorf("chat with %q: %w", nodeID, graph.ErrNotFound)
	}
	scope := map[graph.NodeID]bool{nodeID: true}
	started, err := engine.startRun(ctx, runID, snapshot, nodeID, scope, func(graph.Node, bool) bool { return true })
	if err != nil {
		engine.release(nodeID, runID)
	}
	return started, err
}

// reserve claims nodeID for a run that has not started yet.
func (engine *Engine) reserve(nodeID graph.NodeID) (RunID, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if engine.closed {
		return "", ErrClosed
	}
	if owner, taken := engine.claimed[nodeID]; taken {
		return "", fmt.Errorf("%w: node %q belongs to run %s", ErrRunConflict, nodeID, owner)
	}
	runID := RunID(uuid.NewString())
	engine.claimed[nodeID] = runID
	return runID, nil
}

// release drops a reservation made by reserve.
func (engine *Engine) release(nodeID graph.NodeID, runID RunID) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if engine.claimed[nodeID] == runID {
		delete(engine.claimed, nodeID)
	}
}

// needsExecution reports whether a node's stored output cannot be reused.
func needsExecution(node graph.Node) bool {
	return node.Stale || node.Status != graph.StatusSucceeded
}

// startRun claims the scope, builds the run context and launches its
// coordinator. Nodes already reserved for runID count as its own.
func (engine *Engine) startRun(ctx context.Context, runID RunID, snapshot *graph.Graph, trigger graph.NodeID, scope map[graph.NodeID]bool, execute func(node graph.Node, upstreamExecutes bool) bool) (RunID, error) {
	order, _, err := snapshot.TopologicalOrder(scope)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &Run{
		id:        runID,
		trigger:   trigger,
		snapshot:  snapshot,
		order:     order,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		nodes:     make(map[graph.NodeID]*nodeRun, len(order)),
		startedAt: time.Now(),
	}

	for _, nodeID := range order {
		node, _ := snapshot.Node(nodeID)
		state := &nodeRun{node: node, phase: phasePending}

		upstreamExecutes := false
		for _, upstreamID := range snapshot.Upstream(nodeID) {
			upstream, inScope := run.nodes[upstreamID]
			if !inScope {
				continue
			}
			state.remaining++
			upstreamExecutes = upstreamExecutes || upstream.execute
		}
		state.execute = execute(node, upstreamExecutes)
		if state.remaining == 0 {
			state.phase = phaseReady
		}
		run.nodes[nodeID] = state
	}

	engine.mu.Lock()
	if engine.closed {
		engine.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	for _, nodeID := range order {
		if owner, taken := engine.claimed[nodeID]; taken && owner != runID {
			engine.mu.Unlock()
			cancel()
			return "", fmt.Errorf("%w: node %q belongs to run %s", ErrRunConflict, nodeID, owner)
		}
	}
	for _, nodeID := range order {
		engine.claimed[nodeID] = runID
	}
	engine.active[runID] = run
	engine.mu.Unlock()

	go engine.coordinate(run)
	return runID, nil
}

// retire moves a finished run from the active set to the retained history.
func (engine *Engine) retire(run *Run) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	delete(engine.active, run.id)
	for _, nodeID := range run.order {
		if engine.claimed[nodeID] == run.id {
			delete(engine.claimed, nodeID)
		}
	}
	engine.finished = append(engine.finished, run)
	if overflow := len(engine.finished) - engine.config.retainedRuns; overflow > 0 {
		engine.finished = slices.Delete(engine.finished, 0, overflow)
	}
}

func (engine *Engine) lookupRun(runID RunID) (*Run, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if run, exists := engine.active[runID]; exists {
		return run, true
	}
	for _, run := range engine.finished {
		if run.id == runID {
			return run, true
		}
	}
	return nil, false
}

// CancelRun asks a run to stop. Nodes that have not started end cancelled;
// running nodes end cancelled unless they complete first. Cancelling a
// finished run is a no-op.
func (engine *Engine) CancelRun(runID RunID) error {
	run, exists := engine.lookupRun(runID)
	if !exists {
		return fmt.Errorf("cancel %s: %w", runID, ErrRunNotFound)
	}
	run.cancel()
	return nil
}

// Run returns a snapshot of an active or retained run.
func (engine *Engine) Run(runID RunID) (RunSnapshot, error) {
	run, exists := engine.lookupRun(runID)
	if !exists {
		return RunSnapshot{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run.Snapshot(), nil
}

// ActiveRuns lists the ids of runs still in flight.
func (engine *Engine) ActiveRuns() []RunID {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	runIDs := make([]RunID, 0, len(engine.active))
	for runID := range engine.active {
		runIDs = append(runIDs, runID)
	}
	slices.Sort(runIDs)
	return runIDs
}

// Wait blocks until the run finishes or ctx ends and returns its final
// snapshot. When ctx ends first the run keeps going.
func (engine *Engine) Wait(ctx context.Context, runID RunID) (RunSnapshot, error) {
	run, exists := engine.lookupRun(runID)
	if !exists {
		return RunSnapshot{}, fmt.Errorf("wait for %s: %w", runID, ErrRunNotFound)
	}
	select {
	case <-run.done:
		return run.Snapshot(), nil
	case <-ctx.Done():
		return run.Snapshot(), ctx.Err()
	}
}

// Close cancels every active run, waits for them to flush, and closes the
// sink. The engine rejects new runs afterwards.
func (engine *Engine) Close() {
	engine.mu.Lock()
	engine.closed = true
	runs := make([]*Run, 0, len(engine.active))
	for _, run := range engine.active {
		runs = append(runs, run)
	}
	engine.mu.Unlock()

	for _, run := range runs {
		run.cancel()
	}
	for _, run := range runs {
		<-run.done
	}
	engine.sink.Close()
}

// acquireSlot takes an in-flight slot, giving up when ctx ends.
func (engine *Engine) acquireSlot(ctx context.Context) bool {
	select {
	case engine.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		engine.releaseSlot()
		return false
	}
	return true
}

func (engine *Engine) releaseSlot() {
	<-engine.slots
}
