package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leofalp/mosaik/core/fileio"
	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/providers/ai"
)

// execution is the self-contained unit of work handed to a worker. The
// worker never touches the run state; it reports back through nodeOutcome.
type execution struct {
	runID  RunID
	node   graph.Node
	inputs []upstreamInput
}

// nodeOutcome is what a worker reports when its node finishes.
type nodeOutcome struct {
	nodeID graph.NodeID

	input        string
	output       string
	transcript   []graph.Message
	conversation []graph.Message

	err error
}

// status is the terminal status the outcome maps to.
func (outcome nodeOutcome) status() graph.Status {
	if outcome.err == nil {
		return graph.StatusSucceeded
	}
	if reasonOf(outcome.err) == ReasonCancelled {
		return graph.StatusCancelled
	}
	return graph.StatusFailed
}

// runWorker executes one node and sends its outcome on results. The
// in-flight slot is released before sending so that the coordinator can
// start the next node as soon as it sees the outcome.
func (engine *Engine) runWorker(ctx context.Context, work execution, results chan<- nodeOutcome) {
	startedAt := time.Now()
	engine.observeNodeStart(&ctx, work.runID, work.node)

	outcome := engine.executeNode(ctx, work)
	outcome.nodeID = work.node.ID

	engine.observeNodeFinished(ctx, work.node, outcome, time.Since(startedAt))
	engine.releaseSlot()
	results <- outcome
}

// executeNode dispatches on the node kind.
func (engine *Engine) executeNode(ctx context.Context, work execution) nodeOutcome {
	node := work.node
	all := func(string) bool { return true }

	switch node.Kind {
	case graph.KindText:
		return nodeOutcome{input: joinInputs(work.inputs, all), output: node.Config.Text}

	case graph.KindFileImport:
		return executeFileImport(node)

	case graph.KindTransform:
		output, err := applyTransform(node.Config.Transform, node.Config.Params, work.inputs)
		return nodeOutcome{input: joinInputs(work.inputs, all), output: output, err: err}

	case graph.KindFileExport:
		return executeFileExport(node, joinInputs(work.inputs, all))

	case graph.KindChat:
		return engine.executeChat(ctx, work)

	default:
		return nodeOutcome{err: nodeFailure(ReasonInvalidConfig, fmt.Errorf("%w: %q", graph.ErrInvalidKind, node.Kind))}
	}
}

// executeFileImport outputs the imported text, reading Config.Path when the
// node was created without content.
func executeFileImport(node graph.Node) nodeOutcome {
	if node.Config.Text != "" {
		return nodeOutcome{output: node.Config.Text}
	}
	if strings.TrimSpace(node.Config.Path) == "" {
		return nodeOutcome{err: nodeFailure(ReasonEmptyInput, ErrEmptyInput)}
	}
	text, _, err := fileio.ReadText(node.Config.Path)
	if err != nil {
		return nodeOutcome{err: nodeFailure(ReasonIOFailed, err)}
	}
	return nodeOutcome{output: text}
}

// executeFileExport writes the input to {folder}/{file_name}.{format} and
// passes it through.
func executeFileExport(node graph.Node, input string) nodeOutcome {
	if input == "" {
		return nodeOutcome{err: nodeFailure(ReasonEmptyInput, ErrEmptyInput)}
	}
	format, err := fileio.ParseFormat(node.Config.Format)
	if err != nil {
		return nodeOutcome{input: input, err: nodeFailure(ReasonInvalidConfig, err)}
	}
	if _, err := fileio.WriteText(node.Config.Folder, node.Config.FileName, format, input); err != nil {
		reason := ReasonIOFailed
		if errors.Is(err, fileio.ErrMissingFolder) || errors.Is(err, fileio.ErrMissingName) {
			reason = ReasonInvalidConfig
		}
		return nodeOutcome{input: input, err: nodeFailure(reason, err)}
	}
	return nodeOutcome{input: input, output: input}
}

// executeChat sends the composed conversation to the node's provider and
// publishes every fragment as it arrives.
func (engine *Engine) executeChat(ctx context.Context, work execution) nodeOutcome {
	node := work.node

	composed, err := composeChat(node, work.inputs)
	if err != nil {
		return nodeOutcome{err: err}
	}
	outcome := nodeOutcome{input: composed.context}

	provider, err := engine.registry.Lookup(node.Config.Provider, node.Config.Model)
	if err != nil {
		outcome.err = nodeFailure(ReasonUnsupported, fmt.Errorf("%w: %w", ErrNoProvider, err))
		return outcome
	}

	requestCtx := ctx
	engine.observeProviderCall(&requestCtx, provider.Name(), composed.request)

	var content, reasoning strings.Builder
	var usage *ai.Usage
	var providerError *ai.ProviderError
	first := true

	for event := range provider.Send(requestCtx, composed.request).Iter() {
		switch event.Type {
		case ai.StreamEventContent:
			if event.Content == "" {
				continue
			}
			content.WriteString(event.Content)
			engine.sink.Publish(Event{Type: EventNodeFragment, RunID: work.runID, NodeID: node.ID, Fragment: event.Content})
			engine.observeFragment(requestCtx, provider.Name(), first)
			first = false
		case ai.StreamEventReasoning:
			if event.Reasoning == "" {
				continue
			}
			reasoning.WriteString(event.Reasoning)
			engine.sink.Publish(Event{Type: EventNodeReasoning, RunID: work.runID, NodeID: node.ID, Reasoning: event.Reasoning})
		case ai.StreamEventUsage:
			usage = event.Usage
		case ai.StreamEventError:
			providerError = event.Err
		}
	}
	engine.observeProviderDone(requestCtx, provider.Name(), usage, providerError)

	if providerError != nil {
		outcome.err = providerError
		return outcome
	}

	reply := graph.Message{Role: graph.RoleAssistant, Content: content.String(), Thinking: reasoning.String()}
	outcome.output = reply.Content
	outcome.transcript = append(composed.transcript, reply)
	outcome.conversation = append(composed.stored, reply)
	return outcome
}
