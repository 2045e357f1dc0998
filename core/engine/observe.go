package engine

import (
	"context"
	"time"

	"github.com/leofalp/mosaik/core/graph"
	"github.com/leofalp/mosaik/internal/utils"
	"github.com/leofalp/mosaik/providers/ai"
	"github.com/leofalp/mosaik/providers/observability"
)

// outputPreviewLength bounds node outputs copied into log lines.
const outputPreviewLength = 100

// triggerLabel is the value of AttrRunTrigger for whole-graph runs.
const triggerLabel = "all"

// observeRunStart opens the run span and attaches it, together with the
// observer, to the run context so adapters can log against it.
func (engine *Engine) observeRunStart(ctx *context.Context, run *Run) {
	if engine.observer == nil {
		return
	}

	trigger := string(run.trigger)
	if trigger == "" {
		trigger = triggerLabel
	}

	var runSpan observability.Span
	*ctx, runSpan = engine.observer.StartSpan(*ctx, observability.SpanRun,
		observability.String(observability.AttrRunID, string(run.id)),
		observability.String(observability.AttrRunTrigger, trigger),
		observability.Int(observability.AttrRunNodes, len(run.order)),
		observability.Int64(observability.AttrGraphVersion, int64(run.snapshot.Version())), // #nosec G115 -- version counter stays far below MaxInt64
	)
	*ctx = observability.ContextWithSpan(*ctx, runSpan)
	*ctx = observability.ContextWithObserver(*ctx, engine.observer)

	engine.observer.Info(*ctx, "run started",
		observability.String(observability.AttrRunID, string(run.id)),
		observability.String(observability.AttrRunTrigger, trigger),
		observability.Int(observability.AttrRunNodes, len(run.order)),
	)
}

// observeRunFinished records the run duration and closes the run span.
func (engine *Engine) observeRunFinished(ctx context.Context, run *Run, outcome graph.Status, duration time.Duration) {
	if engine.observer == nil {
		return
	}

	engine.observer.Histogram(observability.MetricRunDuration).Record(ctx, duration.Seconds(),
		observability.String(observability.AttrRunOutcome, string(outcome)),
	)

	engine.observer.Info(ctx, "run finished",
		observability.String(observability.AttrRunID, string(run.id)),
		observability.String(observability.AttrRunOutcome, string(outcome)),
		observability.Duration(observability.AttrDuration, duration),
	)

	runSpan := observability.SpanFromContext(ctx)
	if runSpan == nil {
		return
	}
	runSpan.SetAttributes(observability.String(observability.AttrRunOutcome, string(outcome)))
	if outcome == graph.StatusFailed {
		runSpan.SetStatus(observability.StatusError, "run failed")
	} else {
		runSpan.SetStatus(observability.StatusOK, "run "+string(outcome))
	}
	runSpan.End()
}

// observeNodeStart opens a child span for one node execution.
func (engine *Engine) observeNodeStart(ctx *context.Context, runID RunID, node graph.Node) {
	if engine.observer == nil {
		return
	}

	var nodeSpan observability.Span
	*ctx, nodeSpan = engine.observer.StartSpan(*ctx, observability.SpanNodeExecute,
		observability.String(observability.AttrRunID, string(runID)),
		observability.String(observability.AttrNodeID, string(node.ID)),
		observability.String(observability.AttrNodeKind, string(node.Kind)),
	)
	*ctx = observability.ContextWithSpan(*ctx, nodeSpan)

	engine.observer.Debug(*ctx, "node execution started",
		observability.String(observability.AttrNodeID, string(node.ID)),
		observability.String(observability.AttrNodeKind, string(node.Kind)),
	)
}

// observeNodeFinished records the outcome of an executed node and closes
// its span.
func (engine *Engine) observeNodeFinished(ctx context.Context, node graph.Node, outcome nodeOutcome, duration time.Duration) {
	if engine.observer == nil {
		return
	}

	status := outcome.status()
	engine.observer.Histogram(observability.MetricNodeDuration).Record(ctx, duration.Seconds(),
		observability.String(observability.AttrNodeKind, string(node.Kind)),
	)
	engine.observer.Counter(observability.MetricNodeCount).Add(ctx, 1,
		observability.String(observability.AttrNodeKind, string(node.Kind)),
		observability.String(observability.AttrNodeStatus, string(status)),
	)

	nodeSpan := observability.SpanFromContext(ctx)
	if outcome.err == nil {
		engine.observer.Info(ctx, "node execution succeeded",
			observability.String(observability.AttrNodeID, string(node.ID)),
			observability.Duration(observability.AttrDuration, duration),
			observability.String("node.output", utils.TruncateString(outcome.output, outputPreviewLength)),
		)
		if nodeSpan != nil {
			nodeSpan.SetStatus(observability.StatusOK, "node succeeded")
			nodeSpan.End()
		}
		return
	}

	reason := reasonOf(outcome.err)
	if status == graph.StatusCancelled {
		engine.observer.Info(ctx, "node execution cancelled",
			observability.String(observability.AttrNodeID, string(node.ID)),
			observability.Duration(observability.AttrDuration, duration),
		)
	} else {
		engine.observer.Error(ctx, "node execution failed",
			observability.String(observability.AttrNodeID, string(node.ID)),
			observability.String(observability.AttrNodeReason, reason),
			observability.Error(outcome.err),
			observability.Duration(observability.AttrDuration, duration),
		)
	}
	if nodeSpan != nil {
		nodeSpan.RecordError(outcome.err)
		nodeSpan.SetAttributes(observability.String(observability.AttrNodeReason, reason))
		nodeSpan.SetStatus(observability.StatusError, "node "+string(status))
		nodeSpan.End()
	}
}

// observeNodeSettled records a node that reached a terminal status without
// executing: reused, failed upstream, or cancelled before starting.
func (engine *Engine) observeNodeSettled(ctx context.Context, node graph.Node, status graph.Status, reason string, cached bool) {
	if engine.observer == nil {
		return
	}

	engine.observer.Counter(observability.MetricNodeCount).Add(ctx, 1,
		observability.String(observability.AttrNodeKind, string(node.Kind)),
		observability.String(observability.AttrNodeStatus, string(status)),
	)
	engine.observer.Debug(ctx, "node settled without executing",
		observability.String(observability.AttrNodeID, string(node.ID)),
		observability.String(observability.AttrNodeStatus, string(status)),
		observability.String(observability.AttrNodeReason, reason),
		observability.Bool(observability.AttrNodeCached, cached),
	)
}

// observeProviderCall opens the provider request span of a chat node.
func (engine *Engine) observeProviderCall(ctx *context.Context, provider string, request ai.ChatRequest) {
	if engine.observer == nil {
		return
	}

	var requestSpan observability.Span
	*ctx, requestSpan = engine.observer.StartSpan(*ctx, observability.SpanLLMRequest,
		observability.String(observability.AttrLLMProvider, provider),
		observability.String(observability.AttrLLMModel, request.Model),
		observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
		observability.Bool(observability.AttrLLMThinking, request.Thinking),
	)
	*ctx = observability.ContextWithSpan(*ctx, requestSpan)
	requestSpan.AddEvent(observability.EventLLMRequestStart)
}

// observeFragment counts a streamed fragment. The first fragment of a call
// is also marked on the request span.
func (engine *Engine) observeFragment(ctx context.Context, provider string, first bool) {
	if engine.observer == nil {
		return
	}
	engine.observer.Counter(observability.MetricProviderFragments).Add(ctx, 1,
		observability.String(observability.AttrLLMProvider, provider),
	)
	if first {
		if requestSpan := observability.SpanFromContext(ctx); requestSpan != nil {
			requestSpan.AddEvent(observability.EventFirstFragment)
		}
	}
}

// observeProviderDone closes the request span opened by observeProviderCall.
func (engine *Engine) observeProviderDone(ctx context.Context, provider string, usage *ai.Usage, providerError *ai.ProviderError) {
	if engine.observer == nil {
		return
	}

	requestSpan := observability.SpanFromContext(ctx)
	if providerError != nil {
		engine.observer.Counter(observability.MetricProviderErrors).Add(ctx, 1,
			observability.String(observability.AttrLLMProvider, provider),
			observability.String(observability.AttrLLMFailureReason, string(providerError.Reason)),
		)
		if requestSpan != nil {
			requestSpan.RecordError(providerError)
			requestSpan.SetStatus(observability.StatusError, string(providerError.Reason))
		}
	}
	if requestSpan == nil {
		return
	}
	if usage != nil {
		requestSpan.SetAttributes(
			observability.Int(observability.AttrLLMTokensPrompt, usage.PromptTokens),
			observability.Int(observability.AttrLLMTokensCompletion, usage.CompletionTokens),
			observability.Int(observability.AttrLLMTokensTotal, usage.TotalTokens),
		)
	}
	requestSpan.AddEvent(observability.EventLLMRequestEnd)
	if providerError == nil {
		requestSpan.SetStatus(observability.StatusOK, "")
	}
	requestSpan.End()
}
