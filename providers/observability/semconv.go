package observability

// Attribute, span and metric names shared by every component, so that log
// lines, spans and Prometheus series agree on spelling.

// --- LLM Provider Attributes ---

const (
	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMEndpoint     = "llm.endpoint"
	AttrLLMFinishReason = "llm.finish_reason"
	AttrLLMTemperature  = "llm.temperature"
	AttrLLMMaxTokens    = "llm.max_tokens" // #nosec G101 -- Not a credential, token refers to LLM tokens

	// AttrLLMThinking is set when the request asked for streamed reasoning.
	AttrLLMThinking = "llm.thinking"

	// AttrLLMFailureReason is the classified provider failure (RateLimited, ...).
	AttrLLMFailureReason = "llm.failure_reason"
)

// --- Token Usage Attributes ---

const (
	AttrLLMTokensPrompt     = "llm.tokens.prompt"     // #nosec G101 -- Not a credential, token refers to LLM tokens
	AttrLLMTokensCompletion = "llm.tokens.completion" // #nosec G101 -- Not a credential, token refers to LLM tokens
	AttrLLMTokensTotal      = "llm.tokens.total"      // #nosec G101 -- Not a credential, token refers to LLM tokens
)

// --- Graph and Run Attributes ---

const (
	// AttrRunID identifies one scheduler execution.
	AttrRunID = "run.id"

	// AttrRunTrigger is the start node id, or "all" for a whole-graph run.
	AttrRunTrigger = "run.trigger"

	// AttrRunNodes is the number of nodes in a run's scope.
	AttrRunNodes = "run.nodes"

	// AttrRunOutcome is the run-level result (succeeded, failed, cancelled).
	AttrRunOutcome = "run.outcome"

	AttrGraphVersion = "graph.version"
	AttrNodeID       = "node.id"
	AttrNodeKind     = "node.kind"
	AttrNodeStatus   = "node.status"
	AttrNodeReason   = "node.reason"

	// AttrNodeCached marks a node whose previous output was reused.
	AttrNodeCached = "node.cached"

	AttrRequestMessagesCount = "request.messages_count"
	AttrResponseContent      = "response.content"
)

// --- HTTP Attributes ---

const (
	AttrHTTPMethod           = "http.method"
	AttrHTTPStatusCode       = "http.status_code"
	AttrHTTPURL              = "http.url"
	AttrHTTPRequestBodySize  = "http.request.body.size"
	AttrHTTPResponseBodySize = "http.response.body.size"
)

// --- General Attributes ---

const (
	AttrError     = "error"
	AttrErrorType = "error.type"
	AttrDuration  = "duration"
	AttrStatus    = "status"
)

// --- Span Names ---

const (
	// SpanRun covers a whole scheduler execution.
	SpanRun = "engine.run"

	// SpanNodeExecute covers the execution of one node inside a run.
	SpanNodeExecute = "engine.node.execute"

	// SpanLLMRequest covers a single provider call.
	SpanLLMRequest = "llm.request"
)

// --- Event Names ---

const (
	EventLLMRequestStart = "llm.request.start"
	EventLLMRequestEnd   = "llm.request.end"

	// EventFirstFragment marks when the first fragment of a response arrives.
	EventFirstFragment = "llm.fragment.first"
)

// --- Metric Names ---

const (
	// MetricNodeCount counts terminal node transitions, labelled by status.
	MetricNodeCount = "mosaik.node.count"

	// MetricNodeDuration records node execution time in seconds.
	MetricNodeDuration = "mosaik.node.duration"

	// MetricRunDuration records run wall time in seconds.
	MetricRunDuration = "mosaik.run.duration"

	// MetricProviderFragments counts streamed fragments, labelled by provider.
	MetricProviderFragments = "mosaik.provider.fragments"

	// MetricProviderErrors counts classified provider failures.
	MetricProviderErrors = "mosaik.provider.errors"

	// MetricSinkLag records how far the slowest subscriber trails the log.
	MetricSinkLag = "mosaik.sink.lag"
)
