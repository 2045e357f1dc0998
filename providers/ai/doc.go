// Package ai defines the provider-agnostic contract between the workflow
// engine and LLM backends. Each adapter (anthropic, ollama, ...) maps
// [ChatRequest] to its own wire format and surfaces the response as a
// [ChatStream]: a lazy, finite, non-restartable sequence of [StreamEvent]
// values that always ends with exactly one terminal event, either
// [StreamEventDone] or [StreamEventError].
//
// Failures are never returned as Go errors from [Provider.Send]; they are
// delivered as the terminal error event carrying a [*ProviderError] with a
// [Reason]. Retrying is the caller's concern: a fresh Send is required.
//
// Adapters are registered by provider id in a [Registry], which the engine
// receives explicitly at construction.
package ai
