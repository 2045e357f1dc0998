// Package observability defines the interfaces and attribute names used for
// tracing, metrics and structured logging across the engine, the provider
// adapters and the outer surfaces.
//
// [Provider] composes [Tracer], [Metrics] and [Logger] into one injectable
// dependency. A run propagates its Provider and the active [Span] through a
// [context.Context] with [ContextWithObserver] and [ContextWithSpan]; adapters
// read them back with [ObserverFromContext] and [SpanFromContext].
//
// Backends live in sibling packages: slogobs logs through log/slog and
// promobs exports counters and histograms to Prometheus.
package observability
