package slogobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leofalp/mosaik/providers/observability"
)

// Observer implements observability.Provider using log/slog.
type Observer struct {
	logger  *slog.Logger
	metrics *metricsStore
}

var _ observability.Provider = (*Observer)(nil)

// New creates a slog-backed observer.
//
// Example:
//
//	observer := slogobs.New(
//	    slogobs.WithFormat(slogobs.FormatPretty),
//	    slogobs.WithLevel(slog.LevelDebug),
//	)
func New(opts ...Option) *Observer {
	s := newSettings(opts...)

	logger := s.logger
	if logger == nil {
		logger = slog.New(NewHandler(&s.handler))
	}

	return &Observer{
		logger:  logger,
		metrics: newMetricsStore(),
	}
}

// Logger returns the underlying slog.Logger, for components such as the HTTP
// server that log through slog directly.
func (observer *Observer) Logger() *slog.Logger {
	return observer.logger
}

// CounterValue returns the accumulated value of the named counter, summed
// over all attribute sets. Unknown counters report zero.
func (observer *Observer) CounterValue(name string) int64 {
	observer.metrics.mu.RLock()
	counter, exists := observer.metrics.counters[name]
	observer.metrics.mu.RUnlock()
	if !exists {
		return 0
	}
	counter.mu.Lock()
	defer counter.mu.Unlock()
	return counter.value
}

// --- TRACING ---

// StartSpan logs the span start at DEBUG and returns a context carrying the
// new span. End logs the elapsed duration together with the accumulated
// attributes.
func (observer *Observer) StartSpan(ctx context.Context, name string, attrs ...observability.Attribute) (context.Context, observability.Span) {
	span := &slogSpan{
		name:      name,
		startTime: time.Now(),
		logger:    observer.logger,
		attrs:     append([]observability.Attribute{}, attrs...),
	}
	observer.logger.LogAttrs(ctx, slog.LevelDebug, "Span started", spanAttrs(name, "span.start", attrs)...)
	return observability.ContextWithSpan(ctx, span), span
}

type slogSpan struct {
	name      string
	startTime time.Time
	logger    *slog.Logger
	attrs     []observability.Attribute
	mu        sync.Mutex
}

func (span *slogSpan) End() {
	span.mu.Lock()
	defer span.mu.Unlock()

	logAttrs := spanAttrs(span.name, "span.end", span.attrs)
	logAttrs = append(logAttrs, slog.Duration(observability.AttrDuration, time.Since(span.startTime)))
	span.logger.LogAttrs(context.Background(), slog.LevelDebug, "Span ended", logAttrs...)
}

func (span *slogSpan) SetAttributes(attrs ...observability.Attribute) {
	span.mu.Lock()
	defer span.mu.Unlock()
	span.attrs = append(span.attrs, attrs...)
}

func (span *slogSpan) SetStatus(code observability.StatusCode, description string) {
	span.mu.Lock()
	defer span.mu.Unlock()

	status := "unset"
	switch code {
	case observability.StatusOK:
		status = "ok"
	case observability.StatusError:
		status = "error"
	}
	span.attrs = append(span.attrs, observability.String(observability.AttrStatus, status))
	if description != "" {
		span.attrs = append(span.attrs, observability.String(observability.AttrErrorType, description))
	}
}

// RecordError stores err on the span. It is logged at WARN because the
// caller usually logs the failure itself at ERROR.
func (span *slogSpan) RecordError(err error) {
	if err == nil {
		return
	}
	span.mu.Lock()
	defer span.mu.Unlock()

	span.attrs = append(span.attrs, observability.Error(err))
	span.logger.LogAttrs(context.Background(), slog.LevelWarn, "Span error",
		slog.String("span", span.name), slog.String(observability.AttrError, err.Error()))
}

func (span *slogSpan) AddEvent(name string, attrs ...observability.Attribute) {
	span.logger.LogAttrs(context.Background(), LevelTrace, "Span event", spanAttrs(span.name, name, attrs)...)
}

func spanAttrs(span, event string, attrs []observability.Attribute) []slog.Attr {
	logAttrs := make([]slog.Attr, 0, len(attrs)+2)
	logAttrs = append(logAttrs, slog.String("span", span), slog.String("event", event))
	return append(logAttrs, toSlog(attrs)...)
}

func toSlog(attrs []observability.Attribute) []slog.Attr {
	converted := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		converted = append(converted, slog.Any(attr.Key, attr.Value))
	}
	return converted
}

// --- METRICS ---

// Counter returns the named counter; repeated calls share one instance.
func (observer *Observer) Counter(name string) observability.Counter {
	return observer.metrics.counter(name, observer.logger)
}

// Histogram returns the named histogram; repeated calls share one instance.
func (observer *Observer) Histogram(name string) observability.Histogram {
	return observer.metrics.histogram(name, observer.logger)
}

type metricsStore struct {
	mu         sync.RWMutex
	counters   map[string]*slogCounter
	histograms map[string]*slogHistogram
}

func newMetricsStore() *metricsStore {
	return &metricsStore{
		counters:   make(map[string]*slogCounter),
		histograms: make(map[string]*slogHistogram),
	}
}

func (store *metricsStore) counter(name string, logger *slog.Logger) *slogCounter {
	store.mu.RLock()
	counter, exists := store.counters[name]
	store.mu.RUnlock()
	if exists {
		return counter
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if counter, exists := store.counters[name]; exists {
		return counter
	}
	counter = &slogCounter{name: name, logger: logger}
	store.counters[name] = counter
	return counter
}

func (store *metricsStore) histogram(name string, logger *slog.Logger) *slogHistogram {
	store.mu.RLock()
	histogram, exists := store.histograms[name]
	store.mu.RUnlock()
	if exists {
		return histogram
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if histogram, exists := store.histograms[name]; exists {
		return histogram
	}
	histogram = &slogHistogram{name: name, logger: logger}
	store.histograms[name] = histogram
	return histogram
}

type slogCounter struct {
	name   string
	logger *slog.Logger
	mu     sync.Mutex
	value  int64
}

func (counter *slogCounter) Add(ctx context.Context, value int64, attrs ...observability.Attribute) {
	counter.mu.Lock()
	counter.value += value
	current := counter.value
	counter.mu.Unlock()

	logAttrs := []slog.Attr{
		slog.String("metric", counter.name),
		slog.Int64("value", current),
		slog.Int64("delta", value),
	}
	counter.logger.LogAttrs(ctx, LevelTrace, "Counter", append(logAttrs, toSlog(attrs)...)...)
}

type slogHistogram struct {
	name   string
	logger *slog.Logger
}

func (histogram *slogHistogram) Record(ctx context.Context, value float64, attrs ...observability.Attribute) {
	logAttrs := []slog.Attr{
		slog.String("metric", histogram.name),
		slog.Float64("value", value),
	}
	histogram.logger.LogAttrs(ctx, LevelTrace, "Histogram", append(logAttrs, toSlog(attrs)...)...)
}

// --- LOGGING ---

// Trace logs below DEBUG; the engine uses it for per-fragment events.
func (observer *Observer) Trace(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, LevelTrace, msg, toSlog(attrs)...)
}

func (observer *Observer) Debug(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelDebug, msg, toSlog(attrs)...)
}

func (observer *Observer) Info(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelInfo, msg, toSlog(attrs)...)
}

func (observer *Observer) Warn(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelWarn, msg, toSlog(attrs)...)
}

func (observer *Observer) Error(ctx context.Context, msg string, attrs ...observability.Attribute) {
	observer.logger.LogAttrs(ctx, slog.LevelError, msg, toSlog(attrs)...)
}
