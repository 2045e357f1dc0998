// Package promobs exports engine metrics to Prometheus.
//
// An Observer wraps another observability.Provider: tracing and logging are
// forwarded to it unchanged, while Counter and Histogram calls are recorded in
// Prometheus vectors registered on a caller-supplied Registerer. Metric names
// use the dotted form from the observability package and are rewritten to
// Prometheus conventions ("mosaik.node.count" becomes "mosaik_node_count_total").
package promobs

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leofalp/mosaik/providers/observability"
)

// labelSets lists the attribute keys that become labels for each known
// metric. Attributes outside the set are ignored so that cardinality stays
// bounded; unknown metrics get no labels.
var labelSets = map[string][]string{
	observability.MetricNodeCount:         {observability.AttrNodeKind, observability.AttrNodeStatus},
	observability.MetricNodeDuration:      {observability.AttrNodeKind},
	observability.MetricRunDuration:       {observability.AttrRunOutcome},
	observability.MetricProviderFragments: {observability.AttrLLMProvider},
	observability.MetricProviderErrors:    {observability.AttrLLMProvider, observability.AttrLLMFailureReason},
}

// Observer records metrics in Prometheus and delegates everything else.
type Observer struct {
	observability.Tracer
	observability.Logger

	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

var _ observability.Provider = (*Observer)(nil)

// Option configures an Observer.
type Option func(*Observer)

// WithBuckets overrides the histogram buckets (seconds).
func WithBuckets(buckets []float64) Option {
	return func(observer *Observer) {
		observer.buckets = buckets
	}
}

// New creates an Observer that forwards tracing and logging to next and
// registers its metric vectors on registerer. A nil registerer selects
// prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer, next observability.Provider, opts ...Option) *Observer {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	observer := &Observer{
		Tracer:     next,
		Logger:     next,
		registerer: registerer,
		buckets:    prometheus.DefBuckets,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for _, opt := range opts {
		opt(observer)
	}
	return observer
}

// Counter returns a counter backed by a lazily registered CounterVec.
func (observer *Observer) Counter(name string) observability.Counter {
	observer.mu.Lock()
	defer observer.mu.Unlock()

	vector, exists := observer.counters[name]
	if !exists {
		vector = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName(name) + "_total",
			Help: "Counter " + name + ".",
		}, labelNames(name))
		vector = registerOrExisting(observer.registerer, vector)
		observer.counters[name] = vector
	}
	return &counter{metric: name, vector: vector}
}

// Histogram returns a histogram backed by a lazily registered HistogramVec.
func (observer *Observer) Histogram(name string) observability.Histogram {
	observer.mu.Lock()
	defer observer.mu.Unlock()

	vector, exists := observer.histograms[name]
	if !exists {
		vector = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName(name) + "_seconds",
			Help:    "Histogram " + name + ".",
			Buckets: observer.buckets,
		}, labelNames(name))
		vector = registerOrExisting(observer.registerer, vector)
		observer.histograms[name] = vector
	}
	return &histogram{metric: name, vector: vector}
}

type counter struct {
	metric string
	vector *prometheus.CounterVec
}

func (counter *counter) Add(_ context.Context, value int64, attrs ...observability.Attribute) {
	if value < 0 {
		return
	}
	counter.vector.With(labelValues(counter.metric, attrs)).Add(float64(value))
}

type histogram struct {
	metric string
	vector *prometheus.HistogramVec
}

func (histogram *histogram) Record(_ context.Context, value float64, attrs ...observability.Attribute) {
	histogram.vector.With(labelValues(histogram.metric, attrs)).Observe(value)
}

// registerOrExisting registers collector, returning the already registered
// collector when an identical one exists (two engines sharing a registry).
func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func labelNames(metric string) []string {
	keys := labelSets[metric]
	names := make([]string, len(keys))
	for index, key := range keys {
		names[index] = metricName(key)
	}
	return names
}

func labelValues(metric string, attrs []observability.Attribute) prometheus.Labels {
	labels := prometheus.Labels{}
	for _, key := range labelSets[metric] {
		labels[metricName(key)] = ""
	}
	for _, attr := range attrs {
		name := metricName(attr.Key)
		if _, wanted := labels[name]; !wanted {
			continue
		}
		if text, ok := attr.Value.(string); ok {
			labels[name] = text
		}
	}
	return labels
}
