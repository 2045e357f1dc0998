package engine

import (
	"time"

	"github.com/leofalp/mosaik/providers/observability"
)

const (
	// DefaultMaxInFlight bounds how many nodes execute at once across all runs.
	DefaultMaxInFlight = 4

	// DefaultBackpressureTimeout bounds how long a node start waits for a
	// lagging event subscriber.
	DefaultBackpressureTimeout = 5 * time.Second

	// defaultRetainedRuns is how many finished runs stay queryable.
	defaultRetainedRuns = 64
)

// Option is a functional option for configuring an Engine.
type Option func(*engineConfig)

// TriggerOption is a functional option for a single run.
type TriggerOption func(*triggerConfig)

type engineConfig struct {
	maxInFlight         int
	eventBuffer         int
	backpressureTimeout time.Duration
	retainedRuns        int
	observer            observability.Provider
	sink                *Sink
}

type triggerConfig struct {
	force bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxInFlight:         DefaultMaxInFlight,
		eventBuffer:         DefaultEventBuffer,
		backpressureTimeout: DefaultBackpressureTimeout,
		retainedRuns:        defaultRetainedRuns,
	}
}

// WithMaxInFlight limits the number of nodes executing at the same time.
// Independent branches beyond the limit wait for a free slot. Values below 1
// are ignored.
//
// Example:
//
//	engine.New(store, registry, engine.WithMaxInFlight(2))
func WithMaxInFlight(maxInFlight int) Option {
	return func(config *engineConfig) {
		if maxInFlight > 0 {
			config.maxInFlight = maxInFlight
		}
	}
}

// WithEventBuffer sets how many events the slowest subscriber may trail
// before node starts are held back.
func WithEventBuffer(size int) Option {
	return func(config *engineConfig) {
		config.eventBuffer = size
	}
}

// WithBackpressureTimeout bounds how long a node start waits for lagging
// subscribers. Zero waits until they catch up or the run is cancelled.
func WithBackpressureTimeout(timeout time.Duration) Option {
	return func(config *engineConfig) {
		config.backpressureTimeout = timeout
	}
}

// WithRetainedRuns sets how many finished runs remain available to Run and
// Wait.
func WithRetainedRuns(count int) Option {
	return func(config *engineConfig) {
		if count > 0 {
			config.retainedRuns = count
		}
	}
}

// WithObserver enables tracing, metrics and logging for runs. A nil
// provider leaves observability disabled.
func WithObserver(observer observability.Provider) Option {
	return func(config *engineConfig) {
		config.observer = observer
	}
}

// WithSink makes the engine publish into an existing sink instead of
// creating its own.
func WithSink(sink *Sink) Option {
	return func(config *engineConfig) {
		config.sink = sink
	}
}

// WithForce re-executes every node in scope, including fresh ones whose
// previous output would otherwise be reused.
func WithForce() TriggerOption {
	return func(config *triggerConfig) {
		config.force = true
	}
}
