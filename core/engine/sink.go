package engine

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/leofalp/mosaik/providers/observability"
)

// DefaultEventBuffer is how far the slowest subscriber may trail the log
// before new node starts wait for it.
const DefaultEventBuffer = 64

var (
	// ErrSubscriptionClosed is returned by Next after Close.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrSinkClosed is returned by Next once the sink is closed and the
	// subscriber has consumed every event.
	ErrSinkClosed = errors.New("event sink closed")

	errBackpressureTimeout = errors.New("event backpressure timeout")
)

// Sink is the ordered, append-only event log between the scheduler and its
// consumers. Publish never blocks and never drops: events stay in memory
// until every subscriber has read them. Producers that want to slow down for
// lagging consumers call WaitCapacity before starting new work.
type Sink struct {
	mu sync.Mutex

	// events holds the retained log; events[0] has sequence number base.
	events []Event
	base   uint64
	next   uint64

	subscribers map[*Subscription]struct{}

	// changed is closed and replaced whenever the log grows, a subscriber
	// advances, or the sink closes.
	changed chan struct{}

	buffer   int
	closed   bool
	observer observability.Provider
}

// NewSink creates a sink whose subscribers may lag by buffer events before
// WaitCapacity blocks. A non-positive buffer selects DefaultEventBuffer.
func NewSink(buffer int, observer observability.Provider) *Sink {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Sink{
		base:        1,
		next:        1,
		subscribers: make(map[*Subscription]struct{}),
		changed:     make(chan struct{}),
		buffer:      buffer,
		observer:    observer,
	}
}

// Publish appends event to the log, assigning its sequence number and, when
// unset, its timestamp. Events published after Close are discarded.
func (sink *Sink) Publish(event Event) Event {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.closed {
		return event
	}

	event.Seq = sink.next
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	sink.next++

	if len(sink.subscribers) == 0 {
		// Nobody can ever read it.
		sink.base = sink.next
		return event
	}

	sink.events = append(sink.events, event)
	sink.notifyLocked()
	return event
}

// Subscribe returns a subscription that receives every event published from
// now on.
func (sink *Sink) Subscribe() *Subscription {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	subscription := &Subscription{sink: sink, cursor: sink.next}
	if !sink.closed {
		sink.subscribers[subscription] = struct{}{}
	}
	return subscription
}

// Lag returns how many events the slowest subscriber has not read yet.
func (sink *Sink) Lag() int {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.lagLocked()
}

// WaitCapacity blocks while the slowest subscriber trails the log by more
// than the buffer. It returns ctx.Err() when ctx ends first, and an error
// after timeout (when positive) so a stuck consumer delays, but never halts,
// the producer.
func (sink *Sink) WaitCapacity(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		sink.mu.Lock()
		lag := sink.lagLocked()
		if lag <= sink.buffer || sink.closed {
			sink.mu.Unlock()
			return nil
		}
		changed := sink.changed
		sink.mu.Unlock()

		if sink.observer != nil {
			sink.observer.Histogram(observability.MetricSinkLag).Record(ctx, float64(lag))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errBackpressureTimeout
		case <-changed:
		}
	}
}

// Close wakes every subscriber. Subscribers still drain the events they have
// not read, then get ErrSinkClosed.
func (sink *Sink) Close() {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed {
		return
	}
	sink.closed = true
	sink.notifyLocked()
}

func (sink *Sink) lagLocked() int {
	minimum, ok := sink.minCursorLocked()
	if !ok {
		return 0
	}
	return int(sink.next - minimum)
}

func (sink *Sink) minCursorLocked() (uint64, bool) {
	found := false
	var minimum uint64
	for subscription := range sink.subscribers {
		if !found || subscription.cursor < minimum {
			minimum = subscription.cursor
			found = true
		}
	}
	return minimum, found
}

// compactLocked releases events every subscriber has read.
func (sink *Sink) compactLocked() {
	minimum, ok := sink.minCursorLocked()
	if !ok {
		minimum = sink.next
	}
	if minimum <= sink.base {
		return
	}
	dropped := int(minimum - sink.base)
	if dropped >= len(sink.events) {
		sink.events = nil
	} else {
		sink.events = append([]Event(nil), sink.events[dropped:]...)
	}
	sink.base = minimum
}

func (sink *Sink) notifyLocked() {
	close(sink.changed)
	sink.changed = make(chan struct{})
}

// Subscription is one consumer's cursor into the sink. It is not safe for
// use by multiple goroutines at once.
type Subscription struct {
	sink   *Sink
	cursor uint64
	closed bool
}

// Next returns the next event, waiting until one is published, ctx ends, or
// the sink closes.
func (subscription *Subscription) Next(ctx context.Context) (Event, error) {
	sink := subscription.sink
	for {
		sink.mu.Lock()
		if subscription.closed {
			sink.mu.Unlock()
			return Event{}, ErrSubscriptionClosed
		}
		if subscription.cursor < sink.next && subscription.cursor >= sink.base {
			event := sink.events[subscription.cursor-sink.base]
			subscription.cursor++
			sink.compactLocked()
			sink.notifyLocked()
			sink.mu.Unlock()
			return event, nil
		}
		if sink.closed {
			sink.mu.Unlock()
			return Event{}, ErrSinkClosed
		}
		changed := sink.changed
		sink.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-changed:
		}
	}
}

// Events returns an iterator over the subscription. It stops when ctx ends,
// the sink closes, or the consumer breaks out.
func (subscription *Subscription) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			event, err := subscription.Next(ctx)
			if err != nil {
				return
			}
			if !yield(event) {
				return
			}
		}
	}
}

// Close detaches the subscription so it no longer holds back the log.
func (subscription *Subscription) Close() {
	sink := subscription.sink
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if subscription.closed {
		return
	}
	subscription.closed = true
	delete(sink.subscribers, subscription)
	sink.compactLocked()
	sink.notifyLocked()
}
