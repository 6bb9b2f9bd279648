package circuitbreaker

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity of a subscriber.
const DefaultSubscriberBuffer = 64

// EventBus fans breaker transitions out to subscribers. Publish never
// blocks: an event is dropped for a subscriber whose buffer is full.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	metrics *Metrics
}

// NewEventBus creates an event bus. A nil metrics disables drop counting
// in Prometheus.
func NewEventBus(metrics *Metrics) *EventBus {
	return &EventBus{
		subs:    make(map[uint64]chan Event),
		metrics: metrics,
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// SubscribeFunc runs fn for every event on its own goroutine until ctx is
// done or the bus is closed.
func (b *EventBus) SubscribeFunc(ctx context.Context, buffer int, fn func(Event)) {
	ch, unsubscribe := b.Subscribe(buffer)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				fn(e)
			}
		}
	}()
}

// Publish delivers e to every subscriber with buffer space.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.metrics.recordDropped()
		}
	}
}

// Dropped returns the number of events dropped so far.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are no-ops.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
