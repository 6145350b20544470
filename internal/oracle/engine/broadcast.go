package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sawpanic/oraclerun/internal/oracle"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 1000

// Broadcaster fans out price updates to subscribers. Publishing never
// blocks: when a subscriber's buffer is full, its oldest pending update is
// dropped to make room for the new one.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
	closed bool
}

// Subscription is one subscriber's view of the broadcast stream.
type Subscription struct {
	id string
	ch chan oracle.PriceUpdate
	b  *Broadcaster
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// buffer. A non-positive buffer selects DefaultSubscriberBuffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. After Close the returned
// subscription's channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan oracle.PriceUpdate, b.buffer),
		b:  b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers update to every subscriber without blocking. With no
// subscribers the update is silently dropped.
func (b *Broadcaster) Publish(update oracle.PriceUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- update:
		default:
			// Full buffer: evict the oldest pending update so a slow
			// reader lags instead of stalling the publisher.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- update:
			default:
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close terminates all subscriptions. Further publishes are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Updates is the subscriber's receive channel. It is closed when the
// subscription or the broadcaster shuts down.
func (s *Subscription) Updates() <-chan oracle.PriceUpdate { return s.ch }

// Close detaches the subscription from the broadcaster and closes its
// channel.
func (s *Subscription) Close() { s.b.unsubscribe(s.id) }
