// Package notify is an in-memory publish/subscribe broker.
//
// Delivery is best-effort: Publish never blocks, and a subscriber whose buffer
// is full misses the event. Events are not persisted, so a subscriber only
// sees what is published while it is subscribed.
package notify

import "sync"

// DefaultBuffer is the subscriber channel capacity used when none is given.
const DefaultBuffer = 64

// Broker fans values of type T out to any number of subscribers.
// The zero value is not usable; call NewBroker.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
	onDrop func()
}

// Option configures a Broker.
type Option[T any] func(*Broker[T])

// WithDropHook registers fn to run each time an event is dropped for a full subscriber.
func WithDropHook[T any](fn func()) Option[T] {
	return func(b *Broker[T]) { b.onDrop = fn }
}

// NewBroker returns an empty broker.
func NewBroker[T any](opts ...Option[T]) *Broker[T] {
	b := &Broker[T]{subs: make(map[uint64]*Subscription[T])}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is one subscriber's view of the broker.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	id     uint64
	broker *Broker[T]
	once   sync.Once
}

// Subscribe registers a new subscriber with the given channel capacity.
// On a closed broker the returned subscription's channel is already closed.
func (b *Broker[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Publish delivers v to every subscriber with room in its buffer and returns
// how many received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.subs {
		select {
		case s.ch <- v:
			delivered++
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone and closes their channels. Later Subscribe
// calls return closed subscriptions and Publish becomes a no-op.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// Close removes the subscription and closes its channel. It is idempotent.
func (s *Subscription[T]) Close() {
	b := s.broker
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
