package collaboration

import (
	"sync"
	"sync/atomic"

	"collabd/internal/models"
)

// Bus is the process-wide fan-out channel. It is topic-agnostic: every
// subscriber sees every broadcast event and filters by its own session.
//
// Each subscription has a bounded backlog. When a subscriber falls behind,
// the oldest pending event is discarded to make room for the newest one and
// the subscription's drop counter grows. Clients recover with SyncRequest.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	backlog int
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	ch      chan models.ServerMessage
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus creates a bus whose subscriptions buffer up to backlog events.
func NewBus(backlog int) *Bus {
	if backlog < 1 {
		backlog = 1
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		backlog: backlog,
	}
}

// Subscribe registers a new consumer.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan models.ServerMessage, b.backlog),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers msg to every subscriber and returns how many received
// it. Point-to-point messages (Welcome, Error) are refused.
//
// Publishers are serialized, so all subscribers observe broadcast events in
// the same order.
func (b *Bus) Publish(msg models.ServerMessage) int {
	if !msg.Broadcast() {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.offer(msg)
	}
	return len(b.subs)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// offer enqueues msg, evicting the oldest event when the backlog is full.
// Called with the bus lock held.
func (s *Subscription) offer(msg models.ServerMessage) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan models.ServerMessage {
	return s.ch
}

// Dropped reports how many events were evicted because this subscriber
// lagged.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}
