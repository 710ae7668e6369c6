package session

import (
	"sync"
	"sync/atomic"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
)

// Event is a domain event produced by a committed command.
type Event struct {
	Type    events.EventType
	Payload any
}

// Update is what subscribers receive after every commit: the fully applied
// room and the events the commit produced. Room is shared between
// subscribers and must not be modified.
type Update struct {
	Room   *models.Room
	Events []Event
}

// Subscription is one subscriber's bounded queue of updates. When the queue
// is full the oldest update is dropped, so a slow reader never stalls the room.
type Subscription struct {
	id      uint64
	ch      chan Update
	broker  *broker
	dropped atomic.Uint64
}

// Updates returns the channel updates arrive on. It is closed when the
// subscription ends or the room is evicted.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Dropped returns how many updates were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s.id)
}

// broker fans updates out to the subscribers of one room. publish is only
// called from the room's actor goroutine.
type broker struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

func newBroker(buffer int) *broker {
	if buffer < 1 {
		buffer = 1
	}
	return &broker{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

func (b *broker) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		ch:     make(chan Update, b.buffer),
		broker: b,
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *broker) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		deliver(sub, u)
	}
}

// send delivers to a single subscriber, used for the initial snapshot.
func (b *broker) send(sub *Subscription, u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		deliver(sub, u)
	}
}

func deliver(sub *Subscription, u Update) {
	select {
	case sub.ch <- u:
		return
	default:
	}

	// Queue full: drop the oldest update to make room.
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- u:
	default:
		sub.dropped.Add(1)
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
