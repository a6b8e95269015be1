package events

import (
	"context"
	"sync"
	"time"
)

// Publisher is the write side of the invalidation bus. Writers publish after
// their transaction commits, never inside it.
type Publisher interface {
	Publish(ctx context.Context, change Change)
}

// Subscription receives change events for the tables it registered interest
// in. A slow consumer loses the oldest undelivered event, never blocks a
// writer.
type Subscription struct {
	bus    *Bus
	id     int
	tables map[string]struct{}
	ch     chan Change
}

// C returns the channel change events are delivered on. The channel is
// closed when the subscription is cancelled or the bus shuts down.
func (s *Subscription) C() <-chan Change {
	return s.ch
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is an in-process publish/subscribe channel keyed by table name.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Subscription
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers interest in the given tables. An empty table list
// subscribes to every table.
func (b *Bus) Subscribe(tables ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:    b,
		id:     b.nextID,
		tables: make(map[string]struct{}, len(tables)),
		ch:     make(chan Change, 16),
	}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}
	b.nextID++
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish fans the change out to matching subscribers. Delivery is
// asynchronous with respect to the writer: a full subscriber buffer drops
// its oldest event to make room, so the writer never waits.
func (b *Bus) Publish(_ context.Context, change Change) {
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if len(sub.tables) > 0 {
			if _, ok := sub.tables[change.Table]; !ok {
				continue
			}
		}
		for {
			select {
			case sub.ch <- change:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
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

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}
