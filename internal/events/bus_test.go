package events

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return Change{}
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(TableMessages)
	defer sub.Close()

	bus.Publish(context.Background(), Change{Table: TableMessages, Op: OpInsert, Keys: []string{"m1"}})

	got := recv(t, sub.C())
	if got.Table != TableMessages || got.Op != OpInsert {
		t.Errorf("unexpected event %+v", got)
	}
	if len(got.Keys) != 1 || got.Keys[0] != "m1" {
		t.Errorf("keys not delivered, got %v", got.Keys)
	}
	if got.OccurredAt.IsZero() {
		t.Errorf("bus must stamp OccurredAt when the writer did not")
	}
}

func TestBusFiltersByTable(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(TableChats)
	defer sub.Close()

	bus.Publish(context.Background(), Change{Table: TableMessages, Op: OpInsert})
	bus.Publish(context.Background(), Change{Table: TableChats, Op: OpUpdate, Keys: []string{"c1"}})

	got := recv(t, sub.C())
	if got.Table != TableChats {
		t.Errorf("subscriber must only see its tables, got %s", got.Table)
	}
	select {
	case extra := <-sub.C():
		t.Errorf("unexpected extra event %+v", extra)
	default:
	}
}

func TestBusEmptySubscriptionSeesEverything(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	for _, table := range []string{TableMessages, TableChats, TableQueuedMessages} {
		bus.Publish(context.Background(), Change{Table: table, Op: OpInsert})
	}
	for i := 0; i < 3; i++ {
		recv(t, sub.C())
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(TableMessages)
	defer sub.Close()

	// Overfill the buffer without draining; the writer must never block.
	total := cap(sub.ch) + 5
	for i := 0; i < total; i++ {
		bus.Publish(context.Background(), Change{Table: TableMessages, Op: OpInsert, Keys: []string{string(rune('a' + i))}})
	}

	first := recv(t, sub.C())
	if first.Keys[0] == "a" {
		t.Errorf("oldest event should have been dropped")
	}
	drained := 1
	for {
		select {
		case <-sub.C():
			drained++
			continue
		default:
		}
		break
	}
	if drained != cap(sub.ch) {
		t.Errorf("expected exactly %d retained events, got %d", cap(sub.ch), drained)
	}
}

func TestBusCloseClosesSubscriptions(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(TableMessages)
	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Errorf("subscription channel must be closed after bus shutdown")
	}

	// Publishing after close is a no-op, and late subscriptions come closed.
	bus.Publish(context.Background(), Change{Table: TableMessages})
	late := bus.Subscribe(TableMessages)
	if _, ok := <-late.C(); ok {
		t.Errorf("subscription on a closed bus must come closed")
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(TableMessages)
	sub.Close()
	if _, ok := <-sub.C(); ok {
		t.Errorf("closed subscription must not deliver")
	}
	// A second Close must be harmless.
	sub.Close()
}
