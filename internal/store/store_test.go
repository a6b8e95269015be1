package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/message"
	"cipherstore/internal/domain/user"
	"cipherstore/internal/events"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "store.db"), false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return st
}

func TestOpenMigratesAndValidates(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	u := user.User{ID: "u1", PublicKey: "pk", DisplayName: "Alice"}
	if err := st.Users.Upsert(ctx, &u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	c := chat.Chat{ID: "c1", Type: chat.TypeDirect, Participants: chat.StringList{"u1"}}
	if err := st.Chats.Create(ctx, &c); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	m := message.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Content: "hi", Status: message.StatusSent, Timestamp: time.Now()}
	if err := st.Messages.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert message: %v", err)
	}
}

func TestWritesReachSubscribers(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	u := user.User{ID: "u1", PublicKey: "pk", DisplayName: "Alice"}
	if err := st.Users.Upsert(ctx, &u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	c := chat.Chat{ID: "c1", Type: chat.TypeDirect, Participants: chat.StringList{"u1"}}
	if err := st.Chats.Create(ctx, &c); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	sub := st.Subscribe(events.TableMessages)
	defer sub.Close()

	m := message.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Content: "hi", Status: message.StatusSent, Timestamp: time.Now()}
	if err := st.Messages.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert message: %v", err)
	}

	select {
	case change := <-sub.C():
		if change.Table != events.TableMessages || change.Op != events.OpInsert {
			t.Errorf("unexpected change %+v", change)
		}
		// The write is durable by the time the event arrives.
		if _, err := st.Messages.GetByID(ctx, change.Keys[0]); err != nil {
			t.Errorf("event for a row the reader cannot see: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no invalidation event delivered")
	}
}
