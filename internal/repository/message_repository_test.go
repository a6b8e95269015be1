package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"cipherstore/internal/domain/message"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"
)

func newMsg(id, chatID, senderID, content string, ts time.Time) message.Message {
	return message.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Status:    message.StatusSent,
		Timestamp: ts,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	m := newMsg("m1", "c1", "u1", "first", time.Now())
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	m.Content = "second"
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "second" {
		t.Errorf("expected last write to win, got content %q", got.Content)
	}

	var count int64
	if err := db.Model(&message.Message{}).Where("id = ?", "m1").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one row, got %d", count)
	}
}

func TestUpsertUnknownChatConflicts(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepository(db, nil)

	m := newMsg("m1", "missing", "u1", "hello", time.Now())
	err := repo.Upsert(context.Background(), &m)
	if !errors.Is(err, store_errors.ErrConflict) {
		t.Fatalf("expected ErrConflict for unknown chat, got %v", err)
	}
}

func TestGetByChatOrderingAndPagination(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := newMsg(string(rune('a'+i)), "c1", "u1", "msg", base.Add(time.Duration(i)*time.Minute))
		if err := repo.Upsert(ctx, &m); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	page, err := repo.GetByChat(ctx, "c1", 2, 0)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page))
	}
	if page[0].ID != "e" || page[1].ID != "d" {
		t.Errorf("expected newest first, got [%s %s]", page[0].ID, page[1].ID)
	}

	page, err = repo.GetByChat(ctx, "c1", 2, 2)
	if err != nil {
		t.Fatalf("get offset page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c" {
		t.Errorf("pagination broken, got %+v", page)
	}

	empty, err := repo.GetByChat(ctx, "no-such-chat", 10, 0)
	if err != nil {
		t.Fatalf("empty chat must not error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result for unknown chat")
	}
}

func TestSearchMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	contents := []string{"Hello World", "goodbye world", "unrelated", "50% discount"}
	base := time.Now().Add(-time.Hour)
	for i, c := range contents {
		m := newMsg(string(rune('a'+i)), "c1", "u1", c, base.Add(time.Duration(i)*time.Minute))
		if err := repo.Upsert(ctx, &m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"world", 2},
		{"WORLD", 2},
		{"hello", 1},
		{"nothing", 0},
		{"50%", 1},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := repo.Search(ctx, tt.query, 0)
		if err != nil {
			t.Fatalf("search %q: %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("search %q: expected %d results, got %d", tt.query, tt.want, len(got))
		}
	}

	got, _ := repo.Search(ctx, "world", 0)
	if len(got) == 2 && !got[0].Timestamp.After(got[1].Timestamp) {
		t.Errorf("search results must be newest first")
	}
}

func TestUpdateStatusEnforcesStateMachine(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	m := newMsg("m1", "c1", "u1", "hi", time.Now())
	m.Status = message.StatusQueued
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, next := range []message.Status{message.StatusSent, message.StatusDelivered, message.StatusRead} {
		if err := repo.UpdateStatus(ctx, []string{"m1"}, next); err != nil {
			t.Fatalf("forward transition to %s: %v", next, err)
		}
	}

	err := repo.UpdateStatus(ctx, []string{"m1"}, message.StatusSent)
	if !errors.Is(err, store_errors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition going read -> sent, got %v", err)
	}
	err = repo.UpdateStatus(ctx, []string{"m1"}, message.StatusFailed)
	if !errors.Is(err, store_errors.ErrInvalidTransition) {
		t.Fatalf("read messages cannot fail, got %v", err)
	}

	got, _ := repo.GetByID(ctx, "m1")
	if got.Status != message.StatusRead {
		t.Errorf("rejected transition must not change the row, status is %s", got.Status)
	}
}

func TestUpdateStatusBatchAtomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	a := newMsg("a", "c1", "u1", "x", time.Now())
	a.Status = message.StatusQueued
	b := newMsg("b", "c1", "u1", "y", time.Now())
	b.Status = message.StatusRead
	if err := repo.UpsertBatch(ctx, []message.Message{a, b}); err != nil {
		t.Fatalf("batch upsert: %v", err)
	}

	// b cannot move read -> sent, so the whole batch must be rejected.
	err := repo.UpdateStatus(ctx, []string{"a", "b"}, message.StatusSent)
	if !errors.Is(err, store_errors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := repo.GetByID(ctx, "a")
	if got.Status != message.StatusQueued {
		t.Errorf("batch rejection must leave every row untouched, a is %s", got.Status)
	}
}

func TestCascadeChatToMessagesToReactions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	seedChat(t, db, "c1", "u1", "u2")
	msgs := NewMessageRepository(db, nil)
	chats := NewChatRepository(db, nil)

	m := newMsg("m1", "c1", "u1", "react to me", time.Now())
	if err := msgs.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := msgs.AddReaction(ctx, &message.Reaction{MessageID: "m1", UserID: "u2", Emoji: "👍"}); err != nil {
		t.Fatalf("add reaction: %v", err)
	}

	if err := chats.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	if _, err := msgs.GetByID(ctx, "m1"); !errors.Is(err, store_errors.ErrNotFound) {
		t.Errorf("message should cascade away with its chat, got %v", err)
	}
	var count int64
	if err := db.Model(&message.Reaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count reactions: %v", err)
	}
	if count != 0 {
		t.Errorf("reactions should cascade away transitively, %d remain", count)
	}
}

func TestCascadeMessageDeleteRemovesReactions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	m := newMsg("m1", "c1", "u1", "bye", time.Now())
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.AddReaction(ctx, &message.Reaction{MessageID: "m1", UserID: "u1", Emoji: "❤️"}); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	if err := repo.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	reactions, err := repo.GetReactions(ctx, "m1")
	if err != nil {
		t.Fatalf("get reactions: %v", err)
	}
	if len(reactions) != 0 {
		t.Errorf("expected no surviving reactions, got %d", len(reactions))
	}
}

func TestReactionUniqueness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	m := newMsg("m1", "c1", "u1", "popular", time.Now())
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r := message.Reaction{MessageID: "m1", UserID: "u1", Emoji: "🔥"}
	if err := repo.AddReaction(ctx, &r); err != nil {
		t.Fatalf("first reaction: %v", err)
	}
	dup := message.Reaction{MessageID: "m1", UserID: "u1", Emoji: "🔥"}
	if err := repo.AddReaction(ctx, &dup); !errors.Is(err, store_errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate triple, got %v", err)
	}

	other := message.Reaction{MessageID: "m1", UserID: "u1", Emoji: "🎉"}
	if err := repo.AddReaction(ctx, &other); err != nil {
		t.Fatalf("different emoji must be allowed: %v", err)
	}

	reactions, _ := repo.GetReactions(ctx, "m1")
	if len(reactions) != 2 {
		t.Errorf("expected 2 reactions, got %d", len(reactions))
	}
}

func TestGetWithReactionsNeverNil(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	a := newMsg("a", "c1", "u1", "with", time.Now().Add(-time.Minute))
	b := newMsg("b", "c1", "u1", "without", time.Now())
	if err := repo.UpsertBatch(ctx, []message.Message{a, b}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if err := repo.AddReaction(ctx, &message.Reaction{MessageID: "a", UserID: "u1", Emoji: "👀"}); err != nil {
		t.Fatalf("reaction: %v", err)
	}

	got, err := repo.GetWithReactions(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatalf("get with reactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	for _, mr := range got {
		if mr.Reactions == nil {
			t.Errorf("reaction list for %s must never be nil", mr.Message.ID)
		}
	}
}

func TestUnreadCountConsistency(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	msgs := NewMessageRepository(db, nil)
	chats := NewChatRepository(db, nil)

	for i, st := range []message.Status{message.StatusSent, message.StatusDelivered, message.StatusRead} {
		m := newMsg(string(rune('a'+i)), "c1", "u1", "x", time.Now())
		m.Status = st
		if err := msgs.Upsert(ctx, &m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	derived, err := msgs.UnreadCount(ctx, "c1")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if derived != 2 {
		t.Errorf("expected derived unread 2, got %d", derived)
	}
	c, _ := chats.GetByID(ctx, "c1")
	if int64(c.UnreadCount) != derived {
		t.Errorf("stored counter %d diverged from derived %d", c.UnreadCount, derived)
	}

	if err := msgs.MarkChatRead(ctx, "c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	derived, _ = msgs.UnreadCount(ctx, "c1")
	if derived != 0 {
		t.Errorf("expected unread 0 after mark read, got %d", derived)
	}
	c, _ = chats.GetByID(ctx, "c1")
	if c.UnreadCount != 0 {
		t.Errorf("stored counter should reset, got %d", c.UnreadCount)
	}
}

func TestChatTimerDefaultInherited(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	msgs := NewMessageRepository(db, nil)
	chats := NewChatRepository(db, nil)

	timer := int64(300)
	if err := chats.SetDisappearTimer(ctx, "c1", &timer); err != nil {
		t.Fatalf("set timer: %v", err)
	}

	m := newMsg("m1", "c1", "u1", "inherits", time.Now())
	if err := msgs.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := msgs.GetByID(ctx, "m1")
	if !got.IsDisappearing || !got.DisappearTimerSec.Valid || got.DisappearTimerSec.Int64 != 300 {
		t.Errorf("message should inherit the chat default timer, got %+v", got)
	}
	if got.ExpiresAt.Valid {
		t.Errorf("inheriting the default must not arm the message")
	}
}

// Armed at T with a 60s window: invisible to the expiry scan at T+30,
// swept at T+61, gone afterward.
func TestDisappearingMessageLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	T := time.Now()
	m := newMsg("m1", "c1", "u1", "self destruct", T)
	m.IsDisappearing = true
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Arm(ctx, "m1", T.Add(60*time.Second)); err != nil {
		t.Fatalf("arm: %v", err)
	}

	expired, err := repo.Expired(ctx, T.Add(30*time.Second))
	if err != nil {
		t.Fatalf("expired at T+30: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("m1 must not be expired at T+30")
	}

	expired, err = repo.Expired(ctx, T.Add(61*time.Second))
	if err != nil {
		t.Fatalf("expired at T+61: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "m1" {
		t.Fatalf("m1 must be expired at T+61, got %+v", expired)
	}

	deleted, err := repo.DeleteExpired(ctx, T.Add(61*time.Second))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
	if _, err := repo.GetByID(ctx, "m1"); !errors.Is(err, store_errors.ErrNotFound) {
		t.Errorf("m1 must be absent after the sweep, got %v", err)
	}
}

func TestExpiringBeforeWindow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	T := time.Now()
	for i, offset := range []time.Duration{10 * time.Second, 90 * time.Second, 10 * time.Minute} {
		m := newMsg(string(rune('a'+i)), "c1", "u1", "x", T)
		m.IsDisappearing = true
		if err := repo.Upsert(ctx, &m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := repo.Arm(ctx, m.ID, T.Add(offset)); err != nil {
			t.Fatalf("arm: %v", err)
		}
	}

	// Window (T+30s, T+5m]: only the 90s message qualifies.
	got, err := repo.ExpiringBefore(ctx, T.Add(30*time.Second), T.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("expiring before: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("expected only b inside the window, got %+v", got)
	}
}

func TestArmRejectsExpiryBeforeTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	repo := NewMessageRepository(db, nil)

	T := time.Now()
	m := newMsg("m1", "c1", "u1", "x", T)
	if err := repo.Upsert(ctx, &m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	err := repo.Arm(ctx, "m1", T.Add(-time.Minute))
	if !errors.Is(err, store_errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func awaitChatChange(t *testing.T, sub *events.Subscription, chatID string) {
	t.Helper()
	select {
	case change, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		if change.Table != events.TableChats {
			t.Fatalf("expected a chats change, got %+v", change)
		}
		if len(change.Keys) > 0 && change.Keys[0] != chatID {
			t.Fatalf("expected chat %s, got %v", chatID, change.Keys)
		}
	case <-time.After(time.Second):
		t.Fatalf("no chats invalidation delivered")
	}
}

// Every write that touches a chat's counters must invalidate chat-list
// subscribers, not just the single-message Upsert path.
func TestChatCounterWritesInvalidateChatSubscribers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")

	bus := events.NewBus()
	defer bus.Close()
	repo := NewMessageRepository(db, bus)
	sub := bus.Subscribe(events.TableChats)
	defer sub.Close()

	T := time.Now()
	a := newMsg("a", "c1", "u1", "x", T)
	a.IsDisappearing = true
	b := newMsg("b", "c1", "u1", "y", T)
	if err := repo.UpsertBatch(ctx, []message.Message{a, b}); err != nil {
		t.Fatalf("batch upsert: %v", err)
	}
	awaitChatChange(t, sub, "c1")

	if err := repo.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	awaitChatChange(t, sub, "c1")

	if err := repo.Arm(ctx, "a", T.Add(time.Second)); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, err := repo.DeleteExpired(ctx, T.Add(time.Minute)); err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	awaitChatChange(t, sub, "c1")
}

func TestDeleteByChat(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedChat(t, db, "c1", "u1")
	seedChat(t, db, "c2", "u1")
	repo := NewMessageRepository(db, nil)

	for i := 0; i < 3; i++ {
		m := newMsg(string(rune('a'+i)), "c1", "u1", "x", time.Now())
		if err := repo.Upsert(ctx, &m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	other := newMsg("z", "c2", "u1", "survivor", time.Now())
	if err := repo.Upsert(ctx, &other); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	deleted, err := repo.DeleteByChat(ctx, "c1")
	if err != nil {
		t.Fatalf("delete by chat: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deletions, got %d", deleted)
	}
	if _, err := repo.GetByID(ctx, "z"); err != nil {
		t.Errorf("other chat's messages must survive: %v", err)
	}
}
