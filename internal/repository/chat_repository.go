package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cipherstore/internal/domain/chat"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SqliteChatRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewChatRepository(db *gorm.DB, bus events.Publisher) ChatRepository {
	return &SqliteChatRepository{db: db, bus: bus}
}

func (r *SqliteChatRepository) Create(ctx context.Context, c *chat.Chat) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(c).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store_errors.ErrAlreadyExists
		}
		return err
	}
	publish(ctx, r.bus, events.TableChats, events.OpInsert, c.ID)
	return nil
}

func (r *SqliteChatRepository) GetByID(ctx context.Context, id string) (chat.Chat, error) {
	var c chat.Chat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Chat{}, store_errors.ErrNotFound
		}
		return chat.Chat{}, err
	}
	return c, nil
}

// List returns chats for the chat list view: pinned first, then most
// recently active.
func (r *SqliteChatRepository) List(ctx context.Context, includeArchived bool) ([]chat.Chat, error) {
	chats := []chat.Chat{}
	q := r.db.WithContext(ctx).Order("is_pinned DESC, last_message_at DESC, created_at DESC")
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}
	if err := q.Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// Update replaces every mutable column of an existing chat. It never
// inserts: updating a deleted chat reports ErrNotFound instead of quietly
// recreating the row.
func (r *SqliteChatRepository) Update(ctx context.Context, c chat.Chat) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&chat.Chat{}).
			Where("id = ?", c.ID).
			Select("*").Omit("id", "created_at").
			Updates(&c)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableChats, events.OpUpdate, c.ID)
	return nil
}

// Delete removes the chat; its messages and transitively their reactions
// cascade away in the same statement.
func (r *SqliteChatRepository) Delete(ctx context.Context, id string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&chat.Chat{}, "id = ?", id)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableChats, events.OpDelete, id)
	publish(ctx, r.bus, events.TableMessages, events.OpDelete)
	publish(ctx, r.bus, events.TableReactions, events.OpDelete)
	return nil
}

func (r *SqliteChatRepository) SetMuted(ctx context.Context, id string, until *time.Time) error {
	muted := sql.NullTime{}
	if until != nil {
		muted = sql.NullTime{Time: *until, Valid: true}
	}
	return r.updateFlag(ctx, id, map[string]interface{}{"muted_until": muted})
}

func (r *SqliteChatRepository) SetPinned(ctx context.Context, id string, pinned bool) error {
	return r.updateFlag(ctx, id, map[string]interface{}{"is_pinned": pinned})
}

func (r *SqliteChatRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	return r.updateFlag(ctx, id, map[string]interface{}{"is_archived": archived})
}

// SetDisappearTimer sets the chat-level disappearing default applied to new
// messages that carry no timer of their own. nil clears the default.
func (r *SqliteChatRepository) SetDisappearTimer(ctx context.Context, id string, seconds *int64) error {
	timer := sql.NullInt64{}
	if seconds != nil {
		if *seconds <= 0 {
			return store_errors.ErrInvalidInput
		}
		timer = sql.NullInt64{Int64: *seconds, Valid: true}
	}
	return r.updateFlag(ctx, id, map[string]interface{}{"disappear_timer_sec": timer})
}

func (r *SqliteChatRepository) updateFlag(ctx context.Context, id string, updates map[string]interface{}) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&chat.Chat{}).Where("id = ?", id).Updates(updates)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableChats, events.OpUpdate, id)
	return nil
}
