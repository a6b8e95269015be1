package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/message"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SqliteMessageRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewMessageRepository(db *gorm.DB, bus events.Publisher) MessageRepository {
	return &SqliteMessageRepository{db: db, bus: bus}
}

// Upsert inserts or replaces the message keyed by ID. Inserting the same ID
// twice yields exactly one row reflecting the latest write. A new message
// without a per-message timer inherits the chat's disappearing default, and
// the chat's unread counter is recomputed inside the same transaction.
func (r *SqliteMessageRepository) Upsert(ctx context.Context, m *message.Message) error {
	if err := validateMessage(m); err != nil {
		return err
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := applyChatTimerDefault(tx, m); err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error; err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: chat %s does not exist", store_errors.ErrConflict, m.ChatID)
				}
				return err
			}
			return syncChatAfterWrite(tx, m.ChatID)
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableMessages, events.OpInsert, m.ID)
	publish(ctx, r.bus, events.TableChats, events.OpUpdate, m.ChatID)
	return nil
}

// UpsertBatch is the atomic batch form of Upsert: either every message lands
// or none do.
func (r *SqliteMessageRepository) UpsertBatch(ctx context.Context, msgs []message.Message) error {
	if len(msgs) == 0 {
		return store_errors.ErrEmptyBatch
	}
	chats := make(map[string]struct{})
	for i := range msgs {
		if err := validateMessage(&msgs[i]); err != nil {
			return err
		}
		chats[msgs[i].ChatID] = struct{}{}
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range msgs {
				if err := applyChatTimerDefault(tx, &msgs[i]); err != nil {
					return err
				}
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&msgs[i]).Error; err != nil {
					if isForeignKeyViolation(err) {
						return fmt.Errorf("%w: chat %s does not exist", store_errors.ErrConflict, msgs[i].ChatID)
					}
					return err
				}
			}
			for chatID := range chats {
				if err := syncChatAfterWrite(tx, chatID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
	}
	publish(ctx, r.bus, events.TableMessages, events.OpInsert, ids...)
	for chatID := range chats {
		publish(ctx, r.bus, events.TableChats, events.OpUpdate, chatID)
	}
	return nil
}

func (r *SqliteMessageRepository) GetByID(ctx context.Context, id string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return message.Message{}, store_errors.ErrNotFound
		}
		return message.Message{}, err
	}
	return m, nil
}

// GetByChat returns the chat's messages newest first. An unknown chat yields
// an empty slice, never an error.
func (r *SqliteMessageRepository) GetByChat(ctx context.Context, chatID string, limit, offset int) ([]message.Message, error) {
	msgs := []message.Message{}
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetWithReactions joins each message to its reaction set. Every returned
// message carries a reaction slice, possibly empty, never nil.
func (r *SqliteMessageRepository) GetWithReactions(ctx context.Context, chatID string, limit, offset int) ([]message.MessageWithReactions, error) {
	msgs, err := r.GetByChat(ctx, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	result := make([]message.MessageWithReactions, 0, len(msgs))
	if len(msgs) == 0 {
		return result, nil
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
	}
	var reactions []message.Reaction
	if err := r.db.WithContext(ctx).Where("message_id IN ?", ids).Find(&reactions).Error; err != nil {
		return nil, err
	}
	byMessage := make(map[string][]message.Reaction, len(msgs))
	for _, re := range reactions {
		byMessage[re.MessageID] = append(byMessage[re.MessageID], re)
	}
	for i := range msgs {
		set := byMessage[msgs[i].ID]
		if set == nil {
			set = []message.Reaction{}
		}
		result = append(result, message.MessageWithReactions{Message: msgs[i], Reactions: set})
	}
	return result, nil
}

// Search does a case-insensitive substring match over content, newest first.
// Content is stored in searchable form at this layer; see DESIGN.md.
func (r *SqliteMessageRepository) Search(ctx context.Context, query string, limit int) ([]message.Message, error) {
	msgs := []message.Message{}
	if strings.TrimSpace(query) == "" {
		return msgs, nil
	}
	pattern := "%" + escapeLike(query) + "%"
	q := r.db.WithContext(ctx).
		Where("LOWER(content) LIKE LOWER(?) ESCAPE '\\'", pattern).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateStatus transitions every listed message, atomically. The state
// machine queued -> sent -> delivered -> read (failed from queued or sent) is
// enforced here: one invalid transition rejects the whole batch with
// ErrInvalidTransition and no row changes.
func (r *SqliteMessageRepository) UpdateStatus(ctx context.Context, ids []string, status message.Status) error {
	if len(ids) == 0 {
		return nil
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", store_errors.ErrInvalidInput, status)
	}
	touchedChats := make(map[string]struct{})
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current []message.Message
			if err := tx.Select("id", "chat_id", "status").Where("id IN ?", ids).Find(&current).Error; err != nil {
				return err
			}
			if len(current) != len(ids) {
				return fmt.Errorf("%w: %d of %d messages missing", store_errors.ErrNotFound, len(ids)-len(current), len(ids))
			}
			for i := range current {
				if !current[i].Status.CanTransitionTo(status) {
					return fmt.Errorf("%w: %s -> %s on message %s",
						store_errors.ErrInvalidTransition, current[i].Status, status, current[i].ID)
				}
				touchedChats[current[i].ChatID] = struct{}{}
			}
			if err := tx.Model(&message.Message{}).Where("id IN ?", ids).Update("status", status).Error; err != nil {
				return err
			}
			for chatID := range touchedChats {
				if err := syncChatAfterWrite(tx, chatID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableMessages, events.OpUpdate, ids...)
	return nil
}

// MarkChatRead moves every non-failed message in the chat to read and resets
// the chat's unread counter in the same transaction.
func (r *SqliteMessageRepository) MarkChatRead(ctx context.Context, chatID string) error {
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&message.Message{}).
				Where("chat_id = ? AND status NOT IN ?", chatID, []message.Status{message.StatusRead, message.StatusFailed}).
				Update("status", message.StatusRead).Error; err != nil {
				return err
			}
			return tx.Model(&chat.Chat{}).Where("id = ?", chatID).Update("unread_count", 0).Error
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableMessages, events.OpUpdate)
	publish(ctx, r.bus, events.TableChats, events.OpUpdate, chatID)
	return nil
}

// UnreadCount is the derived count of rows whose status is not read. The
// stored Chat.UnreadCount is kept consistent with this inside every write
// transaction.
func (r *SqliteMessageRepository) UnreadCount(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&message.Message{}).
		Where("chat_id = ? AND status != ?", chatID, message.StatusRead).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SqliteMessageRepository) Delete(ctx context.Context, id string) error {
	var chatID string
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m message.Message
			if err := tx.Select("id", "chat_id").Where("id = ?", id).First(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return store_errors.ErrNotFound
				}
				return err
			}
			chatID = m.ChatID
			if err := tx.Delete(&message.Message{}, "id = ?", id).Error; err != nil {
				return err
			}
			return syncChatAfterWrite(tx, chatID)
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableMessages, events.OpDelete, id)
	publish(ctx, r.bus, events.TableReactions, events.OpDelete)
	publish(ctx, r.bus, events.TableChats, events.OpUpdate, chatID)
	return nil
}

// DeleteByChat removes every message in the chat; reactions cascade away
// with their parents. Returns the number of messages deleted.
func (r *SqliteMessageRepository) DeleteByChat(ctx context.Context, chatID string) (int64, error) {
	var deleted int64
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Delete(&message.Message{}, "chat_id = ?", chatID)
			if res.Error != nil {
				return res.Error
			}
			deleted = res.RowsAffected
			return tx.Model(&chat.Chat{}).Where("id = ?", chatID).Update("unread_count", 0).Error
		})
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		publish(ctx, r.bus, events.TableMessages, events.OpDelete)
		publish(ctx, r.bus, events.TableReactions, events.OpDelete)
		publish(ctx, r.bus, events.TableChats, events.OpUpdate, chatID)
	}
	return deleted, nil
}

// AddReaction records an emoji reaction. The (message, user, emoji) triple
// is unique; a duplicate reports ErrAlreadyExists and leaves one row.
func (r *SqliteMessageRepository) AddReaction(ctx context.Context, re *message.Reaction) error {
	if re.ID == "" {
		re.ID = uuid.NewString()
	}
	if re.CreatedAt.IsZero() {
		re.CreatedAt = time.Now()
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(re).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store_errors.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: reaction parent missing", store_errors.ErrConflict)
		}
		return err
	}
	publish(ctx, r.bus, events.TableReactions, events.OpInsert, re.ID)
	return nil
}

func (r *SqliteMessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).
			Delete(&message.Reaction{}, "message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableReactions, events.OpDelete)
	return nil
}

func (r *SqliteMessageRepository) GetReactions(ctx context.Context, messageID string) ([]message.Reaction, error) {
	reactions := []message.Reaction{}
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}

// Arm starts the disappearing timer: the store only acts on a message once
// expires_at is populated. expiresAt must not precede the message timestamp.
func (r *SqliteMessageRepository) Arm(ctx context.Context, id string, expiresAt time.Time) error {
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m message.Message
			if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return store_errors.ErrNotFound
				}
				return err
			}
			if expiresAt.Before(m.Timestamp) {
				return fmt.Errorf("%w: expiry %s precedes message timestamp %s",
					store_errors.ErrInvalidInput, expiresAt, m.Timestamp)
			}
			return tx.Model(&message.Message{}).Where("id = ?", id).
				Updates(map[string]interface{}{
					"is_disappearing": true,
					"expires_at":      expiresAt,
				}).Error
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableMessages, events.OpUpdate, id)
	return nil
}

// Expired returns every armed message whose deadline has passed. The
// predicate is <=, so messages may be removed late but never early.
func (r *SqliteMessageRepository) Expired(ctx context.Context, now time.Time) ([]message.Message, error) {
	msgs := []message.Message{}
	err := r.db.WithContext(ctx).
		Where("is_disappearing = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Order("expires_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteExpired removes the set Expired(now) would return and reports how
// many messages went away.
func (r *SqliteMessageRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	var chatIDs []string
	err := withBusyRetry(ctx, func() error {
		chatIDs = chatIDs[:0]
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&message.Message{}).
				Where("is_disappearing = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
				Distinct().Pluck("chat_id", &chatIDs).Error; err != nil {
				return err
			}
			res := tx.Delete(&message.Message{},
				"is_disappearing = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now)
			if res.Error != nil {
				return res.Error
			}
			deleted = res.RowsAffected
			for _, chatID := range chatIDs {
				if err := syncChatAfterWrite(tx, chatID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		publish(ctx, r.bus, events.TableMessages, events.OpDelete)
		publish(ctx, r.bus, events.TableReactions, events.OpDelete)
		for _, chatID := range chatIDs {
			publish(ctx, r.bus, events.TableChats, events.OpUpdate, chatID)
		}
	}
	return deleted, nil
}

// ExpiringBefore returns armed messages with expires_at strictly inside
// (now, horizon], for schedulers that pre-fetch soon-to-expire messages.
func (r *SqliteMessageRepository) ExpiringBefore(ctx context.Context, now, horizon time.Time) ([]message.Message, error) {
	msgs := []message.Message{}
	err := r.db.WithContext(ctx).
		Where("is_disappearing = ? AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", true, now, horizon).
		Order("expires_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func validateMessage(m *message.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ChatID == "" || m.SenderID == "" {
		return fmt.Errorf("%w: message requires chat and sender", store_errors.ErrInvalidInput)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Status == "" {
		m.Status = message.StatusQueued
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", store_errors.ErrInvalidInput, m.Status)
	}
	if m.ExpiresAt.Valid && m.ExpiresAt.Time.Before(m.Timestamp) {
		return fmt.Errorf("%w: expiry precedes message timestamp", store_errors.ErrInvalidInput)
	}
	return nil
}

// applyChatTimerDefault inherits the chat's disappearing default onto a
// message that carries no timer of its own. The message stays unarmed until
// an explicit Arm call populates expires_at.
func applyChatTimerDefault(tx *gorm.DB, m *message.Message) error {
	if m.DisappearTimerSec.Valid || m.IsDisappearing {
		return nil
	}
	var c chat.Chat
	if err := tx.Select("id", "disappear_timer_sec").Where("id = ?", m.ChatID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if c.DisappearTimerSec.Valid && c.DisappearTimerSec.Int64 > 0 {
		m.DisappearTimerSec = c.DisappearTimerSec
		m.IsDisappearing = true
	}
	return nil
}

// syncChatAfterWrite recomputes the chat's stored unread counter and last
// message time from the message table, inside the caller's transaction.
func syncChatAfterWrite(tx *gorm.DB, chatID string) error {
	var unread int64
	if err := tx.Model(&message.Message{}).
		Where("chat_id = ? AND status != ?", chatID, message.StatusRead).
		Count(&unread).Error; err != nil {
		return err
	}
	var latest []message.Message
	if err := tx.Select("id", "timestamp").
		Where("chat_id = ?", chatID).
		Order("timestamp DESC").
		Limit(1).
		Find(&latest).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{"unread_count": unread}
	if len(latest) > 0 {
		updates["last_message_at"] = latest[0].Timestamp
	}
	res := tx.Model(&chat.Chat{}).Where("id = ?", chatID).Updates(updates)
	return res.Error
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
