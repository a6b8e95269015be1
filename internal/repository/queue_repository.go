package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cipherstore/internal/domain/queue"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultMaxRetries = 5

type SqliteQueueRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewQueueRepository(db *gorm.DB, bus events.Publisher) QueueRepository {
	return &SqliteQueueRepository{db: db, bus: bus}
}

func (r *SqliteQueueRepository) Enqueue(ctx context.Context, q *queue.QueuedMessage) error {
	if err := prepareEntry(q); err != nil {
		return err
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(q).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store_errors.ErrAlreadyExists
		}
		return err
	}
	publish(ctx, r.bus, events.TableQueuedMessages, events.OpInsert, q.ID)
	return nil
}

// EnqueueBatch is atomic: either every entry lands or none do.
func (r *SqliteQueueRepository) EnqueueBatch(ctx context.Context, entries []queue.QueuedMessage) error {
	if len(entries) == 0 {
		return store_errors.ErrEmptyBatch
	}
	for i := range entries {
		if err := prepareEntry(&entries[i]); err != nil {
			return err
		}
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range entries {
				if err := tx.Create(&entries[i]).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return store_errors.ErrAlreadyExists
		}
		return err
	}
	publish(ctx, r.bus, events.TableQueuedMessages, events.OpInsert)
	return nil
}

func (r *SqliteQueueRepository) GetByID(ctx context.Context, id string) (queue.QueuedMessage, error) {
	var q queue.QueuedMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue.QueuedMessage{}, store_errors.ErrNotFound
		}
		return queue.QueuedMessage{}, err
	}
	return q, nil
}

// GetAll returns the full queue in dequeue order: priority ascending (lower
// value first), FIFO within equal priority.
func (r *SqliteQueueRepository) GetAll(ctx context.Context) ([]queue.QueuedMessage, error) {
	entries := []queue.QueuedMessage{}
	err := r.db.WithContext(ctx).
		Order("priority ASC, queued_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetRetryable returns entries still inside their retry budget, in dequeue
// order. Exhausted entries never appear here.
func (r *SqliteQueueRepository) GetRetryable(ctx context.Context, limit int) ([]queue.QueuedMessage, error) {
	entries := []queue.QueuedMessage{}
	q := r.db.WithContext(ctx).
		Where("retry_count < max_retries").
		Order("priority ASC, queued_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Update persists retry bookkeeping (retry count, last attempt, last error).
// Concurrent updates to the same entry are serialized by the store; last
// write wins. The write never inserts: an entry acknowledged or purged in
// the meantime stays gone and the caller sees ErrNotFound.
func (r *SqliteQueueRepository) Update(ctx context.Context, q queue.QueuedMessage) error {
	updates := map[string]interface{}{
		"payload":       q.Payload,
		"priority":      q.Priority,
		"retry_count":   q.RetryCount,
		"max_retries":   q.MaxRetries,
		"last_retry_at": q.LastRetryAt,
		"last_error":    q.LastError,
	}
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&queue.QueuedMessage{}).
			Where("id = ?", q.ID).
			Updates(updates)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableQueuedMessages, events.OpUpdate, q.ID)
	return nil
}

// Delete is the explicit success acknowledgement; entries leave the queue no
// other way except the failure and age purges.
func (r *SqliteQueueRepository) Delete(ctx context.Context, id string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&queue.QueuedMessage{}, "id = ?", id)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableQueuedMessages, events.OpDelete, id)
	return nil
}

func (r *SqliteQueueRepository) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&queue.QueuedMessage{}).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FailedCount counts entries whose retry budget is exhausted. They are
// retained until DeleteFailed so callers can surface them in a UI first.
func (r *SqliteQueueRepository) FailedCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&queue.QueuedMessage{}).
		Where("retry_count >= max_retries").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SqliteQueueRepository) DeleteFailed(ctx context.Context) (int64, error) {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&queue.QueuedMessage{}, "retry_count >= max_retries")
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if res.RowsAffected > 0 {
		publish(ctx, r.bus, events.TableQueuedMessages, events.OpDelete)
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan is the age-based safety net against unbounded growth,
// independent of retry state.
func (r *SqliteQueueRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&queue.QueuedMessage{}, "queued_at < ?", cutoff)
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if res.RowsAffected > 0 {
		publish(ctx, r.bus, events.TableQueuedMessages, events.OpDelete)
	}
	return res.RowsAffected, nil
}

func prepareEntry(q *queue.QueuedMessage) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.MessageID == "" {
		return fmt.Errorf("%w: queued entry requires a message reference", store_errors.ErrInvalidInput)
	}
	if q.Priority < 0 {
		return fmt.Errorf("%w: negative priority", store_errors.ErrInvalidInput)
	}
	if q.MaxRetries <= 0 {
		q.MaxRetries = defaultMaxRetries
	}
	if q.RetryCount > q.MaxRetries {
		return fmt.Errorf("%w: retry count exceeds budget", store_errors.ErrInvalidInput)
	}
	if q.QueuedAt.IsZero() {
		q.QueuedAt = time.Now()
	}
	return nil
}
