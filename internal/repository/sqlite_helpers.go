package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/mattn/go-sqlite3"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

const (
	busyRetries = 3
	busyBackoff = 50 * time.Millisecond
)

// withBusyRetry re-runs fn a small bounded number of times when the driver
// reports lock contention, then surfaces ErrTransientIO so callers know the
// operation is safe to retry and no data was lost.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("%w: %v", store_errors.ErrTransientIO, err)
}

// publish notifies the invalidation bus after a committed write. bus may be
// nil when the caller runs without subscriptions (tools, tests).
func publish(ctx context.Context, bus events.Publisher, table, op string, keys ...string) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, events.Change{
		Table:      table,
		Op:         op,
		Keys:       keys,
		OccurredAt: time.Now(),
	})
}
