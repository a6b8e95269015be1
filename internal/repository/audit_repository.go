package repository

import (
	"context"
	"time"

	"cipherstore/internal/domain/audit"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SqliteAuditRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewAuditRepository(db *gorm.DB, bus events.Publisher) AuditRepository {
	return &SqliteAuditRepository{db: db, bus: bus}
}

// AppendSecurityEvent writes one audit record. The table is append-only;
// the only permitted update is the acknowledgement flip.
func (r *SqliteAuditRepository) AppendSecurityEvent(ctx context.Context, e *audit.SecurityEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Severity == "" {
		e.Severity = audit.SeverityInfo
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(e).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableSecurityEvents, events.OpInsert, e.ID)
	return nil
}

func (r *SqliteAuditRepository) AcknowledgeSecurityEvent(ctx context.Context, id string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&audit.SecurityEvent{}).
			Where("id = ?", id).
			Update("is_acknowledged", true)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableSecurityEvents, events.OpUpdate, id)
	return nil
}

func (r *SqliteAuditRepository) ListSecurityEvents(ctx context.Context, unackedOnly bool, limit int) ([]audit.SecurityEvent, error) {
	evts := []audit.SecurityEvent{}
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if unackedOnly {
		q = q.Where("is_acknowledged = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&evts).Error; err != nil {
		return nil, err
	}
	return evts, nil
}

func (r *SqliteAuditRepository) AppendSyncLog(ctx context.Context, l *audit.SyncLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now()
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(l).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableSyncLogs, events.OpInsert, l.ID)
	return nil
}

func (r *SqliteAuditRepository) ListSyncLogs(ctx context.Context, deviceID string, limit int) ([]audit.SyncLog, error) {
	logs := []audit.SyncLog{}
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
