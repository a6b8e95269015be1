package repository

import (
	"context"
	"time"

	"cipherstore/internal/domain/perf"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SqlitePerfRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewPerfRepository(db *gorm.DB, bus events.Publisher) PerfRepository {
	return &SqlitePerfRepository{db: db, bus: bus}
}

func (r *SqlitePerfRepository) RecordMetric(ctx context.Context, m *perf.Metric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(m).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TablePerfMetrics, events.OpInsert, m.ID)
	return nil
}

func (r *SqlitePerfRepository) RaiseAlert(ctx context.Context, a *perf.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(a).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TablePerfAlerts, events.OpInsert, a.ID)
	return nil
}

func (r *SqlitePerfRepository) AcknowledgeAlert(ctx context.Context, id string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&perf.Alert{}).
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
	publish(ctx, r.bus, events.TablePerfAlerts, events.OpUpdate, id)
	return nil
}

func (r *SqlitePerfRepository) ListAlerts(ctx context.Context, unackedOnly bool, limit int) ([]perf.Alert, error) {
	alerts := []perf.Alert{}
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if unackedOnly {
		q = q.Where("is_acknowledged = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// PruneMetricsBefore keeps the durable metric history bounded.
func (r *SqlitePerfRepository) PruneMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&perf.Metric{}, "recorded_at < ?", cutoff)
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if res.RowsAffected > 0 {
		publish(ctx, r.bus, events.TablePerfMetrics, events.OpDelete)
	}
	return res.RowsAffected, nil
}
