package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cipherstore/internal/domain/device"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SqliteDeviceRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewDeviceRepository(db *gorm.DB, bus events.Publisher) DeviceRepository {
	return &SqliteDeviceRepository{db: db, bus: bus}
}

// Register upserts a device. When the row claims to be the current device,
// every other row loses the flag inside the same transaction, so at most one
// current device survives any registration sequence.
func (r *SqliteDeviceRepository) Register(ctx context.Context, d *device.RegisteredDevice) error {
	if d.DeviceID == "" {
		return fmt.Errorf("%w: device requires an id", store_errors.ErrInvalidInput)
	}
	if d.SyncStatus == "" {
		d.SyncStatus = device.SyncPending
	}
	if !d.SyncStatus.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", store_errors.ErrInvalidInput, d.SyncStatus)
	}
	now := time.Now()
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = now
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if d.IsCurrentDevice {
				if err := tx.Model(&device.RegisteredDevice{}).
					Where("device_id != ?", d.DeviceID).
					Update("is_current_device", false).Error; err != nil {
					return err
				}
			}
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(d).Error
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableRegisteredDevices, events.OpInsert, d.DeviceID)
	return nil
}

func (r *SqliteDeviceRepository) GetByID(ctx context.Context, deviceID string) (device.RegisteredDevice, error) {
	var d device.RegisteredDevice
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return device.RegisteredDevice{}, store_errors.ErrNotFound
		}
		return device.RegisteredDevice{}, err
	}
	return d, nil
}

func (r *SqliteDeviceRepository) GetAll(ctx context.Context) ([]device.RegisteredDevice, error) {
	devices := []device.RegisteredDevice{}
	err := r.db.WithContext(ctx).
		Order("is_current_device DESC, last_seen DESC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *SqliteDeviceRepository) SetTrusted(ctx context.Context, deviceID string, trusted bool) error {
	return r.updateDevice(ctx, deviceID, map[string]interface{}{"is_trusted": trusted})
}

// SetCurrent hands the current-device flag to deviceID, clearing it
// everywhere else in one transaction.
func (r *SqliteDeviceRepository) SetCurrent(ctx context.Context, deviceID string) error {
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&device.RegisteredDevice{}).
				Where("device_id = ?", deviceID).
				Update("is_current_device", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return store_errors.ErrNotFound
			}
			return tx.Model(&device.RegisteredDevice{}).
				Where("device_id != ?", deviceID).
				Update("is_current_device", false).Error
		})
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableRegisteredDevices, events.OpUpdate)
	return nil
}

func (r *SqliteDeviceRepository) UpdateSyncStatus(ctx context.Context, deviceID string, status device.SyncStatus, syncTime time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", store_errors.ErrInvalidInput, status)
	}
	updates := map[string]interface{}{"sync_status": status}
	if !syncTime.IsZero() {
		updates["last_sync_at"] = sql.NullTime{Time: syncTime, Valid: true}
	}
	return r.updateDevice(ctx, deviceID, updates)
}

// NeedingSync returns devices in pending or error state, feeding the
// external sync scheduler.
func (r *SqliteDeviceRepository) NeedingSync(ctx context.Context) ([]device.RegisteredDevice, error) {
	devices := []device.RegisteredDevice{}
	err := r.db.WithContext(ctx).
		Where("sync_status IN ?", []device.SyncStatus{device.SyncPending, device.SyncError}).
		Order("last_seen DESC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *SqliteDeviceRepository) TouchLastSeen(ctx context.Context, deviceID string, seen time.Time) error {
	return r.updateDevice(ctx, deviceID, map[string]interface{}{"last_seen": seen})
}

// DeleteUntrustedOlderThan prunes devices that are both untrusted and stale
// by last_seen. The current device is never pruned.
func (r *SqliteDeviceRepository) DeleteUntrustedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Delete(&device.RegisteredDevice{},
			"is_trusted = ? AND is_current_device = ? AND last_seen < ?", false, false, cutoff)
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if res.RowsAffected > 0 {
		publish(ctx, r.bus, events.TableRegisteredDevices, events.OpDelete)
	}
	return res.RowsAffected, nil
}

func (r *SqliteDeviceRepository) updateDevice(ctx context.Context, deviceID string, updates map[string]interface{}) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&device.RegisteredDevice{}).
			Where("device_id = ?", deviceID).
			Updates(updates)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableRegisteredDevices, events.OpUpdate, deviceID)
	return nil
}
