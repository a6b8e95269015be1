package devices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cipherstore/internal/domain/audit"
	"cipherstore/internal/domain/device"
	"cipherstore/internal/repository"
	"cipherstore/pkg/logger"

	"go.uber.org/zap"
)

// Registry tracks known devices, trust state, and sync status for the
// multi-device story. Trust and current-device changes leave a security
// audit trail; sync outcomes are recorded as append-only sync logs.
type Registry struct {
	devices repository.DeviceRepository
	auditor repository.AuditRepository
	log     *logger.Logger
	clock   func() time.Time
}

func NewRegistry(devicesRepo repository.DeviceRepository, auditor repository.AuditRepository, log *logger.Logger) *Registry {
	return &Registry{
		devices: devicesRepo,
		auditor: auditor,
		log:     log,
		clock:   time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register records a device. The repository guarantees at most one row keeps
// the current-device flag; a handover is audit-logged.
func (r *Registry) Register(ctx context.Context, d *device.RegisteredDevice) error {
	if err := r.devices.Register(ctx, d); err != nil {
		return err
	}
	if d.IsCurrentDevice {
		r.audit(ctx, "device.current_changed", audit.SeverityInfo,
			fmt.Sprintf("device %s registered as current device", d.DeviceID), d.DeviceID)
	} else {
		r.audit(ctx, "device.registered", audit.SeverityInfo,
			fmt.Sprintf("device %s registered", d.DeviceID), d.DeviceID)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, deviceID string) (device.RegisteredDevice, error) {
	return r.devices.GetByID(ctx, deviceID)
}

func (r *Registry) List(ctx context.Context) ([]device.RegisteredDevice, error) {
	return r.devices.GetAll(ctx)
}

// SetTrusted flips a device's trust flag. Revoking trust is a security
// event worth a warning; granting it is informational.
func (r *Registry) SetTrusted(ctx context.Context, deviceID string, trusted bool) error {
	if err := r.devices.SetTrusted(ctx, deviceID, trusted); err != nil {
		return err
	}
	if trusted {
		r.audit(ctx, "device.trusted", audit.SeverityInfo,
			fmt.Sprintf("device %s marked trusted", deviceID), deviceID)
	} else {
		r.audit(ctx, "device.untrusted", audit.SeverityWarning,
			fmt.Sprintf("device %s trust revoked", deviceID), deviceID)
	}
	return nil
}

// Handover makes deviceID the current device, clearing the flag elsewhere.
func (r *Registry) Handover(ctx context.Context, deviceID string) error {
	if err := r.devices.SetCurrent(ctx, deviceID); err != nil {
		return err
	}
	r.audit(ctx, "device.current_changed", audit.SeverityWarning,
		fmt.Sprintf("current device handed over to %s", deviceID), deviceID)
	return nil
}

// ReportSync records one sync attempt's outcome: the device's sync status
// transitions and an append-only sync log row is written.
func (r *Registry) ReportSync(ctx context.Context, deviceID string, status device.SyncStatus, itemsSynced int, retryCount int, syncErr error) error {
	ctx = context.WithValue(ctx, logger.DeviceIdKey, deviceID)
	now := r.clock()
	if err := r.devices.UpdateSyncStatus(ctx, deviceID, status, now); err != nil {
		return err
	}
	entry := &audit.SyncLog{
		DeviceID:    deviceID,
		Status:      string(status),
		ItemsSynced: itemsSynced,
		RetryCount:  retryCount,
		StartedAt:   now,
		CompletedAt: sql.NullTime{Time: now, Valid: true},
	}
	if syncErr != nil {
		entry.ErrorMessage = sql.NullString{String: syncErr.Error(), Valid: true}
	}
	if err := r.auditor.AppendSyncLog(ctx, entry); err != nil && r.log != nil {
		r.log.ErrorCtx(ctx, "sync log append failed", zap.Error(err))
	}
	return nil
}

// NeedingSync feeds the external sync scheduler with devices in pending or
// error state.
func (r *Registry) NeedingSync(ctx context.Context) ([]device.RegisteredDevice, error) {
	return r.devices.NeedingSync(ctx)
}

// PruneUntrusted removes devices that are both untrusted and unseen for
// longer than maxAge, a security hygiene sweep.
func (r *Registry) PruneUntrusted(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.clock().Add(-maxAge)
	pruned, err := r.devices.DeleteUntrustedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		r.audit(ctx, "device.pruned", audit.SeverityWarning,
			fmt.Sprintf("%d untrusted stale devices removed", pruned), "")
	}
	return pruned, nil
}

func (r *Registry) audit(ctx context.Context, eventType string, severity audit.Severity, description, deviceID string) {
	if r.auditor == nil {
		return
	}
	e := &audit.SecurityEvent{
		EventType:   eventType,
		Severity:    severity,
		Description: description,
		CreatedAt:   r.clock(),
	}
	if deviceID != "" {
		e.DeviceID = sql.NullString{String: deviceID, Valid: true}
		ctx = context.WithValue(ctx, logger.DeviceIdKey, deviceID)
	}
	if err := r.auditor.AppendSecurityEvent(ctx, e); err != nil && r.log != nil {
		r.log.ErrorCtx(ctx, "security event append failed", zap.Error(err))
	}
}
