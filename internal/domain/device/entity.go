package device

import (
	"database/sql"
	"time"
)

// SyncStatus is the multi-device sync state of a registered device.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// Valid reports whether s is a member of the closed sync-status enum.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncError:
		return true
	}
	return false
}

// RegisteredDevice represents registered_devices. At most one row carries
// IsCurrentDevice = true; the registry enforces that inside the registration
// transaction.
type RegisteredDevice struct {
	DeviceID        string `gorm:"primaryKey;column:device_id"`
	UserID          string `gorm:"index"`
	Name            string
	Platform        string
	PublicKey       string
	IsTrusted       bool
	IsCurrentDevice bool
	SyncStatus      SyncStatus `gorm:"index"`
	LastSyncAt      sql.NullTime
	LastSeen        time.Time `gorm:"index"`
	RegisteredAt    time.Time
}

func (RegisteredDevice) TableName() string {
	return "registered_devices"
}
