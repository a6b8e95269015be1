package audit

import (
	"database/sql"
	"time"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an append-only audit record. Rows are never updated
// except to flip IsAcknowledged.
type SecurityEvent struct {
	ID             string `gorm:"primaryKey"`
	EventType      string `gorm:"index"`
	Severity       Severity
	Description    string
	ActorID        sql.NullString
	DeviceID       sql.NullString
	IPAddress      sql.NullString
	IsAcknowledged bool
	CreatedAt      time.Time `gorm:"index"`
}

// SyncLog is an append-only record of one sync attempt's outcome between
// devices.
type SyncLog struct {
	ID           string `gorm:"primaryKey"`
	DeviceID     string `gorm:"index"`
	Status       string
	ItemsSynced  int
	ErrorMessage sql.NullString
	RetryCount   int
	StartedAt    time.Time
	CompletedAt  sql.NullTime
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

func (SyncLog) TableName() string {
	return "sync_logs"
}
