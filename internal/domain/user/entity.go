package user

import (
	"time"
)

// PresenceStatus is the user's last published presence.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

// User represents the users table. IDs are stable for the lifetime of the
// identity; PublicKey changes only through an explicit key-rotation event.
type User struct {
	ID          string `gorm:"primaryKey"`
	PublicKey   string
	DisplayName string
	AvatarURL   string
	Status      PresenceStatus
	LastSeen    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserSettings represents user_settings, one row per user. A flat
// configuration bag with no invariants beyond field defaults.
type UserSettings struct {
	UserID                   string  `gorm:"primaryKey"`
	ReadReceiptsEnabled      bool    `gorm:"default:true"`
	TypingIndicatorsEnabled  bool    `gorm:"default:true"`
	LastSeenVisible          bool    `gorm:"default:true"`
	ScreenshotAlertsEnabled  bool    `gorm:"default:true"`
	NotificationsEnabled     bool    `gorm:"default:true"`
	NotificationSound        string  `gorm:"default:'default'"`
	NotificationPreview      bool    `gorm:"default:true"`
	Theme                    string  `gorm:"default:'system'"`
	FontScale                float64 `gorm:"default:1.0"`
	HighContrast             bool
	ReduceMotion             bool
	Language                 string `gorm:"default:'en'"`
	AutoDownloadMedia        bool   `gorm:"default:true"`
	DefaultDisappearTimerSec int64
	UpdatedAt                time.Time
}

func (User) TableName() string {
	return "users"
}

func (UserSettings) TableName() string {
	return "user_settings"
}
