package chat

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	store_errors "cipherstore/pkg/errors"
)

// Type distinguishes direct chats from groups.
type Type string

const (
	TypeDirect Type = "direct"
	TypeGroup  Type = "group"
)

// StringList is a participant/admin id list stored as a serialized JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), l)
	case []byte:
		return json.Unmarshal(v, l)
	default:
		return fmt.Errorf("unsupported type %T for StringList", src)
	}
}

func (l StringList) Contains(id string) bool {
	for _, s := range l {
		if s == id {
			return true
		}
	}
	return false
}

// Chat represents the chats table.
type Chat struct {
	ID                   string     `gorm:"primaryKey"`
	Type                 Type       `gorm:"index"`
	Name                 string
	Participants         StringList `gorm:"type:text"`
	Admins               StringList `gorm:"type:text"`
	UnreadCount          int
	NotificationsEnabled bool `gorm:"default:true"`
	MutedUntil           sql.NullTime
	IsPinned             bool
	IsArchived           bool
	DisappearTimerSec    sql.NullInt64
	LastMessageAt        sql.NullTime
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Chat) TableName() string {
	return "chats"
}

// Validate checks the chat-level invariants: a non-empty participant set and
// a non-negative unread counter.
func (c *Chat) Validate() error {
	if len(c.Participants) == 0 {
		return fmt.Errorf("%w: chat requires at least one participant", store_errors.ErrInvalidInput)
	}
	if c.UnreadCount < 0 {
		return fmt.Errorf("%w: unread count must not be negative", store_errors.ErrInvalidInput)
	}
	if c.Type != TypeDirect && c.Type != TypeGroup {
		return fmt.Errorf("%w: unknown chat type %q", store_errors.ErrInvalidInput, c.Type)
	}
	return nil
}
