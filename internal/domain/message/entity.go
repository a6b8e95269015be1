package message

import (
	"database/sql"
	"time"
)

// Status is the delivery state of a message. The machine is
// queued -> sent -> delivered -> read, with failed reachable from
// queued or sent.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Transitions are strictly forward; failed is terminal and reachable
// only from queued or sent. Re-applying the current status is a no-op the
// store accepts.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if next == StatusFailed {
		return s == StatusQueued || s == StatusSent
	}
	if s == StatusFailed {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Message represents the messages table. Content is held in searchable form
// at this layer; IsEncrypted marks transport encryption of the payload the
// content was derived from.
type Message struct {
	ID                string `gorm:"primaryKey"`
	ChatID            string `gorm:"index"`
	SenderID          string `gorm:"index"`
	Content           string
	ContentType       string `gorm:"default:'text'"`
	IsEncrypted       bool
	Status            Status `gorm:"index"`
	ReplyToID         sql.NullString
	Timestamp         time.Time `gorm:"index"`
	EditedAt          sql.NullTime
	DisappearTimerSec sql.NullInt64
	IsDisappearing    bool
	ExpiresAt         sql.NullTime `gorm:"index"`
}

// Reaction represents the reactions table. Unique on
// (message_id, user_id, emoji); rows cascade away with their parent message
// and with the reacting user.
type Reaction struct {
	ID        string `gorm:"primaryKey"`
	MessageID string `gorm:"uniqueIndex:idx_reactions_triple"`
	UserID    string `gorm:"uniqueIndex:idx_reactions_triple"`
	Emoji     string `gorm:"uniqueIndex:idx_reactions_triple"`
	CreatedAt time.Time
}

// MessageWithReactions pairs a message with its (possibly empty, never nil)
// reaction set.
type MessageWithReactions struct {
	Message   Message
	Reactions []Reaction
}

// Armed reports whether the disappearing timer has started for this message.
// Arming happens externally (on first read); the store only acts once
// ExpiresAt is populated.
func (m *Message) Armed() bool {
	return m.IsDisappearing && m.ExpiresAt.Valid
}

func (Message) TableName() string {
	return "messages"
}

func (Reaction) TableName() string {
	return "reactions"
}
