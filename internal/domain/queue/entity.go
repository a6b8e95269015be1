package queue

import (
	"database/sql"
	"time"
)

// Priority classes for queued messages. Lower values dequeue first.
const (
	PriorityUrgent = 0
	PriorityNormal = 1
	PriorityLow    = 2
)

// QueuedMessage is an outbound message awaiting transport-confirmed
// delivery. Payload is the transport ciphertext, sealed again at rest.
// Entries leave the queue only through explicit acknowledgement,
// failure purge, or age purge.
type QueuedMessage struct {
	ID          string `gorm:"primaryKey"`
	MessageID   string `gorm:"index"`
	ChatID      string
	RecipientID string
	Payload     []byte
	Priority    int `gorm:"index:idx_queue_dequeue,priority:1"`
	RetryCount  int
	MaxRetries  int
	QueuedAt    time.Time `gorm:"index:idx_queue_dequeue,priority:2"`
	LastRetryAt sql.NullTime
	LastError   string
}

func (QueuedMessage) TableName() string {
	return "queued_messages"
}

// Failed reports whether the retry budget is exhausted. Failed entries are
// retained until explicitly purged so callers can surface them first.
func (q *QueuedMessage) Failed() bool {
	return q.RetryCount >= q.MaxRetries
}
