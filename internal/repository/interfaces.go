package repository

import (
	"context"
	"time"

	"cipherstore/internal/domain/audit"
	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/device"
	"cipherstore/internal/domain/message"
	"cipherstore/internal/domain/perf"
	"cipherstore/internal/domain/queue"
	"cipherstore/internal/domain/user"
)

type UserRepository interface {
	Upsert(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id string) (user.User, error)
	Delete(ctx context.Context, id string) error
	UpdatePresence(ctx context.Context, id string, status user.PresenceStatus, lastSeen time.Time) error
	RotatePublicKey(ctx context.Context, id, publicKey string) error

	GetSettings(ctx context.Context, userID string) (user.UserSettings, error)
	SaveSettings(ctx context.Context, s *user.UserSettings) error
}

type ChatRepository interface {
	Create(ctx context.Context, c *chat.Chat) error
	GetByID(ctx context.Context, id string) (chat.Chat, error)
	List(ctx context.Context, includeArchived bool) ([]chat.Chat, error)
	Update(ctx context.Context, c chat.Chat) error
	Delete(ctx context.Context, id string) error

	SetMuted(ctx context.Context, id string, until *time.Time) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	SetArchived(ctx context.Context, id string, archived bool) error
	SetDisappearTimer(ctx context.Context, id string, seconds *int64) error
}

type MessageRepository interface {
	Upsert(ctx context.Context, m *message.Message) error
	UpsertBatch(ctx context.Context, msgs []message.Message) error
	GetByID(ctx context.Context, id string) (message.Message, error)
	GetByChat(ctx context.Context, chatID string, limit, offset int) ([]message.Message, error)
	GetWithReactions(ctx context.Context, chatID string, limit, offset int) ([]message.MessageWithReactions, error)
	Search(ctx context.Context, query string, limit int) ([]message.Message, error)
	UpdateStatus(ctx context.Context, ids []string, status message.Status) error
	MarkChatRead(ctx context.Context, chatID string) error
	UnreadCount(ctx context.Context, chatID string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteByChat(ctx context.Context, chatID string) (int64, error)

	AddReaction(ctx context.Context, r *message.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	GetReactions(ctx context.Context, messageID string) ([]message.Reaction, error)

	Arm(ctx context.Context, id string, expiresAt time.Time) error
	Expired(ctx context.Context, now time.Time) ([]message.Message, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ExpiringBefore(ctx context.Context, now, horizon time.Time) ([]message.Message, error)
}

type QueueRepository interface {
	Enqueue(ctx context.Context, q *queue.QueuedMessage) error
	EnqueueBatch(ctx context.Context, entries []queue.QueuedMessage) error
	GetByID(ctx context.Context, id string) (queue.QueuedMessage, error)
	GetAll(ctx context.Context) ([]queue.QueuedMessage, error)
	GetRetryable(ctx context.Context, limit int) ([]queue.QueuedMessage, error)
	Update(ctx context.Context, q queue.QueuedMessage) error
	Delete(ctx context.Context, id string) error
	Depth(ctx context.Context) (int64, error)
	FailedCount(ctx context.Context) (int64, error)
	DeleteFailed(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeviceRepository interface {
	Register(ctx context.Context, d *device.RegisteredDevice) error
	GetByID(ctx context.Context, deviceID string) (device.RegisteredDevice, error)
	GetAll(ctx context.Context) ([]device.RegisteredDevice, error)
	SetTrusted(ctx context.Context, deviceID string, trusted bool) error
	SetCurrent(ctx context.Context, deviceID string) error
	UpdateSyncStatus(ctx context.Context, deviceID string, status device.SyncStatus, syncTime time.Time) error
	NeedingSync(ctx context.Context) ([]device.RegisteredDevice, error)
	TouchLastSeen(ctx context.Context, deviceID string, seen time.Time) error
	DeleteUntrustedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditRepository interface {
	AppendSecurityEvent(ctx context.Context, e *audit.SecurityEvent) error
	AcknowledgeSecurityEvent(ctx context.Context, id string) error
	ListSecurityEvents(ctx context.Context, unackedOnly bool, limit int) ([]audit.SecurityEvent, error)

	AppendSyncLog(ctx context.Context, l *audit.SyncLog) error
	ListSyncLogs(ctx context.Context, deviceID string, limit int) ([]audit.SyncLog, error)
}

type PerfRepository interface {
	RecordMetric(ctx context.Context, m *perf.Metric) error
	RaiseAlert(ctx context.Context, a *perf.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, unackedOnly bool, limit int) ([]perf.Alert, error)
	PruneMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
