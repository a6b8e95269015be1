package repository

import (
	"fmt"

	"cipherstore/internal/domain/audit"
	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/device"
	"cipherstore/internal/domain/perf"
	"cipherstore/internal/domain/queue"
	"cipherstore/internal/domain/user"
	store_errors "cipherstore/pkg/errors"

	"gorm.io/gorm"
)

// InitSchema creates the on-disk schema. Tables without relational
// constraints go through Gorm auto-migration; messages and reactions are
// created with raw DDL so the cascade rules (chat -> messages -> reactions,
// users -> reactions) and the reaction uniqueness constraint live in the
// database rather than in calling code.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&user.User{},
		&user.UserSettings{},
		&chat.Chat{},
		&queue.QueuedMessage{},
		&device.RegisteredDevice{},
		&audit.SecurityEvent{},
		&audit.SyncLog{},
		&perf.Metric{},
		&perf.Alert{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT 'text',
			is_encrypted INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued',
			reply_to_id TEXT,
			timestamp DATETIME NOT NULL,
			edited_at DATETIME,
			disappear_timer_sec INTEGER,
			is_disappearing INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_id ON messages(sender_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_expires_at ON messages(expires_at);`,
		`CREATE TABLE IF NOT EXISTS reactions (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			emoji TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(message_id, user_id, emoji)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_message_id ON reactions(message_id);`,
	}
	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}
	return nil
}

// expectedTables is the persisted-state contract other components depend on.
var expectedTables = []string{
	"users",
	"user_settings",
	"chats",
	"messages",
	"reactions",
	"queued_messages",
	"registered_devices",
	"security_events",
	"sync_logs",
	"performance_metrics",
	"performance_alerts",
}

// ValidateSchema compares the on-disk schema against the expected table set.
// A mismatch is corruption: fatal, surfaced distinctly, never silently
// auto-repaired.
func ValidateSchema(db *gorm.DB) error {
	for _, table := range expectedTables {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("%w: missing table %q", store_errors.ErrCorruptedSchema, table)
		}
	}
	var integrity string
	if err := db.Raw("PRAGMA integrity_check;").Scan(&integrity).Error; err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("%w: integrity check reported %q", store_errors.ErrCorruptedSchema, integrity)
	}
	return nil
}
