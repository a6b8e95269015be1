package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/user"
	"cipherstore/pkg/database"
	store_errors "cipherstore/pkg/errors"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(path, false)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(db); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	if err := InitSchema(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	repo := NewUserRepository(db, nil)
	err := repo.Upsert(context.Background(), &user.User{
		ID:          id,
		PublicKey:   "pk-" + id,
		DisplayName: id,
		Status:      user.PresenceOnline,
		LastSeen:    time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}

func seedChat(t *testing.T, db *gorm.DB, id string, participants ...string) {
	t.Helper()
	repo := NewChatRepository(db, nil)
	err := repo.Create(context.Background(), &chat.Chat{
		ID:           id,
		Type:         chat.TypeGroup,
		Name:         id,
		Participants: chat.StringList(participants),
	})
	if err != nil {
		t.Fatalf("failed to seed chat %s: %v", id, err)
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := InitSchema(db); err != nil {
		t.Fatalf("second migration should be a no-op, got %v", err)
	}
}

func TestValidateSchema(t *testing.T) {
	db := openTestDB(t)
	if err := ValidateSchema(db); err != nil {
		t.Fatalf("fresh schema should validate, got %v", err)
	}
}

func TestValidateSchemaDetectsCorruption(t *testing.T) {
	db := openTestDB(t)
	if err := db.Exec("DROP TABLE sync_logs;").Error; err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	err := ValidateSchema(db)
	if !errors.Is(err, store_errors.ErrCorruptedSchema) {
		t.Fatalf("expected ErrCorruptedSchema, got %v", err)
	}
}
