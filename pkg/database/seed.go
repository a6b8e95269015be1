package database

import (
	"database/sql"
	"fmt"
	"time"

	"cipherstore/internal/domain/chat"
	"cipherstore/internal/domain/device"
	"cipherstore/internal/domain/message"
	"cipherstore/internal/domain/user"
	"cipherstore/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SeedConfig holds configuration for seeding a development database
type SeedConfig struct {
	LocalUserName string
	PeerUserName  string
	MessageCount  int
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		LocalUserName: "Alice Local",
		PeerUserName:  "Bob Peer",
		MessageCount:  5,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	LocalUser *user.User
	PeerUser  *user.User
	Chat      *chat.Chat
	Messages  []*message.Message
}

// Seed populates a fresh development database with two identities, a direct
// chat between them, a short message history, and the local device row.
func Seed(db *gorm.DB, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}

	result := &SeedResult{}
	now := time.Now()

	if log := logger.GetGlobalLogger(); log != nil {
		log.Infof("seeding development database")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		local := &user.User{
			ID:          uuid.NewString(),
			PublicKey:   uuid.NewString(),
			DisplayName: cfg.LocalUserName,
			Status:      user.PresenceOnline,
			LastSeen:    now,
		}
		peer := &user.User{
			ID:          uuid.NewString(),
			PublicKey:   uuid.NewString(),
			DisplayName: cfg.PeerUserName,
			Status:      user.PresenceOffline,
			LastSeen:    now.Add(-time.Hour),
		}
		if err := tx.Create(local).Error; err != nil {
			return err
		}
		if err := tx.Create(peer).Error; err != nil {
			return err
		}
		for _, u := range []*user.User{local, peer} {
			if err := tx.Create(&user.UserSettings{UserID: u.ID, UpdatedAt: now}).Error; err != nil {
				return err
			}
		}

		c := &chat.Chat{
			ID:           uuid.NewString(),
			Type:         chat.TypeDirect,
			Name:         cfg.PeerUserName,
			Participants: chat.StringList{local.ID, peer.ID},
		}
		if err := tx.Create(c).Error; err != nil {
			return err
		}

		for i := 0; i < cfg.MessageCount; i++ {
			sender := local
			if i%2 == 1 {
				sender = peer
			}
			m := &message.Message{
				ID:          uuid.NewString(),
				ChatID:      c.ID,
				SenderID:    sender.ID,
				Content:     fmt.Sprintf("seed message %d", i+1),
				IsEncrypted: true,
				Status:      message.StatusRead,
				Timestamp:   now.Add(time.Duration(i-cfg.MessageCount) * time.Minute),
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			result.Messages = append(result.Messages, m)
		}

		d := &device.RegisteredDevice{
			DeviceID:        uuid.NewString(),
			UserID:          local.ID,
			Name:            "seed device",
			Platform:        "linux",
			IsTrusted:       true,
			IsCurrentDevice: true,
			SyncStatus:      device.SyncSynced,
			LastSyncAt:      sql.NullTime{Time: now, Valid: true},
			LastSeen:        now,
			RegisteredAt:    now,
		}
		if err := tx.Create(d).Error; err != nil {
			return err
		}

		result.LocalUser = local
		result.PeerUser = peer
		result.Chat = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seeding failed: %w", err)
	}

	if log := logger.GetGlobalLogger(); log != nil {
		log.Infof("seeded %d messages in chat %s", len(result.Messages), result.Chat.ID)
	}
	return result, nil
}
