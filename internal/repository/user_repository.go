package repository

import (
	"context"
	"errors"
	"time"

	"cipherstore/internal/domain/user"
	"cipherstore/internal/events"
	store_errors "cipherstore/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SqliteUserRepository struct {
	db  *gorm.DB
	bus events.Publisher
}

func NewUserRepository(db *gorm.DB, bus events.Publisher) UserRepository {
	return &SqliteUserRepository{db: db, bus: bus}
}

func (r *SqliteUserRepository) Upsert(ctx context.Context, u *user.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(u).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableUsers, events.OpInsert, u.ID)
	return nil
}

func (r *SqliteUserRepository) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user.User{}, store_errors.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *SqliteUserRepository) Delete(ctx context.Context, id string) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res = tx.Delete(&user.User{}, "id = ?", id)
			if res.Error != nil {
				return res.Error
			}
			return tx.Delete(&user.UserSettings{}, "user_id = ?", id).Error
		})
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableUsers, events.OpDelete, id)
	return nil
}

func (r *SqliteUserRepository) UpdatePresence(ctx context.Context, id string, status user.PresenceStatus, lastSeen time.Time) error {
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&user.User{}).Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "last_seen": lastSeen})
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableUsers, events.OpUpdate, id)
	return nil
}

// RotatePublicKey replaces the identity key. Key rotation is driven by an
// explicit external event; the store just records the new key.
func (r *SqliteUserRepository) RotatePublicKey(ctx context.Context, id, publicKey string) error {
	if publicKey == "" {
		return store_errors.ErrInvalidInput
	}
	var res *gorm.DB
	err := withBusyRetry(ctx, func() error {
		res = r.db.WithContext(ctx).Model(&user.User{}).Where("id = ?", id).
			Update("public_key", publicKey)
		return res.Error
	})
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return store_errors.ErrNotFound
	}
	publish(ctx, r.bus, events.TableUsers, events.OpUpdate, id)
	return nil
}

func (r *SqliteUserRepository) GetSettings(ctx context.Context, userID string) (user.UserSettings, error) {
	var s user.UserSettings
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user.UserSettings{}, store_errors.ErrNotFound
		}
		return user.UserSettings{}, err
	}
	return s, nil
}

func (r *SqliteUserRepository) SaveSettings(ctx context.Context, s *user.UserSettings) error {
	if s.UserID == "" {
		return store_errors.ErrInvalidInput
	}
	s.UpdatedAt = time.Now()
	err := withBusyRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
	})
	if err != nil {
		return err
	}
	publish(ctx, r.bus, events.TableUserSettings, events.OpUpdate, s.UserID)
	return nil
}
