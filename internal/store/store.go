package store

import (
	"cipherstore/internal/events"
	"cipherstore/internal/repository"
	"cipherstore/pkg/database"

	"gorm.io/gorm"
)

// Store is the storage engine root: one explicitly constructed instance
// whose lifetime is owned by the process root and passed by reference to the
// engines. No ambient global state.
type Store struct {
	db  *gorm.DB
	bus *events.Bus

	Users    repository.UserRepository
	Chats    repository.ChatRepository
	Messages repository.MessageRepository
	Queue    repository.QueueRepository
	Devices  repository.DeviceRepository
	Audit    repository.AuditRepository
	Perf     repository.PerfRepository
}

// Open opens the database at path, migrates and validates the schema, and
// wires the repositories onto a fresh invalidation bus.
func Open(path string, verbose bool) (*Store, error) {
	db, err := database.Open(path, verbose)
	if err != nil {
		return nil, err
	}
	if err := repository.InitSchema(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	if err := repository.ValidateSchema(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return New(db), nil
}

// New wires a store over an already opened and migrated database.
func New(db *gorm.DB) *Store {
	bus := events.NewBus()
	return &Store{
		db:       db,
		bus:      bus,
		Users:    repository.NewUserRepository(db, bus),
		Chats:    repository.NewChatRepository(db, bus),
		Messages: repository.NewMessageRepository(db, bus),
		Queue:    repository.NewQueueRepository(db, bus),
		Devices:  repository.NewDeviceRepository(db, bus),
		Audit:    repository.NewAuditRepository(db, bus),
		Perf:     repository.NewPerfRepository(db, bus),
	}
}

// Subscribe registers a live-query subscription on the given tables. The
// subscriber re-runs its query on every change notification.
func (s *Store) Subscribe(tables ...string) *events.Subscription {
	return s.bus.Subscribe(tables...)
}

// DB exposes the underlying handle for migration tooling and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close shuts down the bus and releases the database.
func (s *Store) Close() error {
	s.bus.Close()
	return database.Close(s.db)
}
