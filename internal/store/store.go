// Package store implements the persistence port: durable create/read/update
// operations for comments and notifications. It is the only writer of record;
// everything above it treats its answers as the source of truth.
package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("record not found")

// Store bundles the comment and notification repositories over one database
// handle.
type Store struct {
	Comments      *CommentRepository
	Notifications *NotificationRepository

	db *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle. Tests use this with an in-memory sqlite.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Comment{}, &Notification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{
		Comments:      &CommentRepository{db: db},
		Notifications: &NotificationRepository{db: db},
		db:            db,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
