// Package localcache mirrors engine state into embedded persistent storage so
// a restarted session shows the last-known collections before the remote load
// completes. It is a UX convenience only: the first remote read or push
// always overwrites it.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrMiss is returned when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// Store is the persistence surface the engine mirrors state into.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CartKey builds the cache key for a session's cart. Keys are scoped by
// session, not user, so a sign-out wipe is what prevents cross-user leaks.
func CartKey(sessionID string) string {
	return "cart:" + sessionID
}

// WishlistKey builds the cache key for a session's wishlist.
func WishlistKey(sessionID string) string {
	return "wishlist:" + sessionID
}

type entry struct {
	Key       string `gorm:"primaryKey;column:cache_key"`
	Payload   []byte `gorm:"column:payload"`
	UpdatedAt time.Time
}

func (entry) TableName() string {
	return "state_cache"
}

// SQLiteStore keeps cache entries in an embedded SQLite file.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLite opens (or creates) the cache database at the given path.
// ":memory:" is accepted for tests.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put upserts the payload under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	row := entry{Key: key, Payload: payload, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
}

// Get returns the payload stored under key, or ErrMiss.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row entry
	err := s.db.WithContext(ctx).First(&row, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

// Delete removes the entry for key; absent keys are a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&entry{}, "cache_key = ?", key).Error
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
