// Package store persists the lab state snapshot as an opaque blob.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/RohitKumar027/ReliabilityPortal/internal/config"
	"github.com/RohitKumar027/ReliabilityPortal/internal/db"
	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
)

// Store loads, saves and clears the snapshot. Load returns nil, nil when no
// snapshot exists.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// Open builds the store selected by cfg. For SQL drivers the returned
// *gorm.DB is non-nil and migrated; callers share it with the alert log.
func Open(cfg config.StoreConfig) (Store, *gorm.DB, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(client, cfg.Key), nil, nil
	default:
		gdb, err := db.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrate(gdb); err != nil {
			return nil, nil, err
		}
		return NewSQL(gdb, cfg.Key), gdb, nil
	}
}

// SQL keeps the snapshot in one models.Snapshot row.
type SQL struct {
	db   *gorm.DB
	name string
}

// NewSQL returns a SQL store writing the row called name.
func NewSQL(db *gorm.DB, name string) *SQL {
	return &SQL{db: db, name: name}
}

// Load returns the stored blob.
func (s *SQL) Load(ctx context.Context) ([]byte, error) {
	var snap models.Snapshot
	err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", s.name, err)
	}
	return []byte(snap.Data), nil
}

// Save upserts the blob.
func (s *SQL) Save(ctx context.Context, data []byte) error {
	snap := models.Snapshot{Name: s.name, Data: string(data), UpdatedAt: time.Now()}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&snap)
	if result.Error != nil {
		return fmt.Errorf("store: save %s: %w", s.name, result.Error)
	}
	return nil
}

// Clear deletes the row.
func (s *SQL) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("name = ?", s.name).Delete(&models.Snapshot{}).Error; err != nil {
		return fmt.Errorf("store: clear %s: %w", s.name, err)
	}
	return nil
}

// Redis keeps the snapshot under one key.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a Redis store using key.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Load returns the stored blob.
func (r *Redis) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", r.key, err)
	}
	return data, nil
}

// Save overwrites the blob with no expiry.
func (r *Redis) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("store: save %s: %w", r.key, err)
	}
	return nil
}

// Clear deletes the key.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("store: clear %s: %w", r.key, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Memory is an in-process store for tests and dry runs.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// Load returns a copy of the stored blob.
func (m *Memory) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

// Save stores a copy of data.
func (m *Memory) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// Clear drops the blob.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
