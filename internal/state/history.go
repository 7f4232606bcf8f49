package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/fabricagent/internal/types"
)

// HistoryConfig configures the SQLite history database.
type HistoryConfig struct {
	DatabasePath string
	Debug        bool
}

// HistoryStore persists ask records in SQLite. Deletes are soft.
type HistoryStore struct {
	db *gorm.DB
}

// OpenHistory opens (creating if needed) the history database and migrates
// its schema.
func OpenHistory(cfg HistoryConfig) (*HistoryStore, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.AutoMigrate(&types.AskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Record(ctx context.Context, rec *types.AskRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *HistoryStore) Get(ctx context.Context, id uint) (*types.AskRecord, error) {
	var rec types.AskRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first, with the total count ignoring paging.
// A limit of zero means no limit.
func (s *HistoryStore) List(ctx context.Context, limit, offset int) ([]types.AskRecord, int64, error) {
	var records []types.AskRecord
	var total int64

	if err := s.db.WithContext(ctx).Model(&types.AskRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Find(&records).Error
	return records, total, err
}

func (s *HistoryStore) ListByThread(ctx context.Context, thread types.ThreadName) ([]types.AskRecord, error) {
	var records []types.AskRecord
	err := s.db.WithContext(ctx).
		Where("thread_name = ?", string(thread)).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (s *HistoryStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&types.AskRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *HistoryStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&types.AskRecord{}).Error
}

func (s *HistoryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
