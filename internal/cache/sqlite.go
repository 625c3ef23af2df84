package cache

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// fetchCacheRow maps the fetch_cache table.
type fetchCacheRow struct {
	CacheKey  string `gorm:"primaryKey"`
	Body      []byte
	ExpiresAt int64
}

func (fetchCacheRow) TableName() string { return "fetch_cache" }

// SQLiteStore keeps entries in a local sqlite file.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the sqlite file at path and applies
// migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("cache sql db: %w", err)
	}
	// sqlite allows one writer; keep a single connection.
	sqlDB.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run cache migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row fetchCacheRow
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, s.now().UnixNano()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return row.Body, true, nil
}

// Set implements Store. Expired rows are pruned on write.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	row := fetchCacheRow{CacheKey: key, Body: value, ExpiresAt: now.Add(ttl).UnixNano()}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at <= ?", now.UnixNano()).Delete(&fetchCacheRow{}).Error; err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "expires_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("sqlite set %s: %w", key, err)
		}
		return nil
	})
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
