// Package store persists operation records in SQLite or PostgreSQL via GORM.
// It is both an oplog.Sink and an oplog.Lister.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/marmos91/rfidgate/pkg/oplog"
)

// GORMStore implements oplog.Sink and oplog.Lister using GORM.
type GORMStore struct {
	db     *gorm.DB
	config *Config
}

var (
	_ oplog.Sink   = (*GORMStore)(nil)
	_ oplog.Lister = (*GORMStore)(nil)
)

// New opens the database described by config and creates the
// operation_records table when missing.
func New(config *Config) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// WAL lets status queries read while a session appends.
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&OperationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db, config: config}, nil
}

func (s *GORMStore) Name() string { return "database" }

// Append inserts one record.
func (s *GORMStore) Append(ctx context.Context, r oplog.Record) error {
	if err := s.db.WithContext(ctx).Create(fromRecord(r)).Error; err != nil {
		return fmt.Errorf("insert operation record: %w", err)
	}
	return nil
}

// List returns matching records, newest first.
func (s *GORMStore) List(ctx context.Context, f oplog.Filter) ([]oplog.Record, error) {
	q := s.db.WithContext(ctx).Model(&OperationRecord{})
	if f.UID != "" {
		q = q.Where("LOWER(uid) = ?", strings.ToLower(f.UID))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.Since.IsZero() {
		q = q.Where("recorded_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []OperationRecord
	if err := q.Order("recorded_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list operation records: %w", err)
	}

	out := make([]oplog.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

// FindByTagID returns the records that carried tagID, newest first.
func (s *GORMStore) FindByTagID(ctx context.Context, tagID string) ([]oplog.Record, error) {
	var rows []OperationRecord
	if err := s.db.WithContext(ctx).
		Where("tag_id = ?", tagID).
		Order("recorded_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find records for tag %s: %w", tagID, err)
	}

	out := make([]oplog.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *GORMStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&OperationRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count operation records: %w", err)
	}
	return n, nil
}

// Healthcheck pings the database.
func (s *GORMStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
