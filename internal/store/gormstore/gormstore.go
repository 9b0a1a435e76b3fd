// Package gormstore implements the store interfaces on top of GORM.
// It backs single-node deployments on SQLite and also runs against PostgreSQL.
package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database named by dsn using the given driver.
// Dialect errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; serialize access instead of retrying SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates the jobs and cache tables and the active-job uniqueness index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&jobRecord{}, &cacheSlot{}); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	// GORM tags cannot express a partial index, so it is created by hand.
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS jobs_one_active_per_feed_type
		ON jobs (feed_type) WHERE status IN ('queued', 'processing')`).Error
	if err != nil {
		return fmt.Errorf("failed to create active job index: %w", err)
	}
	return nil
}

// Store provides GORM-backed implementations of JobStore and CacheStore.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New wraps an open, migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
