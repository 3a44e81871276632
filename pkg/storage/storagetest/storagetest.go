// Package storagetest opens throwaway queue stores for tests.
package storagetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/geo-ingest/pkg/storage"
)

// OpenDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL and clears the
// tickets table before and after the test; otherwise it creates a
// file-based SQLite database in the test's temp dir.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	driver, dsn := storage.DriverSQLite, filepath.Join(t.TempDir(), "queue.sqlite")
	var opts []storage.PoolOption
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		driver, dsn = storage.DriverPostgres, url
		opts = append(opts, storage.MaxOpenConns(2), storage.MaxIdleConns(1))
	}

	db, err := storage.Open(driver, dsn, cfg, opts...)
	require.NoError(t, err, "open %s test db", driver)

	if driver == storage.DriverPostgres {
		clean(db)
	}
	t.Cleanup(func() {
		if driver == storage.DriverPostgres {
			clean(db)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// New returns a migrated GormStorage on a fresh database.
func New(t testing.TB) *storage.GormStorage {
	t.Helper()
	s := storage.NewGormStorage(OpenDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// clean empties the service tables of a shared PostgreSQL database.
func clean(db *gorm.DB) {
	for _, tbl := range []string{"tickets", "accounting_entries"} {
		if db.Migrator().HasTable(tbl) {
			db.Exec("DELETE FROM " + tbl)
		}
	}
}
