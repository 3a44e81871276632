package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh file-based SQLite database in the test's temp dir.
// PostgreSQL connections are pool-limited and closed on test cleanup to
// avoid exceeding max_connections.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := Open(DriverPostgres, dsn, cfg, MaxOpenConns(2), MaxIdleConns(1))
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}

	path := filepath.Join(t.TempDir(), "queue.sqlite")
	db, err := Open(DriverSQLite, path, cfg)
	require.NoError(t, err, "open sqlite test db")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	db.Exec("DELETE FROM tickets")
}

// newTestStorage creates a migrated store on a fresh database.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestRecord builds a minimal valid pending record.
func newTestRecord(ticket string, key string) *core.QueueRecord {
	rec := &core.QueueRecord{
		Ticket:      ticket,
		RequestKind: core.KindIngest,
		InitiatedAt: time.Now(),
	}
	if key != "" {
		rec.IdempotencyKey = &key
	}
	return rec
}

func successTerminal(result string, rows int64) *core.Terminal {
	return &core.Terminal{
		Success:              true,
		Result:               []byte(result),
		RowCount:             &rows,
		ExecutionTimeSeconds: 1.234,
		CompletedAt:          time.Now(),
	}
}

func failureTerminal(msg string) *core.Terminal {
	return &core.Terminal{
		Success:              false,
		ErrorMessage:         &msg,
		ExecutionTimeSeconds: 0.5,
		CompletedAt:          time.Now(),
	}
}
