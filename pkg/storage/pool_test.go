package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func silentConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 1*time.Minute, cfg.ConnMaxIdleTime)
}

func TestSQLitePoolConfig(t *testing.T) {
	cfg := SQLitePoolConfig()

	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 1, cfg.MaxIdleConns)
}

func TestPoolOptions(t *testing.T) {
	cfg := PoolConfig{}

	MaxOpenConns(50).applyPool(&cfg)
	assert.Equal(t, 50, cfg.MaxOpenConns)

	MaxOpenConns(0).applyPool(&cfg)
	assert.Equal(t, 50, cfg.MaxOpenConns, "zero keeps the current value")

	MaxIdleConns(20).applyPool(&cfg)
	assert.Equal(t, 20, cfg.MaxIdleConns)

	ConnMaxLifetime(10 * time.Minute).applyPool(&cfg)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxLifetime)

	ConnMaxIdleTime(2 * time.Minute).applyPool(&cfg)
	assert.Equal(t, 2*time.Minute, cfg.ConnMaxIdleTime)

	WithPoolConfig(SQLitePoolConfig()).applyPool(&cfg)
	assert.Equal(t, SQLitePoolConfig(), cfg)
}

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), silentConfig())
	require.NoError(t, err)

	err = ConfigurePool(db,
		MaxOpenConns(30),
		MaxIdleConns(15),
		ConnMaxLifetime(7*time.Minute),
		ConnMaxIdleTime(90*time.Second),
	)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	stats := sqlDB.Stats()
	assert.Equal(t, 30, stats.MaxOpenConnections)
}

func TestConfigurePool_DefaultValues(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), silentConfig())
	require.NoError(t, err)

	require.NoError(t, ConfigurePool(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestNewGormStorageWithPool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), silentConfig())
	require.NoError(t, err)

	store, err := NewGormStorageWithPool(db, MaxOpenConns(4))
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.True(t, store.IsSQLite())

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 4, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sqlite")
	db, err := Open(DriverSQLite, path, silentConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	assert.True(t, NewGormStorage(db).IsSQLite())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever", silentConfig())
	assert.ErrorContains(t, err, "unsupported queue store driver")
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "ingest.sqlite?_busy_timeout=5000"},
		{"q.db", "q.db?_busy_timeout=5000"},
		{"q.db?_fk=1", "q.db?_fk=1&_busy_timeout=5000"},
		{"q.db?_busy_timeout=100", "q.db?_busy_timeout=100"},
		{":memory:", ":memory:"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in), "sqliteDSN(%q)", tt.in)
	}
}

func TestPoolOptionFunc_ImplementsInterface(t *testing.T) {
	var opt PoolOption = poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = 99
	})

	cfg := PoolConfig{}
	opt.applyPool(&cfg)

	assert.Equal(t, 99, cfg.MaxOpenConns)
}
