package postgis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// openPostGIS connects to TEST_POSTGIS_URL or skips the test.
func openPostGIS(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGIS_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGIS_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error)
	require.NoError(t, db.Exec(`DROP SCHEMA IF EXISTS ingest_test CASCADE`).Error)
	require.NoError(t, db.Exec(`CREATE SCHEMA ingest_test`).Error)
	t.Cleanup(func() {
		db.Exec(`DROP SCHEMA IF EXISTS ingest_test CASCADE`)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

const csvSource = "id,name,wkt\n1,alpha,POINT (23.7 37.9)\n2,beta,POINT (22.9 40.6)\n3,gamma,POINT (21.7 38.2)\n"

func TestLoader_Postgres(t *testing.T) {
	db := openPostGIS(t)
	l := NewLoader(db, WithDefaultSchema("ingest_test"), WithChunkSize(2))
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "cities.csv")
	require.NoError(t, os.WriteFile(src, []byte(csvSource), 0o644))

	res, err := l.Ingest(ctx, core.IngestRequest{Source: src, Table: "cities"})
	require.NoError(t, err)
	assert.Equal(t, &core.IngestResult{Schema: "ingest_test", Table: "cities", RowCount: 3}, res)

	var count int64
	require.NoError(t, db.Raw(`SELECT count(*) FROM ingest_test.cities WHERE ST_SRID(geom) = 4326`).Scan(&count).Error)
	assert.EqualValues(t, 3, count)

	ok, err := l.TableExists(ctx, "", "cities")
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("existing table without replace", func(t *testing.T) {
		_, err := l.Ingest(ctx, core.IngestRequest{Source: src, Table: "cities"})
		var exists *core.TableExistsError
		require.ErrorAs(t, err, &exists)
	})

	t.Run("replace", func(t *testing.T) {
		res, err := l.Ingest(ctx, core.IngestRequest{Source: src, Table: "cities", Replace: true, CRS: "EPSG:3857"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.RowCount)
	})

	t.Run("missing schema", func(t *testing.T) {
		_, err := l.Ingest(ctx, core.IngestRequest{Source: src, Schema: "nope_schema", Table: "cities"})
		var missing *core.SchemaMissingError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "nope_schema", missing.Schema)
	})

	t.Run("drop", func(t *testing.T) {
		require.NoError(t, l.DropTable(ctx, "ingest_test", "cities"))
		require.NoError(t, l.DropTable(ctx, "ingest_test", "cities"), "dropping a missing table is a no-op")
		ok, err := l.TableExists(ctx, "ingest_test", "cities")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("drop blocked by view", func(t *testing.T) {
		_, err := l.Ingest(ctx, core.IngestRequest{Source: src, Table: "base"})
		require.NoError(t, err)
		require.NoError(t, db.Exec(`CREATE VIEW ingest_test.base_view AS SELECT * FROM ingest_test.base`).Error)

		err = l.DropTable(ctx, "ingest_test", "base")
		var dep *core.DependentObjectsError
		require.ErrorAs(t, err, &dep)
	})

	require.NoError(t, l.Ping(ctx))
}
