package postgis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/geo"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// DefaultChunkSize is the number of rows per INSERT statement.
const DefaultChunkSize = 5000

// ErrTableRequired is returned when an ingest names no target table.
var ErrTableRequired = errors.New("postgis: table name is required")

// Loader writes vector layers into PostGIS.
type Loader struct {
	db            *gorm.DB
	defaultSchema string
	chunkSize     int
	logger        logrus.FieldLogger
	read          func(string, geo.ReadOptions) (*geo.Layer, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithDefaultSchema sets the schema used when a request names none.
func WithDefaultSchema(schema string) Option {
	return func(l *Loader) {
		if schema != "" {
			l.defaultSchema = schema
		}
	}
}

// WithChunkSize sets the rows per INSERT. Values <= 0 keep the default.
func WithChunkSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader on db, which must use the postgres driver.
func NewLoader(db *gorm.DB, opts ...Option) *Loader {
	l := &Loader{
		db:            db,
		defaultSchema: "public",
		chunkSize:     DefaultChunkSize,
		logger:        logrus.StandardLogger(),
		read:          geo.Read,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultSchema returns the schema used for requests without one.
func (l *Loader) DefaultSchema() string {
	return l.defaultSchema
}

// Ingest reads req.Source and loads it into req.Schema.req.Table.
// req.WorkDir is removed afterwards, whatever the outcome.
func (l *Loader) Ingest(ctx context.Context, req core.IngestRequest) (*core.IngestResult, error) {
	if req.WorkDir != "" {
		defer func() {
			if err := os.RemoveAll(req.WorkDir); err != nil {
				l.logger.WithError(err).WithField("dir", req.WorkDir).Warn("failed to remove work directory")
			}
		}()
	}

	schema := req.Schema
	if schema == "" {
		schema = l.defaultSchema
	}
	if req.Table == "" {
		return nil, ErrTableRequired
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if err := security.ValidateIdentifier(req.Table); err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}

	layer, err := l.load(req)
	if err != nil {
		return nil, err
	}

	log := l.logger.WithFields(logrus.Fields{
		"schema":   schema,
		"table":    req.Table,
		"features": len(layer.Features),
		"srid":     layer.SRID,
		"type":     layer.GeometryType(),
	})

	cols := planColumns(layer)
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := schemaExists(tx, schema)
		if err != nil {
			return err
		}
		if !ok {
			return &core.SchemaMissingError{Schema: schema}
		}

		exists, err := tableExists(tx, schema, req.Table)
		if err != nil {
			return err
		}
		if exists {
			if !req.Replace {
				return &core.TableExistsError{Schema: schema, Table: req.Table}
			}
			if err := tx.Exec("DROP TABLE " + qualified(schema, req.Table)).Error; err != nil {
				return err
			}
		}

		if err := tx.Exec(createTableSQL(schema, req.Table, cols, layer.GeometryType(), layer.SRID)).Error; err != nil {
			return err
		}

		chunk := chunkRows(l.chunkSize, len(cols))
		for start := 0; start < len(layer.Features); start += chunk {
			end := min(start+chunk, len(layer.Features))
			stmt, args, err := insertSQL(schema, req.Table, cols, layer.SRID, layer.Features[start:end])
			if err != nil {
				return err
			}
			if err := tx.Exec(stmt, args...).Error; err != nil {
				return err
			}
			log.WithField("rows", end-start).Debug("inserted chunk")
		}
		return nil
	})
	if err != nil {
		return nil, translateError(schema, req.Table, err)
	}

	l.createIndexes(ctx, schema, req.Table, cols)
	log.Info("layer ingested")

	return &core.IngestResult{
		Schema:   schema,
		Table:    req.Table,
		RowCount: int64(len(layer.Features)),
	}, nil
}

// load unpacks archives into the work directory and reads the layer.
func (l *Loader) load(req core.IngestRequest) (*geo.Layer, error) {
	source := req.Source
	info, err := os.Stat(source)
	if err != nil {
		return nil, &core.FormatError{Path: source, Err: err}
	}
	if !info.IsDir() {
		dir := req.WorkDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "ingest-unpack-")
			if err != nil {
				return nil, err
			}
			defer os.RemoveAll(tmp)
			dir = tmp
		}
		dst := filepath.Join(dir, "unpacked")
		ok, err := geo.Unpack(source, dst)
		if err != nil {
			return nil, err
		}
		if ok {
			source = dst
		}
	}
	return l.read(source, geo.ReadOptions{Encoding: req.Encoding, CRS: req.CRS})
}

// createIndexes runs the post-load index statements. Failures are logged;
// the data is already committed.
func (l *Loader) createIndexes(ctx context.Context, schema, table string, cols []column) {
	for _, stmt := range indexSQL(schema, table, cols) {
		if err := l.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"schema": schema,
				"table":  table,
			}).Debug("index not created")
		}
	}
}

// TableExists reports whether schema.table exists.
func (l *Loader) TableExists(ctx context.Context, schema, table string) (bool, error) {
	if schema == "" {
		schema = l.defaultSchema
	}
	ok, err := tableExists(l.db.WithContext(ctx), schema, table)
	if err != nil {
		return false, translateError(schema, table, err)
	}
	return ok, nil
}

// DropTable drops schema.table if it exists.
func (l *Loader) DropTable(ctx context.Context, schema, table string) error {
	if schema == "" {
		schema = l.defaultSchema
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := security.ValidateIdentifier(table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	err := l.db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + qualified(schema, table)).Error
	if err != nil {
		return translateError(schema, table, err)
	}
	l.logger.WithFields(logrus.Fields{"schema": schema, "table": table}).Info("table dropped")
	return nil
}

// Ping checks the database connection.
func (l *Loader) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func schemaExists(tx *gorm.DB, schema string) (bool, error) {
	var ok bool
	err := tx.Raw("SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = ?)", schema).
		Scan(&ok).Error
	return ok, err
}

func tableExists(tx *gorm.DB, schema, table string) (bool, error) {
	var ok bool
	err := tx.Raw("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)", schema, table).
		Scan(&ok).Error
	return ok, err
}

var (
	_ core.Ingester     = (*Loader)(nil)
	_ core.TableChecker = (*Loader)(nil)
	_ core.TableDropper = (*Loader)(nil)
	_ core.Pinger       = (*Loader)(nil)
)
