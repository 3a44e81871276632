// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jdziat/geo-ingest/pkg/geoserver"
	"github.com/jdziat/geo-ingest/pkg/postgis"
)

// Config is the complete service configuration.
type Config struct {
	ListenAddr string

	QueueDriver    string
	QueueDSN       string
	DBMaxOpenConns int
	DBMaxIdleConns int

	PostGIS       postgis.Config
	DefaultSchema string
	ChunkSize     int

	// GeoServer.URL is empty when publishing is disabled.
	GeoServer geoserver.Config

	TempDir  string
	InputDir string
	CORS     []string

	LogLevel  string
	LogFormat string

	AccountingLog string
	AccountingDB  bool

	WorkerMaxPending    int
	StaleTicketAge      time.Duration
	StaleTicketSchedule string
}

// PublishEnabled reports whether a GeoServer is configured.
func (c *Config) PublishEnabled() bool {
	return c.GeoServer.URL != ""
}

// Default returns the configuration used for unset variables.
func Default() Config {
	return Config{
		ListenAddr:          ":5000",
		QueueDriver:         "sqlite",
		QueueDSN:            "ingest.sqlite",
		DefaultSchema:       "public",
		ChunkSize:           postgis.DefaultChunkSize,
		TempDir:             os.TempDir(),
		LogLevel:            "info",
		LogFormat:           "json",
		AccountingLog:       "-",
		WorkerMaxPending:    1000,
		StaleTicketAge:      time.Hour,
		StaleTicketSchedule: "*/15 * * * *",
	}
}

// LookupFunc returns the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads envFiles (missing files are ignored) into the process
// environment without overriding it, then builds the configuration.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from lookup. Every missing or
// malformed variable is reported in one joined error.
func FromLookup(lookup LookupFunc) (*Config, error) {
	p := parser{lookup: lookup}
	cfg := Default()

	p.str("LISTEN_ADDR", &cfg.ListenAddr)
	p.str("QUEUE_DB_DRIVER", &cfg.QueueDriver)
	p.str("QUEUE_DB_DSN", &cfg.QueueDSN)
	p.int("DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns)
	p.int("DB_MAX_IDLE_CONNS", &cfg.DBMaxIdleConns)

	p.required("POSTGIS_HOST", &cfg.PostGIS.Host)
	p.int("POSTGIS_PORT", &cfg.PostGIS.Port)
	p.required("POSTGIS_USER", &cfg.PostGIS.User)
	p.required("POSTGIS_DB_NAME", &cfg.PostGIS.DBName)
	p.str("POSTGIS_SSLMODE", &cfg.PostGIS.SSLMode)
	p.secret("POSTGIS_PASS", &cfg.PostGIS.Password)
	p.str("POSTGIS_DEFAULT_SCHEMA", &cfg.DefaultSchema)
	p.int("INGEST_CHUNK_SIZE", &cfg.ChunkSize)

	p.str("GEOSERVER_URL", &cfg.GeoServer.URL)
	if cfg.GeoServer.URL != "" {
		p.required("GEOSERVER_USER", &cfg.GeoServer.User)
		p.secret("GEOSERVER_PASS", &cfg.GeoServer.Password)
		p.required("GEOSERVER_WORKSPACE", &cfg.GeoServer.Workspace)
		p.str("GEOSERVER_STORE", &cfg.GeoServer.Store)
		cfg.GeoServer.Database = geoserver.Database{
			Host:     cfg.PostGIS.Host,
			Port:     cfg.PostGIS.Port,
			Name:     cfg.PostGIS.DBName,
			User:     cfg.PostGIS.User,
			Password: cfg.PostGIS.Password,
		}
	}

	p.str("TEMPDIR", &cfg.TempDir)
	p.str("INPUT_DIR", &cfg.InputDir)
	p.list("CORS", &cfg.CORS)

	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)

	p.str("ACCOUNTING_LOG", &cfg.AccountingLog)
	p.bool("ACCOUNTING_DB", &cfg.AccountingDB)

	p.int("WORKER_MAX_PENDING", &cfg.WorkerMaxPending)
	p.duration("STALE_TICKET_AGE", &cfg.StaleTicketAge)
	p.str("STALE_TICKET_SCHEDULE", &cfg.StaleTicketSchedule)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type parser struct {
	lookup LookupFunc
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) required(key string, dst *string) {
	v, ok := p.get(key)
	if !ok {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
		return
	}
	*dst = v
}

// secret reads KEY, or the file named by KEY_FILE.
func (p *parser) secret(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
		return
	}
	if path, ok := p.get(key + "_FILE"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s_FILE: %w", key, err))
			return
		}
		*dst = strings.TrimSpace(string(b))
		return
	}
	p.errs = append(p.errs, fmt.Errorf("%s or %s_FILE is required", key, key))
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a non-negative integer", key, v))
		return
	}
	*dst = n
}

func (p *parser) bool(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a positive duration", key, v))
		return
	}
	*dst = d
}

// list accepts a JSON array or a comma separated list.
func (p *parser) list(key string, dst *[]string) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	var out []string
	if strings.HasPrefix(v, "[") {
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
	} else {
		out = strings.Split(v, ",")
	}
	items := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	*dst = items
}
