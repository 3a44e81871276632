package postgis

import (
	"fmt"
	"net/url"
	"strconv"

	"gorm.io/gorm"

	"github.com/jdziat/geo-ingest/pkg/storage"
)

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 5432

// Config describes the PostGIS connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the configuration as a postgres URL.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// Open connects to PostGIS with the default pool settings.
func Open(cfg Config, gcfg *gorm.Config, opts ...storage.PoolOption) (*gorm.DB, error) {
	if cfg.Host == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("postgis: host and database name are required")
	}
	return storage.Open(storage.DriverPostgres, cfg.DSN(), gcfg, opts...)
}
