// Package storage provides queue store implementations for ticket persistence.
//
// This package includes:
//   - GormStorage: A GORM-based implementation supporting SQLite and PostgreSQL
//   - Connection pool configuration helpers
//
// The Storage interface is defined in pkg/core and must be implemented
// by any custom queue store.
//
// Most users should import the root package github.com/jdziat/geo-ingest
// which opens and migrates the queue store from configuration.
package storage
