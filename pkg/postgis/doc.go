// Package postgis loads vector layers into PostGIS tables and removes them.
//
// Loader implements core.Ingester, core.TableChecker and core.TableDropper
// on top of a gorm connection using the postgres driver. One ingest runs in
// one transaction: the schema is checked, an existing table is replaced or
// refused, the table is created and rows are inserted in chunks.
package postgis
