package postgis

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// SQLSTATE codes with a domain meaning.
const (
	codeInsufficientPrivilege = "42501"
	codeInvalidSchemaName     = "3F000"
	codeDependentObjects      = "2BP01"
	codeDuplicateTable        = "42P07"
	codeUndefinedTable        = "42P01"
)

// translateError maps PostgreSQL errors onto the typed errors of core.
// Other errors are returned unchanged.
func translateError(schema, table string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeInsufficientPrivilege:
		return &core.InsufficientPrivilegeError{Schema: schema, Err: err}
	case codeInvalidSchemaName:
		return &core.SchemaMissingError{Schema: schema}
	case codeDependentObjects:
		return &core.DependentObjectsError{Schema: schema, Table: table, Err: err}
	case codeDuplicateTable:
		return &core.TableExistsError{Schema: schema, Table: table}
	case codeUndefinedTable:
		return &core.TableMissingError{Schema: schema, Table: table}
	default:
		return err
	}
}
