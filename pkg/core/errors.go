package core

import (
	"errors"
	"fmt"
)

// Validation and lifecycle errors
var (
	ErrDuplicateIdempotencyKey = errors.New("ingest: idempotency key must be unique")
	ErrIdempotencyKeyTooLong   = errors.New("ingest: idempotency key exceeds maximum length")
	ErrInvalidIdempotencyKey   = errors.New("ingest: idempotency key contains invalid characters")
	ErrInvalidTicket           = errors.New("ingest: ticket is missing")
	ErrTicketNotFound          = errors.New("ingest: not found")
	ErrAlreadyCompleted        = errors.New("ingest: ticket already completed")
	ErrInvalidRequestKind      = errors.New("ingest: invalid request kind")
	ErrWorkerStopped           = errors.New("ingest: worker is not accepting jobs")
	ErrQueueFull               = errors.New("ingest: too many deferred jobs waiting")
)

// StorageError wraps a queue store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ingest: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it is nil or already a lifecycle sentinel.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrTicketNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// SchemaMissingError is returned when the target schema does not exist.
type SchemaMissingError struct {
	Schema string
}

func (e *SchemaMissingError) Error() string {
	return fmt.Sprintf("Schema %q does not exist.", e.Schema)
}

// InsufficientPrivilegeError is returned when the database refuses the write.
type InsufficientPrivilegeError struct {
	Schema string
	Err    error
}

func (e *InsufficientPrivilegeError) Error() string {
	return fmt.Sprintf("Permission denied for schema %q.", e.Schema)
}

func (e *InsufficientPrivilegeError) Unwrap() error {
	return e.Err
}

// FormatError is returned when a source file cannot be read.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unreadable vector source: %v", e.Err)
	}
	return fmt.Sprintf("unreadable vector source %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// TableExistsError is returned when ingest would overwrite a table without replace.
type TableExistsError struct {
	Schema string
	Table  string
}

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("Table %q.%q already exists.", e.Schema, e.Table)
}

// TableMissingError is returned when publishing a table that does not exist.
type TableMissingError struct {
	Schema string
	Table  string
}

func (e *TableMissingError) Error() string {
	return fmt.Sprintf("Table %q.%q does not exist.", e.Schema, e.Table)
}

// DependentObjectsError is returned when a drop is blocked by dependent objects.
type DependentObjectsError struct {
	Schema string
	Table  string
	Err    error
}

func (e *DependentObjectsError) Error() string {
	return fmt.Sprintf("Table %q.%q cannot be dropped because other objects depend on it.", e.Schema, e.Table)
}

func (e *DependentObjectsError) Unwrap() error {
	return e.Err
}
