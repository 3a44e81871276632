package ingest

import (
	"github.com/jdziat/geo-ingest/pkg/core"
)

// Sentinel errors.
var (
	ErrDuplicateIdempotencyKey = core.ErrDuplicateIdempotencyKey
	ErrTicketNotFound          = core.ErrTicketNotFound
	ErrAlreadyCompleted        = core.ErrAlreadyCompleted
	ErrWorkerStopped           = core.ErrWorkerStopped
	ErrQueueFull               = core.ErrQueueFull
)

// Typed errors returned by the ingest and publish operations.
type (
	SchemaMissingError         = core.SchemaMissingError
	InsufficientPrivilegeError = core.InsufficientPrivilegeError
	FormatError                = core.FormatError
	TableExistsError           = core.TableExistsError
	TableMissingError          = core.TableMissingError
	DependentObjectsError      = core.DependentObjectsError
	StorageError               = core.StorageError
)
