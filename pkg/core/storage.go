package core

import (
	"context"
	"time"
)

// Storage defines the persistence layer for queue records.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Insert persists a new pending record. A reused idempotency key
	// yields ErrDuplicateIdempotencyKey.
	Insert(ctx context.Context, rec *QueueRecord) error

	// Complete applies the terminal fields to a pending record exactly once.
	// Returns ErrAlreadyCompleted or ErrTicketNotFound when nothing was updated.
	Complete(ctx context.Context, ticket string, t *Terminal) error

	// Queries return (nil, nil) when no record matches.
	GetByTicket(ctx context.Context, ticket string) (*QueueRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*QueueRecord, error)

	// ListStale returns pending records initiated before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*QueueRecord, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
