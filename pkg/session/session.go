// Package session mints tickets and persists the initial queue record.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// NewTicket returns 128 random bits as 32 lowercase hex characters.
func NewTicket() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate ticket: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

// Allocator creates sessions backed by a queue record.
type Allocator struct {
	store     core.Storage
	logger    logrus.FieldLogger
	now       func() time.Time
	newTicket func() (string, error)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithTicketFunc overrides ticket generation.
func WithTicketFunc(fn func() (string, error)) Option {
	return func(a *Allocator) {
		if fn != nil {
			a.newTicket = fn
		}
	}
}

// NewAllocator creates an allocator writing to store.
func NewAllocator(store core.Storage, opts ...Option) *Allocator {
	a := &Allocator{
		store:     store,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
		newTicket: NewTicket,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate mints a ticket for kind and inserts its pending record.
// A key that is already bound to a ticket yields
// core.ErrDuplicateIdempotencyKey and no ticket is minted.
func (a *Allocator) Allocate(ctx context.Context, kind core.RequestKind, idempotencyKey string) (*core.Session, error) {
	if !kind.Valid() {
		return nil, core.ErrInvalidRequestKind
	}
	if err := security.ValidateIdempotencyKey(idempotencyKey); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		existing, err := a.store.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, core.NewStorageError("check idempotency key", err)
		}
		if existing != nil {
			a.logger.WithFields(logrus.Fields{
				"idempotency_key": idempotencyKey,
				"ticket":          existing.Ticket,
			}).Info("rejected reused idempotency key")
			return nil, core.ErrDuplicateIdempotencyKey
		}
	}

	ticket, err := a.newTicket()
	if err != nil {
		return nil, err
	}

	sess := &core.Session{
		Ticket:         ticket,
		IdempotencyKey: idempotencyKey,
		Kind:           kind,
		InitiatedAt:    a.now(),
	}

	rec := &core.QueueRecord{
		Ticket:      sess.Ticket,
		RequestKind: kind,
		InitiatedAt: sess.InitiatedAt,
	}
	if idempotencyKey != "" {
		key := idempotencyKey
		rec.IdempotencyKey = &key
	}

	if err := a.store.Insert(ctx, rec); err != nil {
		// The unique index closes the race between the check and the insert.
		return nil, core.NewStorageError("insert ticket", err)
	}

	a.logger.WithFields(logrus.Fields{
		"ticket": sess.Ticket,
		"kind":   kind,
	}).Debug("ticket allocated")
	return sess, nil
}
