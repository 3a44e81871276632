// Package query provides the read-only status and result projections.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// Status is the public view of a ticket's lifecycle.
type Status struct {
	Completed     bool      `json:"completed"`
	Success       *bool     `json:"success"`
	Requested     time.Time `json:"requested"`
	ExecutionTime *float64  `json:"executionTime"`
	Comment       *string   `json:"comment"`
}

// TicketRef is returned by a lookup by idempotency key.
type TicketRef struct {
	Ticket  string           `json:"ticket"`
	Request core.RequestKind `json:"request"`
}

// Reader is the part of core.Storage the projections need.
type Reader interface {
	GetByTicket(ctx context.Context, ticket string) (*core.QueueRecord, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*core.QueueRecord, error)
}

// Service answers status, result and key lookups.
type Service struct {
	store Reader
}

// New creates a query service.
func New(store Reader) *Service {
	return &Service{store: store}
}

// Status returns the lifecycle view of ticket.
func (s *Service) Status(ctx context.Context, ticket string) (*Status, error) {
	rec, err := s.lookup(ctx, ticket)
	if err != nil {
		return nil, err
	}
	return &Status{
		Completed:     rec.Completed,
		Success:       rec.Success,
		Requested:     rec.InitiatedAt,
		ExecutionTime: rec.ExecutionTimeSeconds,
		Comment:       rec.ErrorMessage,
	}, nil
}

// Result returns the stored result document merged with its row count
// under "length". Unknown, pending and failed tickets are not found.
func (s *Service) Result(ctx context.Context, ticket string) (map[string]any, error) {
	rec, err := s.lookup(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !rec.Completed || rec.Result == nil {
		return nil, core.ErrTicketNotFound
	}

	out := map[string]any{}
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return nil, fmt.Errorf("decode result of ticket %s: %w", ticket, err)
	}
	if rec.RowCount != nil {
		out["length"] = *rec.RowCount
	}
	return out, nil
}

// TicketByKey returns the ticket bound to an idempotency key.
func (s *Service) TicketByKey(ctx context.Context, key string) (*TicketRef, error) {
	if key == "" {
		return nil, core.ErrTicketNotFound
	}
	rec, err := s.store.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, core.NewStorageError("get by key", err)
	}
	if rec == nil {
		return nil, core.ErrTicketNotFound
	}
	return &TicketRef{Ticket: rec.Ticket, Request: rec.RequestKind}, nil
}

func (s *Service) lookup(ctx context.Context, ticket string) (*core.QueueRecord, error) {
	if ticket == "" {
		return nil, core.ErrInvalidTicket
	}
	rec, err := s.store.GetByTicket(ctx, ticket)
	if err != nil {
		return nil, core.NewStorageError("get by ticket", err)
	}
	if rec == nil {
		return nil, core.ErrTicketNotFound
	}
	return rec, nil
}
