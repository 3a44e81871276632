// Package accounting keeps the append-only audit trail of finished requests.
package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// Entry is one audit record.
type Entry struct {
	Ticket         string           `json:"ticket"`
	Kind           core.RequestKind `json:"request"`
	Success        bool             `json:"success"`
	ExecutionStart time.Time        `json:"execution_start"`
	ExecutionTime  float64          `json:"execution_time"`
	Comment        string           `json:"comment,omitempty"`
	Rows           *int64           `json:"rows,omitempty"`
}

// Sink receives audit entries. Callers log Append failures and move on.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Append(ctx context.Context, e Entry) error { return f(ctx, e) }

// Nop discards entries.
var Nop Sink = SinkFunc(func(context.Context, Entry) error { return nil })

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
