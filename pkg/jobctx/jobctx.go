// Package jobctx gives operations access to the ticket they run for.
package jobctx

import (
	"context"

	"github.com/jdziat/geo-ingest/pkg/core"
	intctx "github.com/jdziat/geo-ingest/pkg/internal/context"
)

// WithSession returns a context carrying sess and the response mode. The
// queue and the worker call it before running an operation.
func WithSession(ctx context.Context, sess *core.Session, mode core.ResponseMode) context.Context {
	return intctx.WithSessionContext(ctx, &intctx.SessionContext{Session: sess, Mode: mode})
}

// SessionFromContext returns the current session, or nil outside an operation.
func SessionFromContext(ctx context.Context) *core.Session {
	sc := intctx.GetSessionContext(ctx)
	if sc == nil {
		return nil
	}
	return sc.Session
}

// TicketFromContext returns the current ticket, or "" outside an operation.
func TicketFromContext(ctx context.Context) string {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return ""
	}
	return sess.Ticket
}

// ModeFromContext returns how the current operation was started, or "".
func ModeFromContext(ctx context.Context) core.ResponseMode {
	sc := intctx.GetSessionContext(ctx)
	if sc == nil {
		return ""
	}
	return sc.Mode
}
