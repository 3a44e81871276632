// Package context provides context helpers for tracked operations.
package context

import (
	"context"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// SessionContextKey is the key for storing the session context in context.Context.
type SessionContextKey struct{}

// SessionContext holds the ticket an operation runs for and how it was started.
type SessionContext struct {
	Session *core.Session
	Mode    core.ResponseMode
}

// GetSessionContext retrieves the session context from a context.Context.
func GetSessionContext(ctx context.Context) *SessionContext {
	if sc, ok := ctx.Value(SessionContextKey{}).(*SessionContext); ok {
		return sc
	}
	return nil
}

// WithSessionContext adds the session context to a context.Context.
func WithSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, SessionContextKey{}, sc)
}
