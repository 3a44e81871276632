// Package ingest provides a ticketed service that loads vector files into
// PostGIS and publishes the resulting tables through GeoServer.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages and assembles them into an App.
//
// Basic usage:
//
//	cfg, _ := config.Load(".env")
//	app, _ := ingest.New(cfg)
//	defer app.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	app.Run(ctx)
package ingest

import (
	"context"

	"github.com/jdziat/geo-ingest/pkg/api"
	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/jobctx"
)

// Type aliases for the domain model.
type (
	// Session is handed back by the allocator for every tracked request.
	Session = core.Session

	// Completion describes how one execution of an operation ended.
	Completion = core.Completion

	// QueueRecord is the durable lifecycle entity of one ticket.
	QueueRecord = core.QueueRecord

	// Operation is the long-running work tracked by a ticket.
	Operation = core.Operation

	// Outcome is the success payload of an operation.
	Outcome = core.Outcome

	// RequestKind identifies which operation a ticket represents.
	RequestKind = core.RequestKind

	// ResponseMode selects between inline and queued execution.
	ResponseMode = core.ResponseMode

	// Storage defines the persistence layer for queue records.
	Storage = core.Storage

	// Event is the interface for all ticket lifecycle events.
	Event = core.Event

	// TicketCreated is emitted when a queue record has been inserted.
	TicketCreated = core.TicketCreated

	// JobQueued is emitted when a deferred job has been handed to the worker.
	JobQueued = core.JobQueued

	// JobStarted is emitted when an operation begins.
	JobStarted = core.JobStarted

	// TicketCompleted is emitted after a completion was recorded.
	TicketCompleted = core.TicketCompleted

	// Tables is the spatial database the handlers ingest into.
	Tables = api.Tables

	// Publisher is the map server the handlers publish through.
	Publisher = api.Publisher
)

// Request kinds and response modes.
const (
	KindIngest   = core.KindIngest
	KindPublish  = core.KindPublish
	ModePrompt   = core.ModePrompt
	ModeDeferred = core.ModeDeferred
)

// TicketFromContext returns the ticket of the operation running with ctx,
// or "" outside an operation.
func TicketFromContext(ctx context.Context) string {
	return jobctx.TicketFromContext(ctx)
}
