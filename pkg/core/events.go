package core

import "time"

// Event is the interface for all ticket lifecycle events.
type Event interface {
	eventMarker()
}

// TicketCreated is emitted when a queue record has been inserted.
type TicketCreated struct {
	Session   *Session
	Mode      ResponseMode
	Timestamp time.Time
}

func (*TicketCreated) eventMarker() {}

// JobQueued is emitted when a deferred job has been handed to the worker.
type JobQueued struct {
	Session   *Session
	Position  int
	Timestamp time.Time
}

func (*JobQueued) eventMarker() {}

// JobStarted is emitted when the worker begins a deferred job.
type JobStarted struct {
	Session   *Session
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// TicketCompleted is emitted after the recorder handled a completion.
// RecordErr is set when the terminal write did not happen.
type TicketCompleted struct {
	Session    *Session
	Completion *Completion
	RecordErr  error
	Timestamp  time.Time
}

func (*TicketCompleted) eventMarker() {}
