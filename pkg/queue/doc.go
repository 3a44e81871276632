// Package queue provides the prompt/deferred orchestrator.
//
// Prompt allocates a ticket, runs the operation inline and records the
// completion before returning. Defer allocates a ticket and hands the
// operation to the single deferred worker. Both paths publish lifecycle
// events on the Events stream.
package queue
