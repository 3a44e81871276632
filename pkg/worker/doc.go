// Package worker provides the deferred job executor.
//
// This package includes:
//   - Worker: a strictly FIFO, single-goroutine job runner
//   - Run: the catch-all boundary every operation executes inside
//   - WorkerOption: backlog limit, logger and lifecycle hooks
//
// Completions travel from the execution goroutine to the recording
// goroutine over a channel; the Recorder is the only writer of
// terminal ticket state.
package worker
