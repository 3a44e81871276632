// Package recorder provides the completion recorder.
//
// Record is the only writer of terminal ticket state. The write is a
// single conditional update on a pending record, retried with
// exponential backoff on transient storage errors; completed or unknown
// tickets are never retried. Each successful write appends one
// accounting entry.
package recorder
