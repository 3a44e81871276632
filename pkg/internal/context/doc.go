// Package context provides internal context helpers for operation execution.
//
// This package is internal and should not be imported directly.
// The session context carries the ticket and response mode of the
// operation being executed. Use package jobctx to read it.
package context
