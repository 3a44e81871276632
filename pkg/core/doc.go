// Package core provides the fundamental types and interfaces for the ingest service.
//
// This package contains:
//   - QueueRecord, Session, Terminal and Completion models
//   - Storage interface defining the queue store contract
//   - Collaborator interfaces for ingest, publish and drop operations
//   - Event types for ticket lifecycle monitoring
//   - Sentinel and typed errors
//
// Most users should import the root package github.com/jdziat/geo-ingest
// instead of this package directly.
package core
