// Package security provides validation, sanitization, and limits for the ingest service.
//
// This package includes:
//   - Validation for idempotency keys and SQL identifiers
//   - Error message sanitization before storage
//   - Clamping functions for retry attempts and backlog size
//   - Path containment checks for client supplied file paths
package security
