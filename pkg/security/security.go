// Package security provides validation, sanitization, and limits for the ingest service.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// Security limits and configuration
const (
	// MaxIdempotencyKeyLength is the maximum length for client idempotency keys
	MaxIdempotencyKeyLength = 255

	// MaxIdentifierLength is the PostgreSQL identifier limit (NAMEDATALEN-1)
	MaxIdentifierLength = 63

	// MaxRetries is the hard limit for storage write attempts
	MaxRetries = 100

	// MaxPendingJobs is the hard limit for the deferred job backlog
	MaxPendingJobs = 100000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

var (
	ErrInvalidIdentifier = errors.New("ingest: invalid identifier (letters, digits and underscores, not starting with a digit)")
	ErrIdentifierTooLong = errors.New("ingest: identifier too long")
	ErrPathEscapes       = errors.New("ingest: path escapes its base directory")
)

// validIdentifier matches unquoted-safe schema, table and workspace names
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdempotencyKey validates a client supplied idempotency key.
// The empty key means no key and is accepted.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > MaxIdempotencyKeyLength {
		return core.ErrIdempotencyKeyTooLong
	}
	for _, r := range key {
		if r < 32 || r == 127 || r == utf8.RuneError {
			return core.ErrInvalidIdempotencyKey
		}
	}
	return nil
}

// ValidateIdentifier validates a schema, table or workspace name
func ValidateIdentifier(name string) error {
	if name == "" {
		return ErrInvalidIdentifier
	}
	if len(name) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	if !validIdentifier.MatchString(name) {
		return ErrInvalidIdentifier
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures the attempt count is within limits
func ClampRetries(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampPending ensures the backlog limit is within limits. Zero means unbounded.
func ClampPending(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxPendingJobs {
		return MaxPendingJobs
	}
	return n
}

// SafeJoin joins rel onto base and rejects results outside base.
func SafeJoin(base, rel string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: empty base", ErrPathEscapes)
	}
	cleanBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanBase, filepath.FromSlash(rel))
	r, err := filepath.Rel(cleanBase, joined)
	if err != nil {
		return "", err
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapes
	}
	return joined, nil
}
