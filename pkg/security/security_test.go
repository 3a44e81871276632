package security

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/geo-ingest/pkg/core"
)

func TestValidateIdempotencyKey_Valid(t *testing.T) {
	validKeys := []string{
		"",
		"K1",
		"order-42/retry",
		"9b2f0c1e-6c38-4b8e-a9a7-0d2b4f5e7c11",
		strings.Repeat("k", MaxIdempotencyKeyLength),
	}

	for _, key := range validKeys {
		assert.NoError(t, ValidateIdempotencyKey(key), "Expected %q to be valid", key)
	}
}

func TestValidateIdempotencyKey_Invalid(t *testing.T) {
	assert.ErrorIs(t, ValidateIdempotencyKey(strings.Repeat("k", 256)), core.ErrIdempotencyKeyTooLong)
	assert.ErrorIs(t, ValidateIdempotencyKey("bad\x00key"), core.ErrInvalidIdempotencyKey)
	assert.ErrorIs(t, ValidateIdempotencyKey("line\nbreak"), core.ErrInvalidIdempotencyKey)
}

func TestValidateIdentifier_Valid(t *testing.T) {
	validNames := []string{
		"public",
		"_staging",
		"roads_2024",
		"a",
		"Layer1",
	}

	for _, name := range validNames {
		assert.NoError(t, ValidateIdentifier(name), "Expected %q to be valid", name)
	}
}

func TestValidateIdentifier_Invalid(t *testing.T) {
	invalidNames := []string{
		"",                      // empty
		"1roads",                // starts with digit
		"roads-2024",            // hyphen
		`roads"; drop table x`,  // injection attempt
		"with space",            // space
		strings.Repeat("a", 64), // too long
	}

	for _, name := range invalidNames {
		assert.Error(t, ValidateIdentifier(name), "Expected %q to be invalid", name)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal message",
			input:    "connection refused",
			expected: "connection refused",
		},
		{
			name:     "message with newlines",
			input:    "error on\nline 2",
			expected: "error on\nline 2",
		},
		{
			name:     "message with null bytes",
			input:    "error\x00with\x00nulls",
			expected: "errorwithnulls",
		},
		{
			name:     "empty message",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeErrorMessage(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSanitizeErrorMessage_Truncation(t *testing.T) {
	longMessage := strings.Repeat("a", 5000)
	result := SanitizeErrorMessage(longMessage)

	assert.LessOrEqual(t, len(result), MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(result, "..."))
}

func TestClampRetries(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 1},
		{0, 1},
		{5, 5},
		{100, 100},
		{101, 100},
	}

	for _, tt := range tests {
		result := ClampRetries(tt.input)
		assert.Equal(t, tt.expected, result, "ClampRetries(%d)", tt.input)
	}
}

func TestClampPending(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-1, 0},
		{0, 0},
		{10, 10},
		{MaxPendingJobs, MaxPendingJobs},
		{MaxPendingJobs + 1, MaxPendingJobs},
	}

	for _, tt := range tests {
		result := ClampPending(tt.input)
		assert.Equal(t, tt.expected, result, "ClampPending(%d)", tt.input)
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	got, err := SafeJoin(base, "roads/roads.shp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "roads", "roads.shp"), got)

	_, err = SafeJoin(base, "../etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscapes)

	_, err = SafeJoin(base, "roads/../../x")
	assert.ErrorIs(t, err, ErrPathEscapes)

	// Absolute paths are treated as relative to base.
	got, err = SafeJoin(base, "/data/a.kml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "a.kml"), got)

	_, err = SafeJoin("", "a.kml")
	assert.ErrorIs(t, err, ErrPathEscapes)
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 255, MaxIdempotencyKeyLength)
	assert.Equal(t, 63, MaxIdentifierLength)
	assert.Equal(t, 100, MaxRetries)
	assert.Equal(t, 4096, MaxErrorMessageLength)
}
