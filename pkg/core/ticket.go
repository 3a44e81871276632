// Package core provides the domain models and interfaces for the ingest service.
package core

import (
	"fmt"
	"time"
)

// RequestKind identifies which operation a ticket represents.
type RequestKind string

const (
	KindIngest  RequestKind = "ingest"
	KindPublish RequestKind = "publish"
)

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	return k == KindIngest || k == KindPublish
}

// ResponseMode selects between inline and queued execution.
type ResponseMode string

const (
	ModePrompt   ResponseMode = "prompt"   // Caller blocks for the result
	ModeDeferred ResponseMode = "deferred" // Caller polls by ticket
)

// QueueRecord is the durable lifecycle entity of one ticket.
type QueueRecord struct {
	Ticket               string      `gorm:"primaryKey;size:32"`
	IdempotencyKey       *string     `gorm:"uniqueIndex;size:255"`
	RequestKind          RequestKind `gorm:"index;size:20;not null"`
	InitiatedAt          time.Time   `gorm:"index;not null"`
	Completed            bool        `gorm:"index;not null;default:false"`
	Success              *bool
	Result               []byte
	RowCount             *int64
	ErrorMessage         *string `gorm:"type:text"`
	ExecutionTimeSeconds *float64
	CompletedAt          *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name used by the queue store.
func (QueueRecord) TableName() string { return "tickets" }

// CheckConsistency verifies the status-field invariants of the record.
func (r *QueueRecord) CheckConsistency() error {
	if !r.Completed {
		if r.Success != nil || r.Result != nil || r.ErrorMessage != nil || r.ExecutionTimeSeconds != nil {
			return fmt.Errorf("ticket %s: pending record carries terminal fields", r.Ticket)
		}
		return nil
	}
	if r.Success == nil {
		return fmt.Errorf("ticket %s: completed record without success flag", r.Ticket)
	}
	if r.ExecutionTimeSeconds == nil || *r.ExecutionTimeSeconds < 0 {
		return fmt.Errorf("ticket %s: completed record without execution time", r.Ticket)
	}
	hasResult := r.Result != nil
	hasError := r.ErrorMessage != nil
	if hasResult == hasError {
		return fmt.Errorf("ticket %s: exactly one of result and error message must be set", r.Ticket)
	}
	if *r.Success != hasResult {
		return fmt.Errorf("ticket %s: success flag disagrees with stored outcome", r.Ticket)
	}
	return nil
}

// Session is handed back by the allocator for every tracked request.
type Session struct {
	Ticket         string
	IdempotencyKey string
	Kind           RequestKind
	InitiatedAt    time.Time
}

// Terminal holds the fields written once when a ticket completes.
type Terminal struct {
	Success              bool
	Result               []byte
	RowCount             *int64
	ErrorMessage         *string
	ExecutionTimeSeconds float64
	CompletedAt          time.Time
}

// Outcome is the success payload of an operation.
type Outcome struct {
	Result   map[string]any
	RowCount *int64
}

// Completion describes how one execution of an operation ended.
type Completion struct {
	Success      bool
	Result       map[string]any
	RowCount     *int64
	ErrorMessage string
	Err          error // Original error, not persisted
	StartedAt    time.Time
	FinishedAt   time.Time
}
