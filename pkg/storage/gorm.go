// Package storage provides the queue store implementations for the ingest service.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed queue store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying connection.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return core.NewStorageError("migrate", s.db.WithContext(ctx).AutoMigrate(&core.QueueRecord{}))
}

// Insert persists a new pending record.
func (s *GormStorage) Insert(ctx context.Context, rec *core.QueueRecord) error {
	if rec.Ticket == "" {
		return core.ErrInvalidTicket
	}
	if !rec.RequestKind.Valid() {
		return core.ErrInvalidRequestKind
	}
	if rec.IdempotencyKey != nil && *rec.IdempotencyKey == "" {
		rec.IdempotencyKey = nil
	}
	if rec.InitiatedAt.IsZero() {
		rec.InitiatedAt = time.Now()
	}
	rec.Completed = false

	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if rec.IdempotencyKey != nil && isDuplicateKey(err) {
			return core.ErrDuplicateIdempotencyKey
		}
		return core.NewStorageError("insert", err)
	}
	return nil
}

// Complete applies the terminal fields to a pending record.
// The update is conditional on completed = false so a record is never
// overwritten once terminal.
func (s *GormStorage) Complete(ctx context.Context, ticket string, t *core.Terminal) error {
	if ticket == "" {
		return core.ErrInvalidTicket
	}

	updates := map[string]any{
		"completed":              true,
		"success":                t.Success,
		"execution_time_seconds": t.ExecutionTimeSeconds,
		"completed_at":           t.CompletedAt,
		"row_count":              t.RowCount,
	}
	if t.Success {
		updates["result"] = t.Result
		updates["error_message"] = nil
	} else {
		updates["result"] = nil
		updates["error_message"] = t.ErrorMessage
	}

	result := s.db.WithContext(ctx).
		Model(&core.QueueRecord{}).
		Where("ticket = ? AND completed = ?", ticket, false).
		Updates(updates)

	if result.Error != nil {
		return core.NewStorageError("complete", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.QueueRecord{}).
		Where("ticket = ?", ticket).
		Count(&count).Error
	if err != nil {
		return core.NewStorageError("complete", err)
	}
	if count == 0 {
		return core.ErrTicketNotFound
	}
	return core.ErrAlreadyCompleted
}

// GetByTicket retrieves a record by ticket.
func (s *GormStorage) GetByTicket(ctx context.Context, ticket string) (*core.QueueRecord, error) {
	var rec core.QueueRecord
	err := s.db.WithContext(ctx).First(&rec, "ticket = ?", ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get by ticket", err)
	}
	return &rec, nil
}

// GetByIdempotencyKey retrieves the record bound to key.
func (s *GormStorage) GetByIdempotencyKey(ctx context.Context, key string) (*core.QueueRecord, error) {
	if key == "" {
		return nil, nil
	}
	var rec core.QueueRecord
	err := s.db.WithContext(ctx).First(&rec, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get by key", err)
	}
	return &rec, nil
}

// ListStale returns pending records initiated before cutoff, oldest first.
func (s *GormStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*core.QueueRecord, error) {
	var recs []*core.QueueRecord
	q := s.db.WithContext(ctx).
		Where("completed = ?", false).
		Where("initiated_at < ?", cutoff).
		Order("initiated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, core.NewStorageError("list stale", err)
	}
	return recs, nil
}

// Ping checks that the database is reachable.
func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return core.NewStorageError("ping", err)
	}
	return core.NewStorageError("ping", sqlDB.PingContext(ctx))
}

// Unique violations of the idempotency key index.
const (
	codeUniqueViolation = "23505"
	idempotencyIndex    = "idx_tickets_idempotency_key"
)

// isDuplicateKey recognises a violation of the idempotency key index.
// PostgreSQL errors are matched on SQLSTATE and constraint name; SQLite
// only names the column in its message.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == idempotencyIndex
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "idempotency_key")
}

var _ core.Storage = (*GormStorage)(nil)
