package accounting

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// Record is the database row of an entry.
type Record struct {
	ID             uint             `gorm:"primaryKey"`
	Ticket         string           `gorm:"index;size:32;not null"`
	RequestKind    core.RequestKind `gorm:"size:20"`
	Success        bool
	ExecutionStart time.Time `gorm:"index"`
	ExecutionTime  float64
	Comment        *string `gorm:"type:text"`
	Rows           *int64
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName pins the table name.
func (Record) TableName() string { return "accounting_entries" }

// GormSink inserts entries into accounting_entries.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a database sink.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Migrate creates the accounting table.
func (s *GormSink) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Append inserts one row.
func (s *GormSink) Append(ctx context.Context, e Entry) error {
	rec := &Record{
		Ticket:         e.Ticket,
		RequestKind:    e.Kind,
		Success:        e.Success,
		ExecutionStart: e.ExecutionStart,
		ExecutionTime:  e.ExecutionTime,
		Rows:           e.Rows,
	}
	if e.Comment != "" {
		c := e.Comment
		rec.Comment = &c
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// List returns the entries of ticket, oldest first.
func (s *GormSink) List(ctx context.Context, ticket string) ([]Record, error) {
	var out []Record
	err := s.db.WithContext(ctx).
		Where("ticket = ?", ticket).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
