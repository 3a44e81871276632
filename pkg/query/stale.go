package query

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
)

// StaleLister lists pending records older than a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*core.QueueRecord, error)
}

// StaleReporter logs tickets that have been pending longer than Age.
// It only reports; records are never modified.
type StaleReporter struct {
	Store  StaleLister
	Age    time.Duration
	Limit  int
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Report logs every stale ticket and returns how many were found.
func (r *StaleReporter) Report(ctx context.Context) (int, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}

	current := now()
	recs, err := r.Store.ListStale(ctx, current.Add(-r.Age), limit)
	if err != nil {
		return 0, core.NewStorageError("list stale", err)
	}
	for _, rec := range recs {
		logger.WithFields(logrus.Fields{
			"ticket":    rec.Ticket,
			"kind":      rec.RequestKind,
			"initiated": rec.InitiatedAt,
			"pending":   current.Sub(rec.InitiatedAt).Round(time.Second).String(),
		}).Warn("ticket still pending")
	}
	if len(recs) > 0 {
		logger.WithField("count", len(recs)).Warn("stale tickets found")
	}
	return len(recs), nil
}

// Run adapts Report to a scheduled task.
func (r *StaleReporter) Run(ctx context.Context) error {
	_, err := r.Report(ctx)
	return err
}
