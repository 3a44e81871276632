// Package recorder writes the terminal state of tickets.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/accounting"
	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// UnknownError replaces an empty failure message.
const UnknownError = "unknown error"

// Recorder transitions a ticket from pending to completed exactly once
// and appends the matching accounting entry.
type Recorder struct {
	store  core.Storage
	sink   accounting.Sink
	retry  RetryConfig
	logger logrus.FieldLogger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink sets the accounting sink.
func WithSink(s accounting.Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithRetry sets the retry policy for storage writes.
func WithRetry(cfg RetryConfig) Option {
	return func(r *Recorder) {
		cfg.MaxAttempts = security.ClampRetries(cfg.MaxAttempts)
		r.retry = cfg
	}
}

// WithRetryAttempts keeps the default backoff but changes the attempt count.
func WithRetryAttempts(n int) Option {
	return func(r *Recorder) {
		r.retry.MaxAttempts = security.ClampRetries(n)
	}
}

// DisableRetry makes every storage write a single attempt.
func DisableRetry() Option {
	return func(r *Recorder) {
		r.retry.MaxAttempts = 1
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for CompletedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a recorder writing to store.
func New(store core.Storage, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		sink:   accounting.Nop,
		retry:  DefaultRetryConfig(),
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record applies the completion to the session's ticket.
// A ticket that is already completed is left untouched and
// core.ErrAlreadyCompleted is returned.
func (r *Recorder) Record(ctx context.Context, sess *core.Session, c *core.Completion) error {
	if sess == nil || sess.Ticket == "" {
		return core.ErrInvalidTicket
	}

	terminal, err := BuildTerminal(sess, c, r.now())
	if err != nil {
		return err
	}

	err = retryWithBackoff(ctx, r.retry, func() error {
		return r.store.Complete(ctx, sess.Ticket, terminal)
	})
	if err != nil {
		return err
	}

	entry := accounting.Entry{
		Ticket:         sess.Ticket,
		Kind:           sess.Kind,
		Success:        terminal.Success,
		ExecutionStart: sess.InitiatedAt,
		ExecutionTime:  terminal.ExecutionTimeSeconds,
		Rows:           terminal.RowCount,
	}
	if terminal.ErrorMessage != nil {
		entry.Comment = *terminal.ErrorMessage
	}
	if err := r.sink.Append(ctx, entry); err != nil {
		r.logger.WithFields(logrus.Fields{
			"ticket": sess.Ticket,
			"error":  err,
		}).Warn("failed to append accounting entry")
	}
	return nil
}

// BuildTerminal turns a completion into the fields of the terminal write.
func BuildTerminal(sess *core.Session, c *core.Completion, now time.Time) (*core.Terminal, error) {
	if c == nil {
		c = &core.Completion{ErrorMessage: UnknownError, FinishedAt: now}
	}

	finished := c.FinishedAt
	if finished.IsZero() {
		finished = now
	}

	t := &core.Terminal{
		Success:              c.Success,
		ExecutionTimeSeconds: ExecutionSeconds(sess.InitiatedAt, finished),
		CompletedAt:          now,
	}

	if c.Success {
		result := c.Result
		if result == nil {
			result = map[string]any{}
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result of ticket %s: %w", sess.Ticket, err)
		}
		t.Result = data
		t.RowCount = c.RowCount
		return t, nil
	}

	msg := security.SanitizeErrorMessage(c.ErrorMessage)
	if msg == "" && c.Err != nil {
		msg = security.SanitizeErrorMessage(c.Err.Error())
	}
	if msg == "" {
		msg = UnknownError
	}
	t.ErrorMessage = &msg
	return t, nil
}

// ExecutionSeconds returns finished - initiated in seconds, rounded to the
// millisecond and never negative.
func ExecutionSeconds(initiated, finished time.Time) float64 {
	d := finished.Sub(initiated)
	if d < 0 {
		return 0
	}
	return float64(d.Round(time.Millisecond)/time.Millisecond) / 1000
}
