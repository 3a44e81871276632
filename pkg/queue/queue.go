// Package queue routes tracked operations to inline or deferred execution.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/jobctx"
	"github.com/jdziat/geo-ingest/pkg/worker"
)

// Allocator mints sessions.
type Allocator interface {
	Allocate(ctx context.Context, kind core.RequestKind, idempotencyKey string) (*core.Session, error)
}

// Submitter accepts deferred jobs.
type Submitter interface {
	Submit(job *worker.Job) (int, error)
}

// Queue ties the allocator, the worker and the recorder together.
type Queue struct {
	alloc    Allocator
	recorder worker.Recorder
	logger   logrus.FieldLogger

	mu        sync.RWMutex
	submitter Submitter
	eventSubs []chan core.Event
}

// New creates a queue. Call NewWorker or SetSubmitter before Defer.
func New(alloc Allocator, rec worker.Recorder, opts ...Option) *Queue {
	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}
	return &Queue{
		alloc:    alloc,
		recorder: rec,
		logger:   o.Logger,
	}
}

// NewWorker creates the deferred worker, wires its lifecycle hooks to the
// event stream and attaches it to the queue.
func (q *Queue) NewWorker(opts ...worker.WorkerOption) *worker.Worker {
	hooks := []worker.WorkerOption{
		worker.WithLogger(q.logger),
		worker.OnQueued(func(s *core.Session, pos int) {
			q.Emit(&core.JobQueued{Session: s, Position: pos, Timestamp: time.Now()})
		}),
		worker.OnStart(func(s *core.Session) {
			q.Emit(&core.JobStarted{Session: s, Timestamp: time.Now()})
		}),
		worker.OnComplete(func(s *core.Session, c *core.Completion, err error) {
			q.Emit(&core.TicketCompleted{Session: s, Completion: c, RecordErr: err, Timestamp: time.Now()})
		}),
	}
	w := worker.NewWorker(q.recorder, append(hooks, opts...)...)
	q.SetSubmitter(w)
	return w
}

// SetSubmitter replaces the deferred job executor.
func (q *Queue) SetSubmitter(s Submitter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitter = s
}

// Prompt runs op inline and records its completion before returning.
// The returned error is only set when no ticket could be allocated; the
// operation's own failure is carried by the completion.
func (q *Queue) Prompt(ctx context.Context, kind core.RequestKind, key string, op core.Operation) (*core.Session, *core.Completion, error) {
	sess, err := q.allocate(ctx, kind, key, core.ModePrompt)
	if err != nil {
		return nil, nil, err
	}

	// Neither the operation nor the write is cancelled by the client going away.
	detached := jobctx.WithSession(context.WithoutCancel(ctx), sess, core.ModePrompt)

	q.Emit(&core.JobStarted{Session: sess, Timestamp: time.Now()})
	c := worker.Run(detached, op)

	recErr := q.recorder.Record(detached, sess, c)
	if recErr != nil {
		q.logger.WithFields(logrus.Fields{
			"ticket": sess.Ticket,
			"kind":   kind,
			"error":  recErr,
		}).Error("failed to record prompt completion")
	}
	q.Emit(&core.TicketCompleted{Session: sess, Completion: c, RecordErr: recErr, Timestamp: time.Now()})
	return sess, c, nil
}

// JobOption configures one deferred job.
type JobOption func(*worker.Job)

// OnDiscard registers fn to run when the operation will never execute:
// no ticket could be allocated, the worker refused the job, or the worker
// stopped before reaching it.
func OnDiscard(fn func()) JobOption {
	return func(j *worker.Job) {
		j.Discard = fn
	}
}

// Defer hands op to the worker and returns once it is queued. When the
// worker refuses the job the ticket is recorded as failed and the
// refusal is returned with the session.
func (q *Queue) Defer(ctx context.Context, kind core.RequestKind, key string, op core.Operation, opts ...JobOption) (*core.Session, error) {
	job := &worker.Job{Op: op}
	for _, opt := range opts {
		opt(job)
	}

	sess, err := q.allocate(ctx, kind, key, core.ModeDeferred)
	if err != nil {
		job.Abandon()
		return nil, err
	}
	job.Session = sess

	q.mu.RLock()
	sub := q.submitter
	q.mu.RUnlock()

	var submitErr error
	if sub == nil {
		submitErr = core.ErrWorkerStopped
	} else {
		_, submitErr = sub.Submit(job)
	}
	if submitErr == nil {
		return sess, nil
	}
	job.Abandon()

	c := worker.Failed(submitErr)
	recErr := q.recorder.Record(context.WithoutCancel(ctx), sess, c)
	q.logger.WithFields(logrus.Fields{
		"ticket": sess.Ticket,
		"kind":   kind,
		"error":  submitErr,
	}).Warn("deferred job refused")
	if recErr != nil {
		q.logger.WithField("ticket", sess.Ticket).WithError(recErr).Error("failed to record refused job")
	}
	q.Emit(&core.TicketCompleted{Session: sess, Completion: c, RecordErr: recErr, Timestamp: time.Now()})
	return sess, submitErr
}

// allocate mints the ticket on a context the client cannot cancel, so a
// request that got this far always ends with a recorded ticket.
func (q *Queue) allocate(ctx context.Context, kind core.RequestKind, key string, mode core.ResponseMode) (*core.Session, error) {
	sess, err := q.alloc.Allocate(context.WithoutCancel(ctx), kind, key)
	if err != nil {
		if !errors.Is(err, core.ErrDuplicateIdempotencyKey) {
			q.logger.WithFields(logrus.Fields{
				"kind":  kind,
				"mode":  mode,
				"error": err,
			}).Error("failed to allocate ticket")
		}
		return nil, err
	}
	q.Emit(&core.TicketCreated{Session: sess, Mode: mode, Timestamp: time.Now()})
	return sess, nil
}

// Events returns a channel for receiving ticket events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
// After Unsubscribe returns, no further events will be sent to the channel.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	// Make a copy of the slice to avoid race conditions
	// if Events() is called while we're iterating
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}
