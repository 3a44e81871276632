// Package worker runs deferred ingest and publish jobs one at a time.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/jobctx"
)

// Job pairs an operation with the session it completes.
type Job struct {
	Session *core.Session
	Op      core.Operation

	// Discard, when set, runs instead of Op if the job is never executed.
	Discard func()
}

// Abandon runs the job's Discard hook, if any.
func (j *Job) Abandon() {
	if j.Discard != nil {
		j.Discard()
	}
}

// Recorder persists the outcome of a job.
type Recorder interface {
	Record(ctx context.Context, sess *core.Session, c *core.Completion) error
}

// finished is the message sent from the execution loop to the recorder loop.
type finished struct {
	session    *core.Session
	completion *core.Completion
}

// Worker executes submitted jobs in FIFO order on exactly one goroutine
// and hands each completion to the recorder goroutine over a channel.
type Worker struct {
	recorder Recorder
	config   WorkerConfig
	logger   logrus.FieldLogger

	mu      sync.Mutex
	pending []*Job
	started bool
	stopped bool
	running *core.Session

	signal chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker that records completions with rec.
func NewWorker(rec Recorder, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	return &Worker{
		recorder: rec,
		config:   config,
		logger:   config.Logger,
		signal:   make(chan struct{}, 1),
	}
}

// Submit appends job to the queue and returns its position, 0 meaning it
// is next. Jobs submitted before Start wait until the worker starts.
func (w *Worker) Submit(job *Job) (int, error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return 0, core.ErrWorkerStopped
	}
	if w.config.MaxPending > 0 && len(w.pending) >= w.config.MaxPending {
		w.mu.Unlock()
		return 0, core.ErrQueueFull
	}
	w.pending = append(w.pending, job)
	position := len(w.pending) - 1
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}

	if w.config.OnQueued != nil {
		w.config.OnQueued(job.Session, position)
	}
	w.logger.WithFields(logrus.Fields{
		"ticket":   job.Session.Ticket,
		"kind":     job.Session.Kind,
		"position": position,
	}).Debug("job queued")
	return position, nil
}

// Pending returns the number of jobs waiting to run.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Running returns the session of the job in progress, or nil.
func (w *Worker) Running() *core.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start processes jobs until ctx is cancelled. The job in progress at that
// point runs to completion; jobs still waiting are recorded as failed.
// Start blocks until both loops have exited.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return core.ErrWorkerStopped
	}
	w.started = true
	w.mu.Unlock()

	// Jobs and records outlive the shutdown signal.
	detached := context.WithoutCancel(ctx)
	results := make(chan finished)

	w.wg.Add(2)
	go w.recordLoop(detached, results)
	go w.execLoop(ctx, detached, results)
	w.wg.Wait()

	return ctx.Err()
}

func (w *Worker) execLoop(ctx, jobCtx context.Context, results chan<- finished) {
	defer w.wg.Done()
	defer close(results)

	for {
		job := w.next(ctx)
		if job == nil {
			select {
			case <-ctx.Done():
				w.drain(results)
				return
			case <-w.signal:
				continue
			}
		}

		if w.config.OnStart != nil {
			w.config.OnStart(job.Session)
		}
		w.logger.WithFields(logrus.Fields{
			"ticket": job.Session.Ticket,
			"kind":   job.Session.Kind,
		}).Info("job started")

		c := Run(jobctx.WithSession(jobCtx, job.Session, core.ModeDeferred), job.Op)

		w.mu.Lock()
		w.running = nil
		w.mu.Unlock()

		results <- finished{session: job.Session, completion: c}
	}
}

// next pops the head of the queue unless ctx is done.
func (w *Worker) next(ctx context.Context) *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil || len(w.pending) == 0 {
		return nil
	}
	job := w.pending[0]
	w.pending[0] = nil
	w.pending = w.pending[1:]
	w.running = job.Session
	return job
}

// drain stops accepting jobs and fails the ones that never started so
// their tickets do not stay pending.
func (w *Worker) drain(results chan<- finished) {
	w.mu.Lock()
	w.stopped = true
	left := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, job := range left {
		w.logger.WithField("ticket", job.Session.Ticket).Warn("job dropped at shutdown")
		job.Abandon()
		results <- finished{session: job.Session, completion: Failed(core.ErrWorkerStopped)}
	}
}

func (w *Worker) recordLoop(ctx context.Context, results <-chan finished) {
	defer w.wg.Done()

	for f := range results {
		err := w.recorder.Record(ctx, f.session, f.completion)

		fields := logrus.Fields{
			"ticket":   f.session.Ticket,
			"kind":     f.session.Kind,
			"success":  f.completion.Success,
			"duration": f.completion.FinishedAt.Sub(f.completion.StartedAt).Round(time.Millisecond).String(),
		}
		switch {
		case err != nil:
			w.logger.WithFields(fields).WithError(err).Error("failed to record job completion")
		case !f.completion.Success:
			w.logger.WithFields(fields).WithField("error", f.completion.ErrorMessage).Warn("job failed")
		default:
			w.logger.WithFields(fields).Info("job completed")
		}

		if w.config.OnComplete != nil {
			w.config.OnComplete(f.session, f.completion, err)
		}
	}
}
