package worker

import (
	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	MaxPending int // 0 means unbounded
	Logger     logrus.FieldLogger

	OnQueued   func(sess *core.Session, position int)
	OnStart    func(sess *core.Session)
	OnComplete func(sess *core.Session, c *core.Completion, recordErr error)
}

// MaxPending caps the number of jobs waiting behind the running one.
// Values are clamped to [0, MaxPendingJobs].
func MaxPending(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MaxPending = security.ClampPending(n)
	})
}

// WithLogger sets the worker's logger.
func WithLogger(l logrus.FieldLogger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// OnQueued registers a hook called after a job was accepted.
func OnQueued(fn func(sess *core.Session, position int)) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.OnQueued = fn
	})
}

// OnStart registers a hook called before a job runs.
func OnStart(fn func(sess *core.Session)) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.OnStart = fn
	})
}

// OnComplete registers a hook called after the recorder handled a job.
func OnComplete(fn func(sess *core.Session, c *core.Completion, recordErr error)) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.OnComplete = fn
	})
}
