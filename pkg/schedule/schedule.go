// Package schedule runs periodic maintenance tasks.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Schedule computes the next run time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse reads a five-field cron expression or a descriptor such as
// "@hourly" or "@every 15m".
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule expression")
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{schedule: s}, nil
}

// Cron creates a schedule from a cron expression and panics on error.
func Cron(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Task is a named periodic function.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// Runner executes tasks on their schedules. A task never overlaps with
// itself; a run that is due while the previous one is busy is skipped.
type Runner struct {
	logger logrus.FieldLogger
	tick   time.Duration
	now    func() time.Time

	mu    sync.Mutex
	tasks []*Task
}

// NewRunner creates a runner that checks for due tasks every tick.
func NewRunner(logger logrus.FieldLogger, tick time.Duration) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Runner{logger: logger, tick: tick, now: time.Now}
}

// Add registers a task.
func (r *Runner) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

// Start runs due tasks until ctx is cancelled and waits for running tasks
// before returning.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	tasks := append([]*Task(nil), r.tasks...)
	r.mu.Unlock()

	start := r.now()
	nextRun := make(map[*Task]time.Time, len(tasks))
	busy := make(map[*Task]bool, len(tasks))
	for _, t := range tasks {
		nextRun[t] = t.Schedule.Next(start)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done = make(chan *Task, len(tasks))
	)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case t := <-done:
			mu.Lock()
			busy[t] = false
			mu.Unlock()
		case <-ticker.C:
			now := r.now()
			for _, t := range tasks {
				if now.Before(nextRun[t]) {
					continue
				}
				nextRun[t] = t.Schedule.Next(now)

				mu.Lock()
				running := busy[t]
				busy[t] = true
				mu.Unlock()
				if running {
					r.logger.WithField("task", t.Name).Warn("previous run still busy, skipping")
					continue
				}

				wg.Add(1)
				go func(t *Task) {
					defer wg.Done()
					r.run(ctx, t)
					done <- t
				}(t)
			}
		}
	}
}

func (r *Runner) run(ctx context.Context, t *Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"task":  t.Name,
				"panic": rec,
			}).Error("scheduled task panicked")
		}
	}()

	if err := t.Run(ctx); err != nil {
		r.logger.WithField("task", t.Name).WithError(err).Error("scheduled task failed")
	}
}
