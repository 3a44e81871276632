package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// ErrNilOperation is reported when a job carries no operation.
var ErrNilOperation = errors.New("ingest: job has no operation")

// PanicError carries a recovered panic from an operation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Run executes op and converts every way it can end into a Completion.
// Returned errors and panics are captured; nothing escapes.
func Run(ctx context.Context, op core.Operation) (c *core.Completion) {
	c = &core.Completion{StartedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			fail(c, &PanicError{Value: r, Stack: debug.Stack()})
		}
		c.FinishedAt = time.Now()
	}()

	if op == nil {
		fail(c, ErrNilOperation)
		return c
	}

	out, err := op(ctx)
	if err != nil {
		fail(c, err)
		return c
	}

	c.Success = true
	if out != nil {
		c.Result = out.Result
		c.RowCount = out.RowCount
	}
	return c
}

// Failed builds the completion of a job that never ran.
func Failed(err error) *core.Completion {
	now := time.Now()
	c := &core.Completion{StartedAt: now, FinishedAt: now}
	fail(c, err)
	return c
}

func fail(c *core.Completion, err error) {
	c.Success = false
	c.Result = nil
	c.RowCount = nil
	c.Err = err
	c.ErrorMessage = security.SanitizeErrorMessage(err.Error())
}
