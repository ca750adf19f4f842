package cmcd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// MaxTaskTimeout caps the timeout derived from a collection interval.
const MaxTaskTimeout = time.Minute

// ErrInterrupted is returned by Submit when the caller's context ends
// before the work completes.
var ErrInterrupted = errors.New("task execution interrupted")

// IsInterrupted reports whether err records work cut short by the
// caller's context rather than a failure of the work.
func IsInterrupted(err error) bool { return errors.Is(err, ErrInterrupted) }

// TimeoutError is returned by Submit when the work overruns.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %s exceeded", e.Timeout)
}

// TaskError wraps an error returned, or a panic raised, by the work
// passed to Submit.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string { return "task execution: " + e.Err.Error() }
func (e *TaskError) Cause() error  { return e.Err }
func (e *TaskError) Unwrap() error { return e.Err }

// PanicError holds a panic recovered from task work. The stack trace
// is logged when the panic is recovered.
type PanicError struct {
	Value interface{}
	Err   error
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// TimedTask runs a unit of work on its own goroutine and stops waiting
// for it after Timeout. Cancellation is best effort: the work's context
// is cancelled, but work that ignores its context keeps running after
// the caller has been released.
type TimedTask struct {
	Timeout time.Duration
}

// BoundedTimeout returns the task timeout used for a job that runs
// every interval: the interval itself, capped at MaxTaskTimeout.
func BoundedTimeout(interval time.Duration) time.Duration {
	if interval <= 0 || interval > MaxTaskTimeout {
		return MaxTaskTimeout
	}
	return interval
}

type taskResult[T any] struct {
	value T
	err   error
}

// Submit executes work under the task's timeout and returns its
// result. A timeout yields a *TimeoutError, a failure of the work a
// *TaskError, and cancellation of ctx ErrInterrupted. When the caller
// stops waiting, a result that arrives later is closed if it is an
// io.Closer.
func Submit[T any](ctx context.Context, task TimedTask, work func(context.Context) (T, error)) (T, error) {
	var zero T

	if task.Timeout <= 0 {
		return zero, errors.Errorf("invalid task timeout %s", task.Timeout)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so an abandoned goroutine can always finish
	out := make(chan taskResult[T], 1)
	go func() {
		var res taskResult[T]
		defer func() {
			if p := recover(); p != nil {
				res = taskResult[T]{err: &PanicError{
					Value: p,
					Err:   recovery.HandlePanicWithError(p, nil, "timed task"),
				}}
			}
			out <- res
		}()

		res.value, res.err = work(wctx)
	}()

	timer := time.NewTimer(task.Timeout)
	defer timer.Stop()

	select {
	case res := <-out:
		if res.err != nil {
			return zero, &TaskError{Err: res.err}
		}
		return res.value, nil
	case <-timer.C:
		go release(out)
		return zero, &TimeoutError{Timeout: task.Timeout}
	case <-ctx.Done():
		go release(out)
		return zero, errors.Wrap(ErrInterrupted, ctx.Err().Error())
	}
}

// release waits for the result of abandoned work and closes it.
func release[T any](out <-chan taskResult[T]) {
	res := <-out
	if res.err != nil {
		return
	}

	if c, ok := any(res.value).(io.Closer); ok {
		grip.Warning(message.WrapError(c.Close(), message.Fields{
			"message": "problem closing result of abandoned task",
		}))
	}
}

// Run is Submit for work without a result.
func (t TimedTask) Run(ctx context.Context, work func(context.Context) error) error {
	_, err := Submit(ctx, t, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}
