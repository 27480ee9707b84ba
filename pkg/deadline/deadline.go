// Package deadline composes cancellation signals for data handlers and
// registry calls.
package deadline

import (
	"context"
	"fmt"
	"time"
)

// Never returns a context that is never canceled.
func Never() context.Context {
	return context.Background()
}

// Compose derives a cancellable context from parent bounded by timeout.
// A nil parent is treated as Never. A timeout <= 0 adds no bound. The returned
// CancelFunc must always be called to release the derived context.
func Compose(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = Never()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// Join returns a context canceled when either ctx or other is done. The
// returned context keeps ctx's values and deadline.
func Join(ctx, other context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = Never()
	}
	joined, cancel := context.WithCancelCause(ctx)
	if other == nil || other.Done() == nil {
		return joined, func() { cancel(context.Canceled) }
	}
	stop := context.AfterFunc(other, func() {
		cancel(context.Cause(other))
	})
	return joined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Fired reports whether ctx has already been canceled or timed out.
func Fired(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Err returns the reason ctx fired. The cause wins over ctx.Err so a
// deadline inherited through Join still reports DeadlineExceeded.
func Err(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

type outcome[T any] struct {
	val T
	err error
}

// Run executes fn in its own goroutine and returns whichever comes first:
// fn's result or ctx firing. fn receives ctx and is expected to stop
// cooperatively; its late result is discarded.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if Fired(ctx) {
		return zero, Err(ctx)
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: &PanicError{Value: r}}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return zero, Err(ctx)
	}
}

// PanicError carries a value recovered from a panicking Run function.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
