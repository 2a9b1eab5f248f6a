// Package future provides the result handle used by scripts and the
// event-loop bridge. A Future resolves exactly once; every waiter
// observes the same result.
package future

import (
	"context"
	"sync"

	"github.com/envkit-dev/envkit-sdk/domain/errors"
)

// Future is a one-shot result channel. The zero value is not usable;
// construct with New, Resolved or Rejected.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	running   bool
	cancelled bool
	resolved  bool
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.SetResult(value)
	return f
}

// Rejected returns a future already failed with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.SetError(err)
	return f
}

// SetRunningOrNotifyCancel marks the future as running and reports
// whether the work should proceed. It returns false when the future was
// cancelled while still pending; the caller must then skip the work.
func (f *Future[T]) SetRunningOrNotifyCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelled {
		return false
	}
	f.running = true
	return true
}

// SetResult resolves the future. Resolutions after the first are ignored.
func (f *Future[T]) SetResult(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.value = value
	f.resolved = true
	close(f.done)
}

// SetError fails the future. Resolutions after the first are ignored.
func (f *Future[T]) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.err = err
	f.resolved = true
	close(f.done)
}

// Cancel cancels a pending future. It reports false when the work has
// already started running or the future is resolved; cancellation after
// that point is advisory only and the future resolves normally.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved || f.running {
		return false
	}
	if !f.cancelled {
		f.cancelled = true
		f.err = &errors.CancelledError{}
		f.resolved = true
		close(f.done)
	}
	return true
}

// Cancelled reports whether the future was cancelled before it started.
func (f *Future[T]) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Done returns a channel closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has a result or error.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves or ctx ends. A cancelled
// future yields *errors.CancelledError.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}
