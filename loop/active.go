package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/envkit-dev/envkit-sdk/affinity"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/future"
)

// Inline executes FromThread callables synchronously on the calling
// goroutine. It is the active loop until an application installs one.
type Inline struct{}

func (Inline) Attach() error { return nil }

func (Inline) Detach() {}

// FromThread runs fn inline; the returned future is already resolved.
func (Inline) FromThread(ctx context.Context, fn Func) *future.Future[any] {
	fut := future.New[any]()
	if !fut.SetRunningOrNotifyCancel() {
		return fut
	}
	value, err := fn(ctx)
	if err != nil {
		fut.SetError(err)
	} else {
		fut.SetResult(value)
	}
	return fut
}

// NextCycle returns a resolved future: with no loop there is no later
// cycle to wait for.
func (Inline) NextCycle(context.Context) *future.Future[any] {
	return future.Resolved[any](nil)
}

var activeLoop = struct {
	sync.Mutex
	loop      EventLoop
	installed bool
}{loop: Inline{}}

// Set installs l as the process-wide active loop. The previous loop is
// detached first; when attaching fails the inline default takes over and
// the error is returned.
func Set(l EventLoop) error {
	activeLoop.Lock()
	defer activeLoop.Unlock()

	activeLoop.loop.Detach()
	if err := l.Attach(); err != nil {
		activeLoop.loop = Inline{}
		activeLoop.installed = false
		return fmt.Errorf("attach event loop: %w", err)
	}
	activeLoop.loop = l
	activeLoop.installed = true
	return nil
}

// Reset detaches the active loop and restores the inline default. Meant
// for application shutdown and tests.
func Reset() {
	activeLoop.Lock()
	defer activeLoop.Unlock()

	activeLoop.loop.Detach()
	activeLoop.loop = Inline{}
	activeLoop.installed = false
}

// Current returns the active loop. It never fails; before any Set the
// inline default is returned.
func Current() EventLoop {
	activeLoop.Lock()
	defer activeLoop.Unlock()
	return activeLoop.loop
}

// Require returns the active loop or *errors.NoLoopError when no loop
// was ever installed. Use it for operations that must not silently fall
// back to inline execution.
func Require() (EventLoop, error) {
	activeLoop.Lock()
	defer activeLoop.Unlock()

	if !activeLoop.installed {
		return nil, &errors.NoLoopError{}
	}
	return activeLoop.loop, nil
}

// KeepEnvironment returns a callable that re-establishes the
// environment current in store at wrap time around every invocation of
// fn, and restores the invocation scope's previous binding afterwards,
// success or failure.
func KeepEnvironment(ctx context.Context, store affinity.Store, fn Func) Func {
	captured := store.Current(ctx)
	return func(callCtx context.Context) (any, error) {
		previous := store.Current(callCtx)
		bound := store.SetCurrent(callCtx, captured)
		defer store.SetCurrent(callCtx, previous)
		return fn(bound)
	}
}

// FromThread schedules fn onto the active loop, preserving the
// environment current in store on the calling goroutine. With the
// inline default the callable runs before FromThread returns.
func FromThread(ctx context.Context, store affinity.Store, fn Func) *future.Future[any] {
	return Current().FromThread(ctx, KeepEnvironment(ctx, store, fn))
}

// ToThreadPreserving offloads fn to a worker, preserving the calling
// goroutine's current environment around the work.
func ToThreadPreserving(ctx context.Context, store affinity.Store, fn Func) *future.Future[any] {
	return ToThread(ctx, Current(), KeepEnvironment(ctx, store, fn))
}
