// Package loop bridges host-runtime worker threads and an
// application-chosen scheduler while preserving environment affinity.
//
// An adapter only has to implement FromThread; the remaining operations
// (ToThread, NextCycle, AwaitFuture, WrapCancelled) are optional
// capabilities discovered by type assertion, with package-level defaults
// for adapters that do not provide them.
package loop

import (
	"context"

	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/future"
)

// Func is a unit of work moved across the bridge.
type Func func(ctx context.Context) (any, error)

// EventLoop is the contract a scheduler adapter must satisfy.
type EventLoop interface {
	// Attach is called when this loop becomes the process-wide active
	// loop. A failed attach leaves the inline default active.
	Attach() error

	// Detach is called when another loop takes over.
	Detach()

	// FromThread schedules fn onto the loop's home scheduler. It must be
	// callable from any goroutine, including host-runtime worker
	// threads.
	FromThread(ctx context.Context, fn Func) *future.Future[any]
}

// ThreadRunner is the optional offload capability.
type ThreadRunner interface {
	// ToThread runs fn on a worker suitable for blocking work.
	ToThread(ctx context.Context, fn Func) *future.Future[any]
}

// Cycler is the optional yield capability.
type Cycler interface {
	// NextCycle resolves on a later scheduling turn of the loop.
	NextCycle(ctx context.Context) *future.Future[any]
}

// FutureAwaiter is the optional capability to adapt a future into the
// loop's native waiting primitive.
type FutureAwaiter interface {
	AwaitFuture(ctx context.Context, fut *future.Future[any]) (any, error)
}

// CancelTranslator is the optional capability to translate the core's
// cancellation error into the loop ecosystem's native one.
type CancelTranslator interface {
	WrapCancelled(err error) error
}

// SpawnThread is the default ToThread strategy: a dedicated goroutine
// per call.
func SpawnThread(ctx context.Context, fn Func) *future.Future[any] {
	fut := future.New[any]()
	go func() {
		if !fut.SetRunningOrNotifyCancel() {
			return
		}
		value, err := fn(ctx)
		if err != nil {
			fut.SetError(err)
			return
		}
		fut.SetResult(value)
	}()
	return fut
}

// ToThread offloads fn through the loop's ThreadRunner capability,
// falling back to SpawnThread.
func ToThread(ctx context.Context, l EventLoop, fn Func) *future.Future[any] {
	if runner, ok := l.(ThreadRunner); ok {
		return runner.ToThread(ctx, fn)
	}
	return SpawnThread(ctx, fn)
}

// NextCycle yields to the loop, defaulting to a FromThread round-trip.
func NextCycle(ctx context.Context, l EventLoop) *future.Future[any] {
	if cycler, ok := l.(Cycler); ok {
		return cycler.NextCycle(ctx)
	}
	return l.FromThread(ctx, func(context.Context) (any, error) {
		return nil, nil
	})
}

// AwaitFuture waits for fut through the loop's FutureAwaiter
// capability, defaulting to a blocking wait.
func AwaitFuture(ctx context.Context, l EventLoop, fut *future.Future[any]) (any, error) {
	if awaiter, ok := l.(FutureAwaiter); ok {
		return awaiter.AwaitFuture(ctx, fut)
	}
	return fut.Result(ctx)
}

// WrapCancelled translates the core's cancellation error for the loop,
// defaulting to context.Canceled.
func WrapCancelled(l EventLoop, err error) error {
	if translator, ok := l.(CancelTranslator); ok {
		return translator.WrapCancelled(err)
	}
	if errors.IsCancelled(err) {
		return context.Canceled
	}
	return err
}
