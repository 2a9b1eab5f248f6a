// Package affinity answers "what environment is current here?".
//
// A Store records at most one current-environment binding per scope.
// Three stores cover the usual concurrency shapes:
//
//   - GlobalStore: one slot for the whole process. The cheapest choice
//     when only one environment is ever active; concurrent mutation needs
//     external synchronization.
//   - GoroutineStore: one slot per goroutine. Bindings made on one
//     goroutine are invisible on every other.
//   - ContextStore: the binding travels inside a context.Context, so it
//     follows a logical task across goroutine hops and never leaks into
//     sibling tasks.
//
// Stores never restore previous bindings on their own; scoped switching
// belongs to ManagedEnvironment.Use.
package affinity

import (
	"context"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
)

// Store holds the current-environment binding for one scope.
type Store interface {
	// Current returns the binding for the caller's scope, or nil.
	Current(ctx context.Context) entities.EnvironmentHandle

	// SetCurrent binds env for the caller's scope. Stores that carry the
	// binding through contexts return a derived context; the others
	// return ctx unchanged. Callers must keep using the returned context.
	SetCurrent(ctx context.Context, env entities.EnvironmentHandle) context.Context

	// Clear removes the binding for the caller's scope, with the same
	// context convention as SetCurrent.
	Clear(ctx context.Context) context.Context
}
