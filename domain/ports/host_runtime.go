package ports

import (
	"context"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
)

// EnvironmentDispatcher answers "which environment is current for this
// caller". A policy installs one with the host runtime; the runtime
// consults it whenever code on one of its worker threads needs the
// current environment.
type EnvironmentDispatcher interface {
	// CurrentEnvironment resolves the caller's current environment, or
	// nil when none is bound.
	CurrentEnvironment(ctx context.Context) entities.EnvironmentHandle
}

// HostRuntime is the surface the core needs from the underlying
// processing runtime. Adapters own the environments; the core only
// drives their lifecycle through this port.
type HostRuntime interface {
	// CreateEnvironment allocates a fresh isolated environment.
	CreateEnvironment(ctx context.Context) (entities.EnvironmentHandle, error)

	// DisposeEnvironment releases an environment. The handle is invalid
	// afterwards.
	DisposeEnvironment(ctx context.Context, env entities.EnvironmentHandle) error

	// RegisterPolicy installs the dispatcher as the runtime's environment
	// provider. The runtime holds a single registration slot: a second
	// registration fails with *errors.ConflictError.
	RegisterPolicy(ctx context.Context, dispatcher EnvironmentDispatcher) error

	// UnregisterPolicy releases the registration slot. Fails with
	// *errors.NotRegisteredError when the slot is empty.
	UnregisterPolicy(ctx context.Context) error

	// RunInEnvironment executes source inside the environment and reports
	// its outputs and module bindings. Failures raised by the code itself
	// come back as *errors.ScriptFault.
	RunInEnvironment(ctx context.Context, env entities.EnvironmentHandle, src entities.Source) (*entities.ExecResult, error)

	// CurrentEnvironmentOfCaller reports the environment the runtime
	// itself considers current for the calling thread, resolved through
	// the registered dispatcher when one is installed.
	CurrentEnvironmentOfCaller(ctx context.Context) entities.EnvironmentHandle
}
