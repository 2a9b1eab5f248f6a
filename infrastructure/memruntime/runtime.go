// Package memruntime provides an in-memory host runtime. It backs the
// SDK's own tests and gives applications a reference adapter: every
// environment is a bag of variables and outputs, and execution is a
// pluggable evaluation function.
package memruntime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/domain/ports"
)

// Handle identifies one in-memory environment.
type Handle struct {
	id string
}

// EnvironmentID implements entities.EnvironmentHandle.
func (h Handle) EnvironmentID() string { return h.id }

// EnvState is the mutable state of one environment, handed to the
// evaluation function while it runs.
type EnvState struct {
	Vars    map[string]any
	Outputs map[int]entities.Output
}

// EvalFunc executes source against an environment's state. Failures
// raised by the code itself should be reported as *errors.ScriptFault.
type EvalFunc func(ctx context.Context, state *EnvState, src entities.Source) error

// Runtime is an in-memory ports.HostRuntime.
type Runtime struct {
	logger *slog.Logger
	eval   EvalFunc

	mu         sync.Mutex
	envs       map[string]*EnvState
	dispatcher ports.EnvironmentDispatcher
}

var _ ports.HostRuntime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger routes the runtime's diagnostics through the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithEval replaces the directive evaluator with a custom one.
func WithEval(eval EvalFunc) Option {
	return func(r *Runtime) {
		r.eval = eval
	}
}

// New creates an empty in-memory runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		logger: slog.Default(),
		eval:   DirectiveEval,
		envs:   make(map[string]*EnvState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateEnvironment implements ports.HostRuntime.
func (r *Runtime) CreateEnvironment(_ context.Context) (entities.EnvironmentHandle, error) {
	handle := Handle{id: uuid.NewString()}

	r.mu.Lock()
	r.envs[handle.id] = &EnvState{
		Vars:    make(map[string]any),
		Outputs: make(map[int]entities.Output),
	}
	r.mu.Unlock()

	r.logger.Debug("created in-memory environment", "environment", handle.id)
	return handle, nil
}

// DisposeEnvironment implements ports.HostRuntime.
func (r *Runtime) DisposeEnvironment(_ context.Context, env entities.EnvironmentHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.envs[env.EnvironmentID()]; !ok {
		return fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}
	delete(r.envs, env.EnvironmentID())
	return nil
}

// RegisterPolicy implements ports.HostRuntime. The runtime has a single
// registration slot.
func (r *Runtime) RegisterPolicy(_ context.Context, dispatcher ports.EnvironmentDispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dispatcher != nil {
		return &errors.ConflictError{Active: fmt.Sprintf("%T", r.dispatcher)}
	}
	r.dispatcher = dispatcher
	return nil
}

// UnregisterPolicy implements ports.HostRuntime.
func (r *Runtime) UnregisterPolicy(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dispatcher == nil {
		return &errors.NotRegisteredError{}
	}
	r.dispatcher = nil
	return nil
}

// CurrentEnvironmentOfCaller implements ports.HostRuntime by consulting
// the registered dispatcher, the way the real runtime resolves the
// current environment on its worker threads.
func (r *Runtime) CurrentEnvironmentOfCaller(ctx context.Context) entities.EnvironmentHandle {
	r.mu.Lock()
	dispatcher := r.dispatcher
	r.mu.Unlock()

	if dispatcher == nil {
		return nil
	}
	return dispatcher.CurrentEnvironment(ctx)
}

// RunInEnvironment implements ports.HostRuntime.
func (r *Runtime) RunInEnvironment(ctx context.Context, env entities.EnvironmentHandle, src entities.Source) (*entities.ExecResult, error) {
	r.mu.Lock()
	state, ok := r.envs[env.EnvironmentID()]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}

	if err := r.eval(ctx, state, src); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	result := &entities.ExecResult{
		Outputs:  make(map[int]entities.Output, len(state.Outputs)),
		Bindings: make(map[string]any, len(state.Vars)),
	}
	for k, v := range state.Outputs {
		result.Outputs[k] = v
	}
	for k, v := range state.Vars {
		result.Bindings[k] = v
	}
	return result, nil
}
