package policy

import (
	"context"
	"fmt"
	"maps"
	"runtime"
	"sync"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
)

// ManagedEnvironment wraps one environment handle owned through a
// Policy. Whoever created it must Dispose it; an environment that is
// garbage collected undisposed is reported through the policy's logger.
type ManagedEnvironment struct {
	policy *Policy
	handle entities.EnvironmentHandle

	mu       sync.Mutex
	outputs  map[int]entities.Output
	disposed bool
}

func newManagedEnvironment(p *Policy, handle entities.EnvironmentHandle) *ManagedEnvironment {
	m := &ManagedEnvironment{
		policy:  p,
		handle:  handle,
		outputs: make(map[int]entities.Output),
	}
	runtime.SetFinalizer(m, (*ManagedEnvironment).finalize)
	return m
}

// Handle returns the underlying environment handle.
func (m *ManagedEnvironment) Handle() (entities.EnvironmentHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, &errors.DisposedError{Resource: "environment"}
	}
	return m.handle, nil
}

// Policy returns the policy this environment was created from.
func (m *ManagedEnvironment) Policy() *Policy {
	return m.policy
}

// Switch binds this environment as current without remembering the
// previous binding; nothing is restored afterwards. Prefer Use.
func (m *ManagedEnvironment) Switch(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ctx, &errors.DisposedError{Resource: "environment"}
	}
	handle := m.handle
	m.mu.Unlock()

	return m.policy.dispatcher.setEnvironment(ctx, handle), nil
}

// Use binds this environment as current and returns a release function
// that restores the previous binding. Release must be called on every
// exit path; nested Use calls compose LIFO through deferred releases.
func (m *ManagedEnvironment) Use(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ctx, nil, &errors.DisposedError{Resource: "environment"}
	}
	handle := m.handle
	m.mu.Unlock()

	previous := m.policy.store.Current(ctx)
	bound := m.policy.dispatcher.setEnvironment(ctx, handle)
	release := func() {
		m.policy.dispatcher.setEnvironment(ctx, previous)
	}
	return bound, release, nil
}

// Outputs returns a snapshot of the outputs recorded so far.
func (m *ManagedEnvironment) Outputs() map[int]entities.Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.outputs)
}

// RecordOutputs merges outputs produced by a run inside this
// environment. It is called by script execution, not by applications.
func (m *ManagedEnvironment) RecordOutputs(outputs map[int]entities.Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	maps.Copy(m.outputs, outputs)
}

// Disposed reports whether Dispose has run.
func (m *ManagedEnvironment) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Dispose releases the environment with the host runtime. Calls after
// the first are no-ops.
func (m *ManagedEnvironment) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	handle := m.handle
	m.mu.Unlock()

	runtime.SetFinalizer(m, nil)
	m.policy.forget(handle)
	m.policy.logger.Debug("disposing environment", "environment", handle.EnvironmentID())

	if err := m.policy.runtime.DisposeEnvironment(ctx, handle); err != nil {
		return fmt.Errorf("dispose environment: %w", err)
	}
	return nil
}

// finalize runs when an undisposed environment becomes unreachable. The
// leak is advisory: it is reported, never fatal, and the runtime-side
// resources stay allocated.
func (m *ManagedEnvironment) finalize() {
	m.mu.Lock()
	disposed := m.disposed
	handle := m.handle
	m.mu.Unlock()

	if disposed {
		return
	}
	m.policy.logger.Warn("environment became unreachable without Dispose; runtime resources leak",
		"environment", handle.EnvironmentID())
}
