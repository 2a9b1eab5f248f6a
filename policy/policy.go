// Package policy implements the environment lifecycle: a Policy owns the
// host runtime's single dispatcher registration and hands out managed
// environments whose switching goes through an affinity store.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/envkit-dev/envkit-sdk/affinity"
	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/domain/ports"
)

// Policy binds an affinity store to the host runtime. At most one policy
// may hold the runtime's registration slot at a time; creating
// environments requires holding it.
type Policy struct {
	runtime    ports.HostRuntime
	store      affinity.Store
	logger     *slog.Logger
	dispatcher *dispatcher

	mu         sync.Mutex
	registered bool
	live       map[string]struct{}
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger routes the policy's diagnostics through the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// New creates a policy over the given runtime and store. The policy is
// inert until Register is called.
func New(runtime ports.HostRuntime, store affinity.Store, opts ...Option) *Policy {
	p := &Policy{
		runtime: runtime,
		store:   store,
		logger:  slog.Default(),
		live:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.dispatcher = &dispatcher{policy: p}
	return p
}

// Register installs this policy's dispatcher as the runtime's
// environment provider. Registering twice fails with
// *errors.AlreadyRegisteredError; registering while a different policy
// holds the slot fails with *errors.ConflictError.
func (p *Policy) Register(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return &errors.AlreadyRegisteredError{}
	}
	if err := p.runtime.RegisterPolicy(ctx, p.dispatcher); err != nil {
		return fmt.Errorf("register policy: %w", err)
	}
	p.registered = true
	p.logger.Debug("policy registered with host runtime")
	return nil
}

// Unregister releases the registration slot. Fails with
// *errors.NotRegisteredError when this policy does not hold it.
func (p *Policy) Unregister(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registered {
		return &errors.NotRegisteredError{}
	}
	if err := p.runtime.UnregisterPolicy(ctx); err != nil {
		return fmt.Errorf("unregister policy: %w", err)
	}
	p.registered = false
	p.logger.Debug("policy unregistered")
	return nil
}

// Registered reports whether this policy currently holds the slot.
func (p *Policy) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

// NewEnvironment asks the runtime for a fresh environment and wraps it.
// Ownership passes to the caller, who must Dispose it.
func (p *Policy) NewEnvironment(ctx context.Context) (*ManagedEnvironment, error) {
	p.mu.Lock()
	registered := p.registered
	p.mu.Unlock()
	if !registered {
		return nil, &errors.NotRegisteredError{}
	}

	handle, err := p.runtime.CreateEnvironment(ctx)
	if err != nil {
		return nil, fmt.Errorf("create environment: %w", err)
	}

	p.mu.Lock()
	p.live[handle.EnvironmentID()] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("created new environment", "environment", handle.EnvironmentID())
	return newManagedEnvironment(p, handle), nil
}

// Store returns the affinity store backing this policy.
func (p *Policy) Store() affinity.Store {
	return p.store
}

// Runtime returns the host runtime this policy drives.
func (p *Policy) Runtime() ports.HostRuntime {
	return p.runtime
}

func (p *Policy) alive(h entities.EnvironmentHandle) bool {
	if h == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[h.EnvironmentID()]
	return ok
}

func (p *Policy) forget(h entities.EnvironmentHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, h.EnvironmentID())
}

// dispatcher is the runtime-facing side of the policy. All store access
// goes through its mutex so no environment switch can interleave with a
// lookup, and bindings to environments that have been disposed are
// culled with a warning instead of being handed out.
type dispatcher struct {
	policy *Policy
	mu     sync.Mutex
}

var _ ports.EnvironmentDispatcher = (*dispatcher)(nil)

// CurrentEnvironment implements ports.EnvironmentDispatcher.
func (d *dispatcher) CurrentEnvironment(ctx context.Context) entities.EnvironmentHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.policy.store.Current(ctx)
	if current == nil {
		return nil
	}
	if !d.policy.alive(current) {
		d.policy.logger.Warn("current binding refers to a dead environment",
			"environment", current.EnvironmentID())
		d.policy.store.Clear(ctx)
		return nil
	}
	return current
}

// setEnvironment binds env (or clears, when env is nil) and returns the
// context carrying the binding.
func (d *dispatcher) setEnvironment(ctx context.Context, env entities.EnvironmentHandle) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	if env == nil {
		return d.policy.store.Clear(ctx)
	}
	if !d.policy.alive(env) {
		d.policy.logger.Warn("refusing to bind dead environment",
			"environment", env.EnvironmentID())
		return d.policy.store.Clear(ctx)
	}
	return d.policy.store.SetCurrent(ctx, env)
}
