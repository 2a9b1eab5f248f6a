// Package script loads opaque source into an environment and runs it
// through the host runtime, exposing the outcome as a future.
package script

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/future"
	"github.com/envkit-dev/envkit-sdk/loop"
	"github.com/envkit-dev/envkit-sdk/policy"
)

// validate is a package-level singleton for better performance.
// Creating a new validator on each call is expensive; reusing is recommended.
var validate = validator.New()

type config struct {
	Inline  bool
	WorkDir string       `validate:"omitempty,dir"`
	Logger  *slog.Logger `validate:"-"`
}

func defaultConfig() config {
	return config{Logger: slog.Default()}
}

// Option configures a Script.
type Option func(*config)

// WithInline makes Run execute synchronously on the calling goroutine
// instead of offloading to a worker.
func WithInline() Option {
	return func(c *config) { c.Inline = true }
}

// WithWorkDir changes the process working directory for the duration of
// the run and restores it afterwards. The working directory is process
// wide; running scripts with different WorkDirs concurrently is unsafe.
func WithWorkDir(dir string) Option {
	return func(c *config) { c.WorkDir = dir }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.Logger = logger }
}

// Script runs one Source in one environment, exactly once.
type Script struct {
	source entities.Source
	env    *policy.ManagedEnvironment
	ownEnv bool
	cfg    config

	once sync.Once
	fut  *future.Future[any]

	mu       sync.Mutex
	state    entities.ScriptState
	bindings map[string]any
}

// New wraps source for execution in env. The caller keeps ownership of
// env; Dispose will not release it.
func New(source entities.Source, env *policy.ManagedEnvironment, opts ...Option) (*Script, error) {
	return newScript(source, env, false, opts)
}

// NewWithPolicy allocates a fresh environment from pol and wraps source
// for execution in it. The Script owns that environment and disposes it
// with itself.
func NewWithPolicy(ctx context.Context, source entities.Source, pol *policy.Policy, opts ...Option) (*Script, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, err
	}

	env, err := pol.NewEnvironment(ctx)
	if err != nil {
		return nil, err
	}
	return &Script{source: source, env: env, ownEnv: true, cfg: cfg}, nil
}

func newScript(source entities.Source, env *policy.ManagedEnvironment, own bool, opts []Option) (*Script, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, err
	}
	return &Script{source: source, env: env, ownEnv: own, cfg: cfg}, nil
}

// Environment returns the environment this script runs in.
func (s *Script) Environment() *policy.ManagedEnvironment {
	return s.env
}

// State reports where the script is in its lifecycle.
func (s *Script) State() entities.ScriptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run begins execution exactly once and returns its future. Later calls
// return the same future without re-executing. Failures raised by the
// executed code surface as *errors.ExecutionError.
func (s *Script) Run(ctx context.Context) *future.Future[any] {
	s.once.Do(func() {
		s.mu.Lock()
		if s.state == entities.ScriptDisposed {
			s.mu.Unlock()
			s.fut = future.Rejected[any](&errors.DisposedError{Resource: "script"})
			return
		}
		s.state = entities.ScriptRunning
		s.mu.Unlock()

		run := func(callCtx context.Context) (any, error) {
			value, err := s.perform(callCtx)
			s.settle(err)
			return value, err
		}
		if s.cfg.Inline {
			s.fut = loop.Inline{}.FromThread(ctx, run)
		} else {
			s.fut = loop.ToThread(ctx, loop.Current(), run)
		}
	})
	return s.fut
}

// perform does the actual execution inside a use() scope of the target
// environment, so the host runtime's worker observes it as current.
func (s *Script) perform(ctx context.Context) (any, error) {
	runCtx, release, err := s.env.Use(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	restore, err := s.pushWorkDir()
	if err != nil {
		return nil, err
	}
	defer restore()

	handle, err := s.env.Handle()
	if err != nil {
		return nil, err
	}
	s.cfg.Logger.Debug("running script",
		slog.String("filename", s.source.Filename),
		slog.String("environment", handle.EnvironmentID()))

	result, err := s.env.Policy().Runtime().RunInEnvironment(runCtx, handle, s.source)
	if err != nil {
		return nil, errors.NewExecutionError(err)
	}

	s.env.RecordOutputs(result.Outputs)
	s.mu.Lock()
	if s.state != entities.ScriptDisposed {
		s.bindings = result.Bindings
	}
	s.mu.Unlock()
	return nil, nil
}

func (s *Script) settle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == entities.ScriptDisposed {
		return
	}
	if err != nil {
		s.state = entities.ScriptFailed
	} else {
		s.state = entities.ScriptCompleted
	}
}

func (s *Script) pushWorkDir() (func(), error) {
	if s.cfg.WorkDir == "" {
		return func() {}, nil
	}
	previous, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(s.cfg.WorkDir); err != nil {
		return nil, err
	}
	return func() {
		if err := os.Chdir(previous); err != nil {
			s.cfg.Logger.Warn("could not restore working directory",
				slog.String("dir", previous), slog.Any("error", err))
		}
	}, nil
}

// Result runs the script if needed and blocks until it settles,
// returning the failure, if any.
func (s *Script) Result(ctx context.Context) error {
	_, err := s.Run(ctx).Result(ctx)
	return err
}

// Variable returns a future for the named module binding, resolved once
// the run completes. A missing binding fails the future with
// *errors.VariableNotFoundError.
func (s *Script) Variable(ctx context.Context, name string) *future.Future[any] {
	return s.variable(ctx, name, nil, false)
}

// VariableOr is Variable with a fallback for missing bindings.
func (s *Script) VariableOr(ctx context.Context, name string, fallback any) *future.Future[any] {
	return s.variable(ctx, name, fallback, true)
}

func (s *Script) variable(ctx context.Context, name string, fallback any, haveFallback bool) *future.Future[any] {
	run := s.Run(ctx)
	fut := future.New[any]()
	go func() {
		if _, err := run.Result(ctx); err != nil {
			if fut.SetRunningOrNotifyCancel() {
				fut.SetError(err)
			}
			return
		}
		if !fut.SetRunningOrNotifyCancel() {
			return
		}

		s.mu.Lock()
		disposed := s.state == entities.ScriptDisposed
		value, ok := s.bindings[name]
		s.mu.Unlock()

		switch {
		case disposed:
			fut.SetError(&errors.DisposedError{Resource: "script"})
		case ok:
			fut.SetResult(value)
		case haveFallback:
			fut.SetResult(fallback)
		default:
			fut.SetError(&errors.VariableNotFoundError{Name: name})
		}
	}()
	return fut
}

// Dispose releases the module bindings and, when the script allocated
// its own environment, disposes that environment too. Disposing twice
// is a no-op. A run already started is not interrupted, but its
// bindings become unavailable.
func (s *Script) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.state == entities.ScriptDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = entities.ScriptDisposed
	s.bindings = nil
	s.mu.Unlock()

	if s.ownEnv {
		return s.env.Dispose(ctx)
	}
	return nil
}
