// Package wazerort provides a WASM-backed host runtime. One guest
// module is compiled once; every environment is a freshly instantiated,
// fully isolated instance of it, and execution crosses the guest
// boundary as JSON over a packed ptr/len ABI.
//
// The guest contract: export "allocate" (size -> ptr), export "run"
// (ptr, len of a wireformat.RunRequest -> packed ptr/len of a
// wireformat.RunResult), and optionally call back into the
// "envkit_host" module for logging and environment introspection.
package wazerort

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/domain/ports"
	"github.com/envkit-dev/envkit-sdk/internal/abi"
	"github.com/envkit-dev/envkit-sdk/wireformat"
)

// HostModule is the import namespace the guest sees.
const HostModule = "envkit_host"

// Handle identifies one guest instance.
type Handle struct {
	id string
}

// EnvironmentID implements entities.EnvironmentHandle.
func (h Handle) EnvironmentID() string { return h.id }

// Runtime is a wazero-backed ports.HostRuntime.
type Runtime struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   *slog.Logger

	mu         sync.Mutex
	envs       map[string]api.Module
	dispatcher ports.EnvironmentDispatcher
}

var _ ports.HostRuntime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger *slog.Logger
	wasi   bool
}

func defaultConfig() config {
	return config{logger: slog.Default(), wasi: true}
}

// WithLogger routes the runtime's diagnostics through the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithoutWASI skips instantiating wasi_snapshot_preview1, for guests
// built without a WASI target.
func WithoutWASI() Option {
	return func(c *config) { c.wasi = false }
}

// New compiles guest and prepares the host side. Environments are not
// created yet; each CreateEnvironment instantiates the compiled module
// once more.
func New(ctx context.Context, guest []byte, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rt := wazero.NewRuntime(ctx)
	if cfg.wasi {
		wasi_snapshot_preview1.MustInstantiate(ctx, rt)
	}

	r := &Runtime{
		runtime: rt,
		logger:  cfg.logger,
		envs:    make(map[string]api.Module),
	}
	if err := r.registerHostFunctions(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, guest)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to compile guest module: %w", err)
	}
	r.compiled = compiled
	return r, nil
}

func (r *Runtime) registerHostFunctions(ctx context.Context) error {
	builder := r.runtime.NewHostModuleBuilder(HostModule)

	// current_environment lets the guest ask which environment the
	// calling work belongs to. Returns 0 when no policy resolves one.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module) uint64 {
			env := r.CurrentEnvironmentOfCaller(ctx)
			if env == nil {
				return 0
			}
			return writePacked(ctx, m, []byte(env.EnvironmentID()))
		}).
		Export("current_environment")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, packed uint64) {
			ptr, length := abi.UnpackPtrLen(packed)
			payload, ok := m.Memory().Read(ptr, length)
			if !ok {
				return
			}

			var logMsg struct {
				Level   string `json:"level"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(payload, &logMsg); err == nil {
				r.logger.Info("guest log", "level", logMsg.Level, "msg", logMsg.Message)
			} else {
				r.logger.Info("guest log (raw)", "payload", string(payload))
			}
		}).
		Export("log_message")

	_, err := builder.Instantiate(ctx)
	return err
}

// writePacked copies payload into guest memory via its allocator and
// returns the packed ptr/len, or 0 on failure.
func writePacked(ctx context.Context, m api.Module, payload []byte) uint64 {
	allocate := m.ExportedFunction("allocate")
	if allocate == nil {
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(payload)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if !m.Memory().Write(ptr, payload) {
		return 0
	}
	return abi.PackPtrLen(ptr, uint32(len(payload)))
}

// CreateEnvironment implements ports.HostRuntime. Each environment is
// its own module instance: fully isolated memory and globals.
func (r *Runtime) CreateEnvironment(ctx context.Context) (entities.EnvironmentHandle, error) {
	handle := Handle{id: uuid.NewString()}

	mod, err := r.runtime.InstantiateModule(ctx, r.compiled,
		wazero.NewModuleConfig().WithName(handle.id))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate environment: %w", err)
	}

	r.mu.Lock()
	r.envs[handle.id] = mod
	r.mu.Unlock()

	r.logger.Debug("created wasm environment", "environment", handle.id)
	return handle, nil
}

// DisposeEnvironment implements ports.HostRuntime.
func (r *Runtime) DisposeEnvironment(ctx context.Context, env entities.EnvironmentHandle) error {
	r.mu.Lock()
	mod, ok := r.envs[env.EnvironmentID()]
	delete(r.envs, env.EnvironmentID())
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}
	if err := mod.Close(ctx); err != nil {
		return fmt.Errorf("failed to close environment: %w", err)
	}
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

// CurrentEnvironmentOfCaller implements ports.HostRuntime.
func (r *Runtime) CurrentEnvironmentOfCaller(ctx context.Context) entities.EnvironmentHandle {
	r.mu.Lock()
	dispatcher := r.dispatcher
	r.mu.Unlock()

	if dispatcher == nil {
		return nil
	}
	return dispatcher.CurrentEnvironment(ctx)
}

// RunInEnvironment implements ports.HostRuntime. The request crosses
// into the guest's "run" export as JSON; the guest's reply comes back
// the same way.
func (r *Runtime) RunInEnvironment(ctx context.Context, env entities.EnvironmentHandle, src entities.Source) (*entities.ExecResult, error) {
	r.mu.Lock()
	mod, ok := r.envs[env.EnvironmentID()]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}

	input, err := json.Marshal(wireformat.NewRunRequest(env, src))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	packed, err := callRaw(ctx, mod, "run", input)
	if err != nil {
		return nil, fmt.Errorf("guest run failed: %w", err)
	}

	var result wireformat.RunResult
	if err := unmarshalPacked(mod, packed, &result); err != nil {
		return nil, fmt.Errorf("failed to decode run result: %w", err)
	}
	return result.ExecResult()
}

// Close releases the compiled module and every environment still open.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

func callRaw(ctx context.Context, mod api.Module, name string, input []byte) (uint64, error) {
	f := mod.ExportedFunction(name)
	if f == nil {
		return 0, fmt.Errorf("export %q not found", name)
	}

	var results []uint64
	var err error

	if len(input) == 0 {
		results, err = f.Call(ctx)
	} else {
		allocate := mod.ExportedFunction("allocate")
		if allocate == nil {
			return 0, fmt.Errorf("guest does not export 'allocate'")
		}
		resAlloc, errAlloc := allocate.Call(ctx, uint64(len(input)))
		if errAlloc != nil {
			return 0, fmt.Errorf("failed to allocate in guest: %w", errAlloc)
		}
		if len(resAlloc) == 0 {
			return 0, fmt.Errorf("allocate returned no results")
		}
		ptr := uint32(resAlloc[0])
		if !mod.Memory().Write(ptr, input) {
			return 0, fmt.Errorf("failed to write input to guest memory")
		}
		results, err = f.Call(ctx, uint64(ptr), uint64(len(input)))
	}

	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

func unmarshalPacked(mod api.Module, packed uint64, v any) error {
	ptr, length := abi.UnpackPtrLen(packed)
	if ptr == 0 || length == 0 {
		return fmt.Errorf("null response from guest")
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return fmt.Errorf("failed to read response from memory")
	}
	return json.Unmarshal(data, v)
}
