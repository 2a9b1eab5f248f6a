// Package dockerrt provides a container-backed host runtime. Each
// environment is a long-lived container of a single guest image; runs
// are execs inside it, crossing the boundary as wireformat JSON: the
// request goes in as a file, the result comes back on stdout.
package dockerrt

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/envkit-dev/envkit-sdk/domain/entities"
	"github.com/envkit-dev/envkit-sdk/domain/errors"
	"github.com/envkit-dev/envkit-sdk/domain/ports"
	"github.com/envkit-dev/envkit-sdk/wireformat"
)

const requestFile = "request.json"

// Handle identifies one container environment.
type Handle struct {
	id string
}

// EnvironmentID implements entities.EnvironmentHandle.
func (h Handle) EnvironmentID() string { return h.id }

type config struct {
	logger    *slog.Logger
	workdir   string
	command   []string
	keepalive []string
	pull      bool
}

func defaultConfig() config {
	return config{
		logger:    slog.Default(),
		workdir:   "/envkit",
		command:   []string{"/usr/local/bin/envkit-guest"},
		keepalive: []string{"sleep", "infinity"},
		pull:      true,
	}
}

// Option configures a Runtime.
type Option func(*config)

// WithLogger routes the runtime's diagnostics through the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithWorkdir sets the in-container directory the request file lands
// in.
func WithWorkdir(dir string) Option {
	return func(c *config) { c.workdir = dir }
}

// WithCommand sets the guest entry point execed for each run. The
// request file path is appended as its final argument.
func WithCommand(cmd ...string) Option {
	return func(c *config) { c.command = cmd }
}

// WithKeepalive sets the command that keeps an environment's container
// running between runs.
func WithKeepalive(cmd ...string) Option {
	return func(c *config) { c.keepalive = cmd }
}

// WithoutPull skips pulling the image, for images already present
// locally.
func WithoutPull() Option {
	return func(c *config) { c.pull = false }
}

// Runtime is a docker-backed ports.HostRuntime.
type Runtime struct {
	cli   dockerClient
	image string
	cfg   config

	pullOnce sync.Once
	pullErr  error

	mu         sync.Mutex
	containers map[string]string // environment id -> container id
	dispatcher ports.EnvironmentDispatcher
}

var _ ports.HostRuntime = (*Runtime)(nil)

// New constructs a Runtime talking to the local docker daemon.
func New(image string, opts ...Option) (*Runtime, error) {
	if image == "" {
		return nil, fmt.Errorf("docker runtime: image must not be empty")
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runtime: create client: %w", err)
	}
	return newRuntimeWithClient(cli, image, opts...), nil
}

func newRuntimeWithClient(cli dockerClient, image string, opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{
		cli:        cli,
		image:      image,
		cfg:        cfg,
		containers: make(map[string]string),
	}
}

func (r *Runtime) ensureImage(ctx context.Context) error {
	if !r.cfg.pull {
		return nil
	}
	r.pullOnce.Do(func() {
		reader, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
		if err != nil {
			r.pullErr = fmt.Errorf("pull image %q: %w", r.image, err)
			return
		}
		defer reader.Close()
		// The pull completes when the progress stream ends.
		_, r.pullErr = io.Copy(io.Discard, reader)
	})
	return r.pullErr
}

// CreateEnvironment implements ports.HostRuntime. The container stays
// up until the environment is disposed.
func (r *Runtime) CreateEnvironment(ctx context.Context) (entities.EnvironmentHandle, error) {
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	handle := Handle{id: uuid.NewString()}
	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Cmd:        r.cfg.keepalive,
		WorkingDir: r.cfg.workdir,
	}, nil, nil, nil, "envkit-"+handle.id)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		removeCtx := context.WithoutCancel(ctx)
		_ = r.cli.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start container: %w", err)
	}

	r.mu.Lock()
	r.containers[handle.id] = created.ID
	r.mu.Unlock()

	r.cfg.logger.Debug("created container environment",
		"environment", handle.id, "container", created.ID)
	return handle, nil
}

// DisposeEnvironment implements ports.HostRuntime.
func (r *Runtime) DisposeEnvironment(ctx context.Context, env entities.EnvironmentHandle) error {
	r.mu.Lock()
	containerID, ok := r.containers[env.EnvironmentID()]
	delete(r.containers, env.EnvironmentID())
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
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

// RunInEnvironment implements ports.HostRuntime.
func (r *Runtime) RunInEnvironment(ctx context.Context, env entities.EnvironmentHandle, src entities.Source) (*entities.ExecResult, error) {
	r.mu.Lock()
	containerID, ok := r.containers[env.EnvironmentID()]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env.EnvironmentID())
	}

	input, err := json.Marshal(wireformat.NewRunRequest(env, src))
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}
	archive, err := makeArchive([]fileSpec{{Name: requestFile, Data: input}})
	if err != nil {
		return nil, err
	}
	if err := r.cli.CopyToContainer(ctx, containerID, r.cfg.workdir, archive,
		container.CopyToContainerOptions{AllowOverwriteDirWithFile: true}); err != nil {
		return nil, fmt.Errorf("copy request to container: %w", err)
	}

	stdout, stderr, exitCode, err := r.exec(ctx, containerID,
		append(append([]string(nil), r.cfg.command...), path.Join(r.cfg.workdir, requestFile)))
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("guest exited with code %d: %s", exitCode, bytes.TrimSpace(stderr))
	}

	var result wireformat.RunResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &result); err != nil {
		return nil, fmt.Errorf("decode run result: %w", err)
	}
	return result.ExecResult()
}

func (r *Runtime) exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr []byte, exitCode int, err error) {
	created, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   r.cfg.workdir,
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("create exec: %w", err)
	}

	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("attach exec: %w", err)
	}
	defer attached.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attached.Reader); err != nil {
		return nil, nil, 0, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("inspect exec: %w", err)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), inspect.ExitCode, nil
}

// Close disposes every environment still open and releases the docker
// client.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	containers := make([]string, 0, len(r.containers))
	for _, id := range r.containers {
		containers = append(containers, id)
	}
	r.containers = make(map[string]string)
	r.mu.Unlock()

	var errs []error
	for _, id := range containers {
		if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			errs = append(errs, fmt.Errorf("remove container %s: %w", id, err))
		}
	}
	if err := r.cli.Close(); err != nil {
		errs = append(errs, fmt.Errorf("docker client: %w", err))
	}
	return stderrors.Join(errs...)
}
