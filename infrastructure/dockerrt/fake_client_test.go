package dockerrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDockerClient struct {
	mu          sync.Mutex
	nextID      int
	imagePulls  []string
	createCalls []containerCreateCall
	startCalls  []string
	removeCalls []string
	copyToCalls []copyToCall
	execCalls   []execCall
	execStdout  []byte
	execStderr  []byte
	execExit    int
	closed      bool
}

type containerCreateCall struct {
	id     string
	config *container.Config
	name   string
}

type copyToCall struct {
	containerID string
	path        string
	data        []byte
}

type execCall struct {
	id          string
	containerID string
	options     container.ExecOptions
}

func newFakeDockerClient() *fakeDockerClient {
	return &fakeDockerClient{}
}

func (f *fakeDockerClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.imagePulls = append(f.imagePulls, ref)
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.createCalls = append(f.createCalls, containerCreateCall{id: id, config: config, name: containerName})
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	f.startCalls = append(f.startCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.copyToCalls = append(f.copyToCalls, copyToCall{containerID: containerID, path: dstPath, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("exec-%d", f.nextID)
	f.nextID++
	f.execCalls = append(f.execCalls, execCall{id: id, containerID: containerID, options: options})
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	stdout := f.execStdout
	stderr := f.execStderr
	f.mu.Unlock()

	var framed bytes.Buffer
	if len(stdout) > 0 {
		if _, err := stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write(stdout); err != nil {
			return types.HijackedResponse{}, err
		}
	}
	if len(stderr) > 0 {
		if _, err := stdcopy.NewStdWriter(&framed, stdcopy.Stderr).Write(stderr); err != nil {
			return types.HijackedResponse{}, err
		}
	}

	server, clientConn := net.Pipe()
	_ = server.Close()
	return types.NewHijackedResponse(newFakeHijackConn(clientConn, framed.Bytes()), ""), nil
}

func (f *fakeDockerClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return container.ExecInspect{ExecID: execID, ExitCode: f.execExit}, nil
}

// fakeHijackConn serves canned bytes through the net.Conn reads the
// attach reader performs.
type fakeHijackConn struct {
	net.Conn
	data *bytes.Reader
}

func newFakeHijackConn(conn net.Conn, data []byte) *fakeHijackConn {
	return &fakeHijackConn{Conn: conn, data: bytes.NewReader(data)}
}

func (c *fakeHijackConn) Read(p []byte) (int, error) {
	return c.data.Read(p)
}

func (c *fakeHijackConn) Close() error {
	return nil
}
