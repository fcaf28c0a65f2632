// Package sandboxtest provides an in-memory sandbox.Runtime for tests.
//
// The fake speaks the same attach/start/wait protocol as the Docker Engine
// API: attached streams are multiplexed with 8-byte frame headers and wait
// results are only delivered after a container has been started.
package sandboxtest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Chunk is one write made by a container to stdout or stderr
type Chunk struct {
	Stream stdcopy.StdType
	Data   string
}

// Result is what a started container does
type Result struct {
	Chunks   []Chunk
	ExitCode int64
	// Hang keeps the container running until it is killed.
	Hang bool
}

// Stdout returns a Result that writes s to stdout and exits 0
func Stdout(s string) Result {
	return Result{Chunks: []Chunk{{Stream: stdcopy.Stdout, Data: s}}}
}

// Behavior decides what a container does once started
type Behavior func(c *Container) Result

// Container is the fake's record of one created container
type Container struct {
	ID         string
	Name       string
	Config     *container.Config
	HostConfig *container.HostConfig

	started chan struct{}
	killed  chan struct{}
	server  net.Conn
}

// HostDir returns the host side of the container's first bind mount
func (c *Container) HostDir() string {
	if c.HostConfig == nil || len(c.HostConfig.Binds) == 0 {
		return ""
	}
	return strings.SplitN(c.HostConfig.Binds[0], ":", 2)[0]
}

// Runtime is a fake sandbox.Runtime
type Runtime struct {
	Behavior Behavior

	CreateErr error
	AttachErr error
	StartErr  error
	WaitErr   error
	PingErr   error

	mu         sync.Mutex
	seq        int
	containers map[string]*Container
	calls      []string
	killed     []string
	removed    []string
}

// New creates a Runtime whose containers behave as b
func New(b Behavior) *Runtime {
	return &Runtime{
		Behavior:   b,
		containers: make(map[string]*Container),
	}
}

// Frame encodes payload the way the runtime frames attached output
func Frame(stream stdcopy.StdType, payload string) []byte {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stream).Write([]byte(payload))
	return buf.Bytes()
}

func (r *Runtime) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *Runtime) lookup(id string) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return nil, fmt.Errorf("Error response from daemon: No such container: %s", id)
	}
	return c, nil
}

// Calls returns the API calls made so far, in order
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Containers returns every created container
func (r *Runtime) Containers() []*Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	return out
}

// Killed returns the ids passed to ContainerKill
func (r *Runtime) Killed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.killed...)
}

// Removed returns the ids passed to ContainerRemove
func (r *Runtime) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func (r *Runtime) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	r.record("create")
	if r.CreateErr != nil {
		return container.CreateResponse{}, r.CreateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c := &Container{
		ID:         fmt.Sprintf("fake-%d", r.seq),
		Name:       containerName,
		Config:     config,
		HostConfig: hostConfig,
		started:    make(chan struct{}),
		killed:     make(chan struct{}),
	}
	r.containers[c.ID] = c
	return container.CreateResponse{ID: c.ID}, nil
}

func (r *Runtime) ContainerAttach(_ context.Context, id string, _ container.AttachOptions) (types.HijackedResponse, error) {
	r.record("attach")
	if r.AttachErr != nil {
		return types.HijackedResponse{}, r.AttachErr
	}
	c, err := r.lookup(id)
	if err != nil {
		return types.HijackedResponse{}, err
	}

	client, server := net.Pipe()
	r.mu.Lock()
	c.server = server
	r.mu.Unlock()

	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (r *Runtime) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	r.record("start")
	if r.StartErr != nil {
		return r.StartErr
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	close(c.started)
	return nil
}

func (r *Runtime) ContainerWait(ctx context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	r.record("wait")
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	if r.WaitErr != nil {
		errCh <- r.WaitErr
		return waitCh, errCh
	}
	c, err := r.lookup(id)
	if err != nil {
		errCh <- err
		return waitCh, errCh
	}

	go func() {
		select {
		case <-c.started:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}

		res := Result{}
		if r.Behavior != nil {
			res = r.Behavior(c)
		}

		r.mu.Lock()
		server := c.server
		r.mu.Unlock()

		if res.Hang {
			select {
			case <-c.killed:
				if server != nil {
					_ = server.Close()
				}
				waitCh <- container.WaitResponse{StatusCode: 137}
			case <-ctx.Done():
				errCh <- ctx.Err()
			}
			return
		}

		if server != nil {
			for _, chunk := range res.Chunks {
				if _, err := stdcopy.NewStdWriter(server, chunk.Stream).Write([]byte(chunk.Data)); err != nil {
					break
				}
			}
			_ = server.Close()
		}
		waitCh <- container.WaitResponse{StatusCode: res.ExitCode}
	}()

	return waitCh, errCh
}

func (r *Runtime) ContainerKill(_ context.Context, id, _ string) error {
	r.record("kill")
	c, err := r.lookup(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, id)
	select {
	case <-c.killed:
	default:
		close(c.killed)
	}
	return nil
}

func (r *Runtime) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	r.record("remove")
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[id]; !ok {
		return errors.New("Error response from daemon: No such container: " + id)
	}
	r.removed = append(r.removed, id)
	return nil
}

func (r *Runtime) Ping(_ context.Context) (types.Ping, error) {
	if r.PingErr != nil {
		return types.Ping{}, r.PingErr
	}
	return types.Ping{APIVersion: "1.47", OSType: "linux"}, nil
}

func (r *Runtime) Close() error {
	return nil
}
