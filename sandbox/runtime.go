package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/isdmx/safeeval/config"
)

// Runtime is the subset of the Docker Engine API used to run sandboxes.
// *client.Client satisfies it.
type Runtime interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerWait(ctx context.Context, container string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, container, signal string) error
	ContainerRemove(ctx context.Context, container string, options container.RemoveOptions) error
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

var _ Runtime = (*client.Client)(nil)

// Backend names accepted by NewRuntime
const (
	BackendDocker = "docker"
	BackendPodman = "podman"
)

// NewRuntime creates a container runtime client based on the configuration.
// Both backends speak the Docker Engine API; podman is reached through its
// compatibility socket.
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	host := cfg.Sandbox.Host
	switch cfg.Sandbox.Backend {
	case BackendDocker:
	case BackendPodman:
		if host == "" {
			host = podmanSocket()
		}
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Sandbox.Backend, err)
	}

	logger.Info("container runtime configured",
		zap.String("backend", cfg.Sandbox.Backend),
		zap.String("host", cli.DaemonHost()))

	return cli, nil
}

// podmanSocket returns the rootless socket when XDG_RUNTIME_DIR is set and
// the rootful one otherwise.
func podmanSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "podman", "podman.sock")
	}
	return "unix:///run/podman/podman.sock"
}
