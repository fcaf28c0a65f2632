package sandbox

import (
	"context"

	"go.uber.org/zap"
)

// Instance is a created, not yet started, sandbox container
type Instance struct {
	ID   string
	Name string
}

// Launcher creates locked-down sandbox containers bound to a workspace
type Launcher struct {
	logger  *zap.Logger
	runtime Runtime
	image   string
	policy  Policy
}

// NewLauncher creates a Launcher for image. Every container it creates
// carries DefaultPolicy.
func NewLauncher(logger *zap.Logger, runtime Runtime, image string) *Launcher {
	return &Launcher{
		logger:  logger,
		runtime: runtime,
		image:   image,
		policy:  DefaultPolicy(),
	}
}

// Policy returns the isolation policy applied to every sandbox
func (l *Launcher) Policy() Policy {
	return l.policy
}

// Launch creates a sandbox container named name with hostDir bound at DataDir.
// The container removes itself once it exits after being started.
func (l *Launcher) Launch(ctx context.Context, name, hostDir string) (*Instance, error) {
	resp, err := l.runtime.ContainerCreate(ctx,
		l.policy.containerConfig(l.image),
		l.policy.hostConfig(hostDir),
		nil, nil, name)
	if err != nil {
		return nil, &LaunchError{Op: "create container", Container: name, Err: deadlineError(err)}
	}

	for _, w := range resp.Warnings {
		l.logger.Warn("container create warning", zap.String("container", name), zap.String("warning", w))
	}

	l.logger.Debug("sandbox created",
		zap.String("container", name),
		zap.String("id", resp.ID),
		zap.String("image", l.image),
		zap.String("bind", hostDir))

	return &Instance{ID: resp.ID, Name: name}, nil
}
