package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"go.uber.org/zap"
)

// killTimeout bounds the best-effort cleanup calls made after the request
// context is already done.
const killTimeout = 10 * time.Second

// Output is what a finished sandbox produced
type Output struct {
	Text     string
	ExitCode int64
	Duration time.Duration
}

// RunObserver is told when sandboxes start and finish
type RunObserver interface {
	SandboxStarted()
	SandboxFinished()
}

// Collector runs a launched sandbox to completion and gathers its output
type Collector struct {
	logger   *zap.Logger
	runtime  Runtime
	observer RunObserver
}

// CollectorOption defines a functional option for Collector
type CollectorOption func(*Collector)

// WithRunObserver sets the RunObserver for Collector
func WithRunObserver(o RunObserver) CollectorOption {
	return func(c *Collector) {
		c.observer = o
	}
}

// NewCollector creates a Collector
func NewCollector(logger *zap.Logger, runtime Runtime, opts ...CollectorOption) *Collector {
	c := &Collector{
		logger:  logger,
		runtime: runtime,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run attaches to inst, starts it and blocks until it has exited and its
// output stream is drained. When ctx is done first the container is killed
// and a LaunchError wrapping ErrTimeout (or the context error) is returned.
//
//nolint:gocyclo // one select loop over stream, wait and deadline
func (c *Collector) Run(ctx context.Context, inst *Instance) (Output, error) {
	start := time.Now()

	// Attach first so nothing written right after start is lost.
	hijack, err := c.runtime.ContainerAttach(ctx, inst.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		c.discard(inst)
		return Output{}, &LaunchError{Op: "attach container", Container: inst.Name, Err: deadlineError(err)}
	}
	defer hijack.Close()

	// Registered before start: with AutoRemove the container may be gone
	// before a later wait call would reach the daemon.
	waitCh, waitErrCh := c.runtime.ContainerWait(ctx, inst.ID, container.WaitConditionRemoved)

	if err := c.runtime.ContainerStart(ctx, inst.ID, container.StartOptions{}); err != nil {
		c.discard(inst)
		return Output{}, &LaunchError{Op: "start container", Container: inst.Name, Err: deadlineError(err)}
	}

	if c.observer != nil {
		c.observer.SandboxStarted()
		defer c.observer.SandboxFinished()
	}

	c.logger.Debug("sandbox started", zap.String("container", inst.Name))

	var raw bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		n, err := io.Copy(&raw, io.LimitReader(hijack.Reader, MaxOutputBytes+1))
		if err == nil && n > MaxOutputBytes {
			err = ErrOutputLimit
		}
		copied <- err
	}()

	var (
		exitCode  int64
		exited    bool
		drained   bool
		streamErr error
	)
	for !exited || !drained {
		select {
		case res := <-waitCh:
			if res.Error != nil && res.Error.Message != "" {
				c.kill(inst)
				return Output{}, &LaunchError{Op: "wait container", Container: inst.Name, Err: errors.New(res.Error.Message)}
			}
			exitCode = res.StatusCode
			exited = true
			waitCh, waitErrCh = nil, nil

		case err := <-waitErrCh:
			if ctx.Err() != nil {
				return Output{}, c.abort(ctx, inst, start)
			}
			// The container may still be running; it must not outlive the run.
			c.kill(inst)
			return Output{}, &LaunchError{Op: "wait container", Container: inst.Name, Err: err}

		case err := <-copied:
			drained = true
			copied = nil
			if errors.Is(err, ErrOutputLimit) {
				c.kill(inst)
				return Output{}, &LaunchError{Op: "read output", Container: inst.Name,
					Err: fmt.Errorf("%w: more than %d bytes", ErrOutputLimit, MaxOutputBytes)}
			}
			streamErr = err

		case <-ctx.Done():
			return Output{}, c.abort(ctx, inst, start)
		}
	}

	if streamErr != nil {
		return Output{}, &LaunchError{Op: "read output", Container: inst.Name, Err: streamErr}
	}

	text, err := Deframe(raw.Bytes())
	if err != nil {
		return Output{}, &LaunchError{Op: "read output", Container: inst.Name, Err: err}
	}

	out := Output{
		Text:     text,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	c.logger.Debug("sandbox exited",
		zap.String("container", inst.Name),
		zap.Int64("exit_code", out.ExitCode),
		zap.Int("output_bytes", len(out.Text)),
		zap.Duration("duration", out.Duration))

	return out, nil
}

// abort kills a sandbox whose caller gave up and builds the matching error.
func (c *Collector) abort(ctx context.Context, inst *Instance, start time.Time) error {
	c.kill(inst)

	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTimeout, time.Since(start).Round(time.Millisecond))
	}
	return &LaunchError{Op: "wait container", Container: inst.Name, Err: err}
}

func (c *Collector) kill(inst *Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	if err := c.runtime.ContainerKill(ctx, inst.ID, "KILL"); err != nil {
		c.logger.Warn("failed to kill sandbox", zap.String("container", inst.Name), zap.Error(err))
		return
	}
	c.logger.Info("sandbox killed", zap.String("container", inst.Name))
}

// discard removes a container that never started; AutoRemove only applies
// once a container has run.
func (c *Collector) discard(inst *Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	if err := c.runtime.ContainerRemove(ctx, inst.ID, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Warn("failed to remove sandbox", zap.String("container", inst.Name), zap.Error(err))
	}
}
