package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/safeeval/sandbox/sandboxtest"
)

type countingRunObserver struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (c *countingRunObserver) SandboxStarted()  { c.started.Add(1) }
func (c *countingRunObserver) SandboxFinished() { c.finished.Add(1) }

func launch(t *testing.T, rt *sandboxtest.Runtime) *Instance {
	t.Helper()
	inst, err := NewLauncher(zaptest.NewLogger(t), rt, "safe-evaluator").
		Launch(context.Background(), "safe-eval-test", t.TempDir())
	require.NoError(t, err)
	return inst
}

func TestCollectorRun(t *testing.T) {
	t.Run("FramedJSON", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Stdout("{\"output\": 42}\n")
		})
		obs := &countingRunObserver{}
		c := NewCollector(zaptest.NewLogger(t), rt, WithRunObserver(obs))

		out, err := c.Run(context.Background(), launch(t, rt))
		require.NoError(t, err)
		assert.Equal(t, `{"output": 42}`, out.Text)
		assert.Equal(t, int64(0), out.ExitCode)
		assert.Positive(t, out.Duration)

		// attach and wait are in place before the container starts
		assert.Equal(t, []string{"create", "attach", "wait", "start"}, rt.Calls())
		assert.Equal(t, int32(1), obs.started.Load())
		assert.Equal(t, int32(1), obs.finished.Load())
	})

	t.Run("InterleavedStreamsKeepOrder", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Result{Chunks: []sandboxtest.Chunk{
				{Stream: stdcopy.Stdout, Data: "one\n"},
				{Stream: stdcopy.Stderr, Data: "two\n"},
				{Stream: stdcopy.Stdout, Data: "three\n"},
			}}
		})
		c := NewCollector(zaptest.NewLogger(t), rt)

		out, err := c.Run(context.Background(), launch(t, rt))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree", out.Text)
	})

	t.Run("NonZeroExitIsNotAnError", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			res := sandboxtest.Stdout(`{"error": "name 'y' is not defined", "logs": []}`)
			res.ExitCode = 1
			return res
		})
		c := NewCollector(zaptest.NewLogger(t), rt)

		out, err := c.Run(context.Background(), launch(t, rt))
		require.NoError(t, err)
		assert.Equal(t, int64(1), out.ExitCode)
		assert.Equal(t, `{"error": "name 'y' is not defined", "logs": []}`, out.Text)
	})

	t.Run("NoOutput", func(t *testing.T) {
		rt := sandboxtest.New(nil)
		c := NewCollector(zaptest.NewLogger(t), rt)

		out, err := c.Run(context.Background(), launch(t, rt))
		require.NoError(t, err)
		assert.Equal(t, "", out.Text)
	})
}

func TestCollectorFailures(t *testing.T) {
	t.Run("AttachFails", func(t *testing.T) {
		rt := sandboxtest.New(nil)
		inst := launch(t, rt)
		rt.AttachErr = errors.New("connection refused")
		c := NewCollector(zaptest.NewLogger(t), rt)

		_, err := c.Run(context.Background(), inst)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "attach container", launchErr.Op)
		assert.Equal(t, []string{inst.ID}, rt.Removed())
		assert.NotContains(t, rt.Calls(), "start")
	})

	t.Run("StartFails", func(t *testing.T) {
		rt := sandboxtest.New(nil)
		inst := launch(t, rt)
		rt.StartErr = errors.New("invalid memory limit")
		obs := &countingRunObserver{}
		c := NewCollector(zaptest.NewLogger(t), rt, WithRunObserver(obs))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_, err := c.Run(ctx, inst)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "start container", launchErr.Op)
		assert.Equal(t, "invalid memory limit", err.Error())
		assert.Equal(t, []string{inst.ID}, rt.Removed())
		assert.Equal(t, int32(0), obs.started.Load())
	})

	t.Run("WaitFails", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Result{Hang: true}
		})
		inst := launch(t, rt)
		rt.WaitErr = errors.New("unexpected EOF")
		c := NewCollector(zaptest.NewLogger(t), rt)

		_, err := c.Run(context.Background(), inst)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "wait container", launchErr.Op)
		assert.Equal(t, "unexpected EOF", err.Error())
		assert.NotErrorIs(t, err, ErrTimeout)

		// a started container is never left running once the wait is lost
		assert.Equal(t, []string{inst.ID}, rt.Killed())
	})

	t.Run("AttachDeadlineIsTimeout", func(t *testing.T) {
		rt := sandboxtest.New(nil)
		inst := launch(t, rt)
		rt.AttachErr = fmt.Errorf("Post \"http://docker/containers/x/attach\": %w", context.DeadlineExceeded)
		c := NewCollector(zaptest.NewLogger(t), rt)

		_, err := c.Run(context.Background(), inst)
		require.ErrorIs(t, err, ErrTimeout)
		assert.True(t, strings.HasPrefix(err.Error(), ErrTimeout.Error()), err.Error())
		assert.Equal(t, []string{inst.ID}, rt.Removed())
	})

	t.Run("DeadlineKillsContainer", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Result{Hang: true}
		})
		inst := launch(t, rt)
		obs := &countingRunObserver{}
		c := NewCollector(zaptest.NewLogger(t), rt, WithRunObserver(obs))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.Run(ctx, inst)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "execution timed out after")
		assert.Equal(t, []string{inst.ID}, rt.Killed())
		assert.Equal(t, int32(1), obs.finished.Load())
	})

	t.Run("CancellationKillsContainer", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Result{Hang: true}
		})
		inst := launch(t, rt)
		c := NewCollector(zaptest.NewLogger(t), rt)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := c.Run(ctx, inst)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, []string{inst.ID}, rt.Killed())
	})

	t.Run("OutputLimit", func(t *testing.T) {
		rt := sandboxtest.New(func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Stdout(strings.Repeat("x", MaxOutputBytes))
		})
		inst := launch(t, rt)
		c := NewCollector(zaptest.NewLogger(t), rt)

		_, err := c.Run(context.Background(), inst)
		assert.ErrorIs(t, err, ErrOutputLimit)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "read output", launchErr.Op)
		assert.Equal(t, []string{inst.ID}, rt.Killed())
	})
}
