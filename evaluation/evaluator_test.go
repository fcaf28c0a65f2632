package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/safeeval/sandbox"
	"github.com/isdmx/safeeval/sandbox/sandboxtest"
	"github.com/isdmx/safeeval/workspace"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) EvaluationFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type harness struct {
	evaluator *Evaluator
	runtime   *sandboxtest.Runtime
	root      string
	observer  *recordingObserver
}

func newHarness(t *testing.T, b sandboxtest.Behavior, timeout time.Duration) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	root := t.TempDir()
	rt := sandboxtest.New(b)
	obs := &recordingObserver{}

	e := New(logger,
		workspace.NewManager(logger, root),
		sandbox.NewLauncher(logger, rt, "safe-evaluator"),
		sandbox.NewCollector(logger, rt),
		timeout,
		WithObserver(obs))

	return &harness{evaluator: e, runtime: rt, root: root, observer: obs}
}

// assertNoWorkspaces checks that every workspace directory has been removed
func (h *harness) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace directories left behind")
}

// echoRunner behaves like the evaluator image: it reads the mounted
// workspace and prints one JSON document.
func echoRunner(c *sandboxtest.Container) sandboxtest.Result {
	code, err := os.ReadFile(filepath.Join(c.HostDir(), workspace.CodeFilename))
	if err != nil {
		return sandboxtest.Stdout(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}
	scope, err := os.ReadFile(filepath.Join(c.HostDir(), workspace.ScopeFilename))
	if err != nil {
		return sandboxtest.Stdout(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}
	return sandboxtest.Stdout(fmt.Sprintf(`{"logs": [%q], "output": %s}`, string(code), scope))
}

func validRequest() Request {
	return Request{
		Code:     "return x",
		Language: "python",
		Scope:    map[string]any{"x": 1, "y": "a"},
	}
}

func TestEvaluateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"MissingCode", func(r *Request) { r.Code = "" }, ErrMissingFields},
		{"MissingLanguage", func(r *Request) { r.Language = "" }, ErrMissingFields},
		{"MissingScope", func(r *Request) { r.Scope = nil }, ErrMissingFields},
		{"JavaScript", func(r *Request) { r.Language = "javascript" }, ErrUnsupportedLanguage},
		{"Python3", func(r *Request) { r.Language = "python3" }, ErrUnsupportedLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, echoRunner, time.Second)
			req := validRequest()
			tt.mutate(&req)

			_, err := h.evaluator.Evaluate(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)

			// no side effects
			assert.Empty(t, h.runtime.Calls())
			h.assertNoWorkspaces(t)
			assert.Equal(t, []string{"validation_error"}, h.observer.outcomes)
		})
	}
}

func TestEvaluateLanguageIsCaseInsensitive(t *testing.T) {
	for _, lang := range []string{"python", "Python", "PYTHON", "pYtHoN"} {
		t.Run(lang, func(t *testing.T) {
			h := newHarness(t, echoRunner, time.Second)
			req := validRequest()
			req.Language = lang

			_, err := h.evaluator.Evaluate(context.Background(), req)
			require.NoError(t, err)
		})
	}
}

func TestEvaluateEmptyScopeIsAccepted(t *testing.T) {
	h := newHarness(t, echoRunner, time.Second)
	req := validRequest()
	req.Scope = map[string]any{}

	resp, err := h.evaluator.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(resp.Output))
}

func TestEvaluate(t *testing.T) {
	t.Run("FramedOutput", func(t *testing.T) {
		h := newHarness(t, func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Stdout("{\"output\": 42}\n")
		}, time.Second)

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{"output": 42}`, string(data))
		h.assertNoWorkspaces(t)
		assert.Equal(t, []string{"ok"}, h.observer.outcomes)
	})

	t.Run("SandboxSeesItsWorkspace", func(t *testing.T) {
		h := newHarness(t, echoRunner, time.Second)

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, []string{"return x"}, resp.Logs)
		assert.JSONEq(t, `{"x": 1, "y": "a"}`, string(resp.Output))

		containers := h.runtime.Containers()
		require.Len(t, containers, 1)
		assert.Equal(t, h.root, filepath.Dir(containers[0].HostDir()))
		assert.Equal(t, filepath.Base(containers[0].HostDir()), containers[0].Name)
		h.assertNoWorkspaces(t)
	})

	t.Run("InvalidOutput", func(t *testing.T) {
		h := newHarness(t, func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Stdout("boom\n")
		}, time.Second)

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, "Invalid output format: boom", resp.Error)
		h.assertNoWorkspaces(t)
		assert.Equal(t, []string{"invalid_output"}, h.observer.outcomes)
	})

	t.Run("LaunchFailure", func(t *testing.T) {
		h := newHarness(t, echoRunner, time.Second)
		h.runtime.CreateErr = errors.New("Cannot connect to the Docker daemon at unix:///var/run/docker.sock")

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, "Container error: Cannot connect to the Docker daemon at unix:///var/run/docker.sock", resp.Error)
		assert.Nil(t, resp.Output)
		h.assertNoWorkspaces(t)
		assert.Equal(t, []string{"container_error"}, h.observer.outcomes)
	})

	t.Run("StartFailure", func(t *testing.T) {
		h := newHarness(t, echoRunner, time.Second)
		h.runtime.StartErr = errors.New("OCI runtime create failed")

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, "Container error: OCI runtime create failed", resp.Error)
		assert.Len(t, h.runtime.Removed(), 1)
		h.assertNoWorkspaces(t)
	})

	t.Run("Timeout", func(t *testing.T) {
		h := newHarness(t, func(*sandboxtest.Container) sandboxtest.Result {
			return sandboxtest.Result{Hang: true}
		}, 50*time.Millisecond)

		resp, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Contains(t, resp.Error, "Container error: execution timed out after")
		assert.Len(t, h.runtime.Killed(), 1)
		h.assertNoWorkspaces(t)
	})

	t.Run("WorkspaceFailure", func(t *testing.T) {
		h := newHarness(t, echoRunner, time.Second)
		require.NoError(t, os.Remove(h.root))

		_, err := h.evaluator.Evaluate(context.Background(), validRequest())
		require.Error(t, err)

		var ioErr *workspace.IOError
		require.ErrorAs(t, err, &ioErr)
		assert.Contains(t, err.Error(), "failed to create workspace")
		assert.Empty(t, h.runtime.Calls())
		assert.Equal(t, []string{"server_error"}, h.observer.outcomes)
	})
}

func TestEvaluateConcurrentRequestsAreIsolated(t *testing.T) {
	h := newHarness(t, echoRunner, 5*time.Second)

	const requests = 16
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validRequest()
			req.Code = fmt.Sprintf("return %d", i)
			req.Scope = map[string]any{"id": i}

			resp, err := h.evaluator.Evaluate(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, []string{req.Code}, resp.Logs)
			assert.JSONEq(t, fmt.Sprintf(`{"id": %d}`, i), string(resp.Output))
		}(i)
	}
	wg.Wait()

	binds := make(map[string]struct{})
	for _, c := range h.runtime.Containers() {
		binds[c.HostDir()] = struct{}{}
	}
	assert.Len(t, binds, requests)
	h.assertNoWorkspaces(t)
}
