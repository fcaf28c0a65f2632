package sandbox

import (
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/safeeval/sandbox/sandboxtest"
)

func TestDeframe(t *testing.T) {
	t.Run("SingleFrame", func(t *testing.T) {
		raw := sandboxtest.Frame(stdcopy.Stdout, "{\"output\": 42}\n")
		require.Len(t, raw, 8+len("{\"output\": 42}\n"))

		text, err := Deframe(raw)
		require.NoError(t, err)
		assert.Equal(t, `{"output": 42}`, text)
	})

	t.Run("EveryFrameIsStripped", func(t *testing.T) {
		var raw []byte
		raw = append(raw, sandboxtest.Frame(stdcopy.Stdout, "line one\n")...)
		raw = append(raw, sandboxtest.Frame(stdcopy.Stderr, "line two\n")...)
		raw = append(raw, sandboxtest.Frame(stdcopy.Stdout, "line three\n")...)

		text, err := Deframe(raw)
		require.NoError(t, err)
		assert.Equal(t, "line one\nline two\nline three", text)
	})

	t.Run("TrimsWhitespace", func(t *testing.T) {
		text, err := Deframe(sandboxtest.Frame(stdcopy.Stdout, "\n\n  boom \n"))
		require.NoError(t, err)
		assert.Equal(t, "boom", text)
	})

	t.Run("Empty", func(t *testing.T) {
		text, err := Deframe(nil)
		require.NoError(t, err)
		assert.Equal(t, "", text)
	})

	t.Run("UnframedStream", func(t *testing.T) {
		_, err := Deframe([]byte("this stream has no frame headers"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to demultiplex output")
	})
}
