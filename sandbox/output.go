package sandbox

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
)

// Deframe strips the 8-byte stream headers the runtime prepends to every
// chunk of an attached, non-TTY stream. Stdout and stderr payloads are kept
// in the order they were written. The result is trimmed of surrounding
// whitespace.
func Deframe(raw []byte) (string, error) {
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("failed to demultiplex output: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
