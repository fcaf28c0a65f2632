package sandbox

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is wrapped by a LaunchError when the run deadline expires.
	ErrTimeout = errors.New("execution timed out")
	// ErrOutputLimit is wrapped by a LaunchError when output exceeds MaxOutputBytes.
	ErrOutputLimit = errors.New("output limit exceeded")
)

// LaunchError reports a failure to create, start, attach to or wait for a
// sandbox. Its message is the runtime's own; Op and Container are for logs.
type LaunchError struct {
	Op        string
	Container string
	Err       error
}

func (e *LaunchError) Error() string {
	return e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// deadlineError reports an expired run deadline as ErrTimeout
func deadlineError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
