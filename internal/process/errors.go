package process

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout is returned when the prompt did not show up in time.
	ErrHandshakeTimeout = errors.New("timed out waiting for password prompt")
	// ErrPromptMissing is returned when the process closed its output before prompting.
	ErrPromptMissing = errors.New("process output closed before password prompt")
	// ErrNonZeroExit is matched by every *ExitError.
	ErrNonZeroExit = errors.New("non-zero exit status")
	// ErrStream wraps unexpected read failures on the process output.
	ErrStream = errors.New("reading process output failed")
)

// ExitError reports a process that ran to completion with a non-zero status.
// Code is -1 when the process was terminated by a signal.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Is lets errors.Is(err, ErrNonZeroExit) match.
func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}
