package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStopped indicates a run was terminated by Cancel or by its context.
var ErrStopped = errors.New("generation stopped")

// ErrBusy is returned when Run is called while another run is live.
var ErrBusy = errors.New("engine already running")

// SpawnError indicates the engine executable could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start engine %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecutionError indicates the engine exited non-zero.
type ExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("engine exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("engine exited with code %d: %s", e.ExitCode, stderr)
}

// InvalidOutputError indicates the engine succeeded but produced unusable output.
type InvalidOutputError struct {
	Reason string
}

func (e *InvalidOutputError) Error() string {
	return "invalid engine output: " + e.Reason
}

// IsStopped reports whether err means the run was cancelled.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}

// IsSpawnError reports whether err is a SpawnError.
func IsSpawnError(err error) bool {
	var target *SpawnError
	return errors.As(err, &target)
}

// IsExecutionError reports whether err is an ExecutionError.
func IsExecutionError(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

// IsInvalidOutput reports whether err is an InvalidOutputError.
func IsInvalidOutput(err error) bool {
	var target *InvalidOutputError
	return errors.As(err, &target)
}
