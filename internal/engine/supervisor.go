// Package engine runs the external generation engine as a supervised subprocess.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	versionTimeout     = 10 * time.Second
	defaultWaitDelay = 2 * time.Second
)

// RunRequest describes one engine invocation.
type RunRequest struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Prompt string
}

// Result holds the captured output of a successful run.
type Result struct {
	Stdout string
	Stderr string
}

// Supervisor owns at most one live engine process.
type Supervisor struct {
	waitDelay time.Duration

	mu     sync.Mutex
	active *exec.Cmd
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{waitDelay: defaultWaitDelay}
}

// Run starts the engine, writes the prompt to its stdin and waits for it to
// exit. Output is validated before it is returned.
func (s *Supervisor) Run(ctx context.Context, req RunRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStopped, err)
	}

	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	configureProcess(cmd)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.WaitDelay = s.waitDelay

	var stdout bytes.Buffer
	stderr := &stderrLogger{}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return Result{}, &SpawnError{Path: req.Path, Err: err}
	}
	s.active = cmd
	s.mu.Unlock()

	log.Printf("engine: started %s (pid %d)", req.Path, cmd.Process.Pid)
	waitErr := cmd.Wait()
	stderr.flush()

	s.mu.Lock()
	cancelled := s.active != cmd
	if !cancelled {
		s.active = nil
	}
	s.mu.Unlock()

	if cancelled {
		log.Printf("engine: pid %d stopped", cmd.Process.Pid)
		return Result{}, ErrStopped
	}
	if waitErr != nil && ctx.Err() != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStopped, ctx.Err())
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return result, &ExecutionError{ExitCode: exitErr.ExitCode(), Stderr: result.Stderr}
		}
		return result, &ExecutionError{ExitCode: -1, Stderr: waitErr.Error()}
	}
	if err := ValidateOutput(result.Stdout); err != nil {
		return result, err
	}
	return result, nil
}

// Cancel kills the live process and everything it spawned, and reports
// whether a process was running.
func (s *Supervisor) Cancel() bool {
	s.mu.Lock()
	cmd := s.active
	s.active = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}
	if err := terminateProcess(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Printf("engine: kill pid %d: %v", cmd.Process.Pid, err)
	}
	return true
}

// Running reports whether a process is live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Available runs a version query and reports whether it succeeded.
func (s *Supervisor) Available(ctx context.Context, path string) bool {
	_, err := s.Version(ctx, path)
	if err != nil {
		log.Printf("engine: %s unavailable: %v", path, err)
		return false
	}
	return true
}

// Version returns the engine's trimmed --version output.
func (s *Supervisor) Version(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--version")
	configureProcess(cmd)
	cmd.Cancel = func() error { return terminateProcess(cmd) }
	cmd.WaitDelay = s.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExecutionError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return "", &SpawnError{Path: path, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// stderrLogger logs engine stderr line by line and keeps a copy for errors.
type stderrLogger struct {
	captured bytes.Buffer
	pending  []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.captured.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.pending[:i])); line != "" {
			log.Printf("engine: stderr: %s", line)
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *stderrLogger) flush() {
	if line := strings.TrimSpace(string(w.pending)); line != "" {
		log.Printf("engine: stderr: %s", line)
	}
	w.pending = nil
}

func (w *stderrLogger) String() string {
	return w.captured.String()
}
