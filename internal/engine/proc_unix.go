//go:build !windows

package engine

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcess puts the engine in its own process group so everything
// it spawns can be stopped together.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess kills the engine's whole process group.
func terminateProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return nil
	}
	// Setpgid makes the group id equal to the leader's pid.
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return cmd.Process.Kill()
}
