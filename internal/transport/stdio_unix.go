//go:build !windows

package transport

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the worker in its own process group so Dispose can
// signal the whole tree (worker plus anything it spawned) instead of just
// the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the worker's entire process group.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
