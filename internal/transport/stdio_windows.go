//go:build windows

package transport

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// setProcessGroup puts the worker in its own process group (CREATE_NEW_PROCESS_GROUP)
// so Dispose can terminate the whole tree instead of just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// killProcessGroup terminates the worker process. Windows has no direct
// analogue of POSIX process-group signaling for arbitrary child trees from
// os/exec, so this falls back to terminating the direct child; any
// grandchildren are expected to exit when their stdin pipe closes.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
