//go:build unix

package reconstruction

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the tool in its own process group and makes
// context cancellation kill the whole group.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
