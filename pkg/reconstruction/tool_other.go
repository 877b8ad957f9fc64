//go:build !unix

package reconstruction

import "os/exec"

// killProcessGroup is a no-op; cancellation kills the tool process and
// WaitDelay bounds the wait for its output pipes.
func killProcessGroup(cmd *exec.Cmd) {}
