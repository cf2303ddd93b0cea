//go:build windows

package runner

import "os/exec"

// Windows has no process groups in the Unix sense; the worker spawns
// no children of its own, so killing the process directly is enough.
func setProcessGroup(cmd *exec.Cmd) {}

func (e *Executor) terminate(cmd *exec.Cmd, pid int) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
