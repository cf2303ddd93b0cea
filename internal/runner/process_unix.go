//go:build unix

package runner

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes the worker the leader of a fresh process group
// so the whole subtree can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate escalates: SIGTERM the group, wait the grace period, probe,
// then SIGKILL whatever survived.
func (e *Executor) terminate(cmd *exec.Cmd, pid int) {
	if cmd.Process == nil {
		return
	}
	// Setpgid made the child the group leader, so its pid is the pgid.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if e.logger != nil {
			e.logger.Warnw("failed to signal worker group", "pid", pid, "error", err)
		}
		cmd.Process.Kill()
		return
	}
	time.Sleep(e.grace)
	if err := unix.Kill(-pid, 0); err == nil {
		if e.logger != nil {
			e.logger.Warnw("worker group survived SIGTERM, sending SIGKILL", "pid", pid)
		}
		unix.Kill(-pid, unix.SIGKILL)
	}
}
