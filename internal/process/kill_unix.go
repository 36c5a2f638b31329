//go:build !windows

package process

import (
	"os/exec"
	"syscall"
	"time"
)

// killGracePeriod is how long a child gets between SIGTERM and SIGKILL.
const killGracePeriod = 3 * time.Second

// configureProcessGroup places the child in its own process group so that
// the entire tree (emulators, daemons, log streamers it spawns) can be
// signalled together.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateTree signals the child's process group: SIGTERM immediately, and
// SIGKILL after the grace period if the group is still alive.
func terminateTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// The group may already be gone; fall back to the direct child.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	time.AfterFunc(killGracePeriod, func() {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	})
	return nil
}
