//go:build windows

package process

import (
	"os/exec"
	"strconv"
	"time"
)

const killGracePeriod = 3 * time.Second

func configureProcessGroup(cmd *exec.Cmd) {
	// Process groups are managed through taskkill on Windows.
}

// terminateTree uses taskkill to end the child and its descendants.
func terminateTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
