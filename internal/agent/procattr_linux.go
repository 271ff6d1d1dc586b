//go:build linux

package agent

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// The agent must not outlive us, and its helpers die with it.
		Pdeathsig: syscall.SIGKILL,
		Setpgid:   true,
	}
}

// killProcessGroup kills the agent and anything it spawned.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}
