//go:build !windows

package watchdog

import (
	"os/exec"
	"syscall"
)

// detachSysProcAttr puts the watchdog in its own process group so a terminal
// interrupt delivered to the supervisor's group does not reach it.
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
