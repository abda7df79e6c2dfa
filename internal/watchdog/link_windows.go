//go:build windows

package watchdog

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// detachSysProcAttr hides the watchdog's console and gives it its own process
// group so console control events aimed at the supervisor skip it.
func detachSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}
