//go:build windows

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// groupsSupported reports whether the child can be tracked by process group.
const groupsSupported = false

// configureSysProcAttr starts the child without a console window and in its
// own process group so console control events aimed at the daemon skip it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// killTree terminates the child. Descendants are left to the watchdog, which
// walks the process tree on daemon exit.
func killTree(cmd *exec.Cmd, _ int) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
