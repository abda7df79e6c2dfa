//go:build windows

package watchdog

import (
	"context"
	"time"

	"golang.org/x/sys/windows"
)

const groupsSupported = false

// perProcessWait bounds how long each TerminateProcess is awaited.
const perProcessWait = 50 * time.Millisecond

type treeTerminator struct {
	opts Options
}

// NewTerminator returns the platform terminator: snapshot the process table
// and terminate the target's tree deepest-first.
func NewTerminator(opts Options) Terminator {
	return treeTerminator{opts: opts.withDefaults()}
}

func (t treeTerminator) TerminateTree(target Target) {
	if target.Kind != PID || target.ID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	table, err := snapshot(ctx)
	if err != nil {
		t.opts.Logger.Debug("process snapshot failed", "error", err)
		table = nil
	}
	for _, pid := range deepestFirst(collectTree(int32(target.ID), table)) {
		terminate(uint32(pid))
	}
}

func terminate(pid uint32) {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE|windows.SYNCHRONIZE, false, pid)
	if err != nil {
		return
	}
	defer func() { _ = windows.CloseHandle(h) }()
	if err := windows.TerminateProcess(h, 1); err != nil {
		return
	}
	_, _ = windows.WaitForSingleObject(h, uint32(perProcessWait/time.Millisecond))
}
