//go:build !windows

package watchdog

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

const groupsSupported = true

type signalTerminator struct {
	opts  Options
	sleep func(time.Duration)
}

// NewTerminator returns the platform terminator: SIGTERM, a grace period,
// then SIGKILL to the process group or pid.
func NewTerminator(opts Options) Terminator {
	return signalTerminator{opts: opts.withDefaults(), sleep: time.Sleep}
}

func (s signalTerminator) TerminateTree(t Target) {
	switch t.Kind {
	case ProcessGroup:
		s.twoStep(-t.ID, s.opts.GroupGrace)
	case PID:
		s.twoStep(t.ID, s.opts.PIDGrace)
	}
}

// twoStep signals id (negative for a group). SIGKILL is skipped when nothing
// is left to kill.
func (s signalTerminator) twoStep(id int, grace time.Duration) {
	if id == 0 || id == -1 {
		return
	}
	if err := unix.Kill(id, unix.SIGTERM); errors.Is(err, unix.ESRCH) {
		return
	}
	s.sleep(grace)
	if err := unix.Kill(id, 0); errors.Is(err, unix.ESRCH) {
		return
	}
	if err := unix.Kill(id, unix.SIGKILL); err != nil {
		s.opts.Logger.Debug("kill failed", "id", id, "error", err)
	}
}
