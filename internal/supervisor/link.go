package supervisor

import (
	"errors"

	"github.com/loykin/frpmon/internal/watchdog"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("supervisor: closed")

// linkNotifier forwards runner notifications to the watchdog link.
type linkNotifier struct{ s *Supervisor }

func (n linkNotifier) SetPID(pid int) error    { return n.s.send(watchdog.SetPIDCommand(pid)) }
func (n linkNotifier) SetGroup(pgid int) error { return n.s.send(watchdog.SetGroupCommand(pgid)) }
func (n linkNotifier) Clear() error            { return n.s.send(watchdog.ClearCommand()) }

// send writes c to the watchdog. A write failure means the watchdog died; a
// replacement is spawned and receives c, which is the latest target state.
func (s *Supervisor) send(c watchdog.Command) error {
	s.mu.Lock()
	link := s.link
	closed := s.closed
	s.mu.Unlock()
	if link == nil {
		return nil
	}
	err := link.Send(c)
	if err == nil || closed || errors.Is(err, watchdog.ErrLinkClosed) {
		return err
	}

	s.log.Warn("watchdog link broken, respawning", "error", err)
	_ = link.Close()
	fresh, serr := watchdog.Spawn(s.linkOpts)
	if serr != nil {
		return errors.Join(err, serr)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = fresh.Close()
		return err
	}
	s.link = fresh
	s.mu.Unlock()
	return fresh.Send(c)
}
