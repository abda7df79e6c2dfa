package watchdog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/frpmon/internal/metrics"
)

// ErrLinkClosed is returned by Send after Close or Detach.
var ErrLinkClosed = errors.New("watchdog: link closed")

// closeWait bounds how long Close waits for the watchdog to finish cleanup.
const closeWait = 3 * time.Second

// LinkOptions describes how to launch the watchdog process.
type LinkOptions struct {
	// Path is the executable to run; empty re-executes the current binary.
	Path string
	// Args replaces the default "watchdog --group-grace .. --pid-grace .." argv.
	Args       []string
	GroupGrace time.Duration
	PIDGrace   time.Duration
	// LogFile is passed to the watchdog as --log-file when set.
	LogFile string
	Logger  *slog.Logger
}

func (o LinkOptions) argv() []string {
	if len(o.Args) > 0 {
		return o.Args
	}
	o2 := Options{GroupGrace: o.GroupGrace, PIDGrace: o.PIDGrace}.withDefaults()
	args := []string{"watchdog",
		"--group-grace", o2.GroupGrace.String(),
		"--pid-grace", o2.PIDGrace.String(),
	}
	if o.LogFile != "" {
		args = append(args, "--log-file", o.LogFile)
	}
	return args
}

// Link is the write side of the watchdog's stdin. A nil *Link accepts every
// command and does nothing, so callers can run without a watchdog.
type Link struct {
	mu     sync.Mutex
	w      io.WriteCloser
	cmd    *exec.Cmd
	done   chan struct{}
	closed bool
	log    *slog.Logger
}

// Spawn starts the watchdog process and returns the link to it.
func Spawn(opts LinkOptions) (*Link, error) {
	path := opts.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("watchdog: locate executable: %w", err)
		}
		path = exe
	}
	// #nosec G204 -- path is our own binary or an operator-configured one
	cmd := exec.Command(path, opts.argv()...)
	detachSysProcAttr(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("watchdog: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("watchdog: start %s: %w", path, err)
	}
	l := NewLink(stdin, opts.Logger)
	l.cmd = cmd
	l.done = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(l.done)
	}()
	l.log.Info("watchdog started", "pid", cmd.Process.Pid, "path", path)
	return l, nil
}

// NewLink wraps an existing writer, typically a pipe in tests.
func NewLink(w io.WriteCloser, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{w: w, log: log}
}

// Send writes one command line.
func (l *Link) Send(c Command) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if _, err := io.WriteString(l.w, c.String()+"\n"); err != nil {
		metrics.IncWatchdogWriteError()
		return fmt.Errorf("watchdog: send %q: %w", c.String(), err)
	}
	metrics.IncWatchdogCommand(c.Name())
	return nil
}

func (l *Link) SetPID(pid int) error    { return l.Send(SetPIDCommand(pid)) }
func (l *Link) SetGroup(pgid int) error { return l.Send(SetGroupCommand(pgid)) }
func (l *Link) Clear() error            { return l.Send(ClearCommand()) }

// Detach tells the watchdog to exit without cleanup and closes the link.
func (l *Link) Detach() error {
	if l == nil {
		return nil
	}
	if err := l.Send(DetachCommand()); err != nil {
		return err
	}
	return l.Close()
}

// Close ends the stream, which makes the watchdog clean up whatever target it
// holds, and waits briefly for it to exit.
func (l *Link) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	err := l.w.Close()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(closeWait):
			l.log.Warn("watchdog did not exit after link close")
		}
	}
	return err
}

// Alive reports whether the spawned watchdog is still running. Links built
// with NewLink are alive until closed.
func (l *Link) Alive() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	closed, done := l.closed, l.done
	l.mu.Unlock()
	if closed {
		return false
	}
	if done == nil {
		return true
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// PID returns the watchdog's pid, or 0 when not spawned.
func (l *Link) PID() int {
	if l == nil || l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}
