package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/history"
	"github.com/loykin/frpmon/internal/metrics"
)

// DefaultPollInterval is the exit observer's cadence.
const DefaultPollInterval = 200 * time.Millisecond

// drainTimeout bounds how long the observer waits for buffered output after
// exit. A grandchild holding the pipes open must not delay process.closed.
const drainTimeout = time.Second

// historyTimeout bounds a single history dispatch.
const historyTimeout = 5 * time.Second

// Notifier mirrors supervision state into the watchdog.
type Notifier interface {
	SetPID(pid int) error
	SetGroup(pgid int) error
	Clear() error
}

type nopNotifier struct{}

func (nopNotifier) SetPID(int) error   { return nil }
func (nopNotifier) SetGroup(int) error { return nil }
func (nopNotifier) Clear() error       { return nil }

// Options configures a Runner. Zero values are usable.
type Options struct {
	PollInterval time.Duration
	Events       event.Emitter
	Notifier     Notifier
	History      []history.Sink
	Logger       *slog.Logger
}

// Runner supervises at most one child process.
type Runner struct {
	poll     time.Duration
	events   event.Emitter
	notifier Notifier
	sinks    []history.Sink
	log      *slog.Logger

	// opMu serializes control operations so the watchdog receives commands in
	// the same order the handle changes. mu guards cur and is never held
	// across I/O.
	opMu sync.Mutex
	mu   sync.Mutex
	cur  *handle

	// history writes run in order, each waiting for the previous one
	histMu   sync.Mutex
	histTail chan struct{}
	histWG   sync.WaitGroup
}

type handle struct {
	cmd       *exec.Cmd
	pid       int
	spec      Spec
	runID     string
	startedAt time.Time
	exited    chan struct{}
	state     *os.ProcessState
	reason    string
	pumps     sync.WaitGroup
}

// New constructs a Runner.
func New(opts Options) *Runner {
	r := &Runner{
		poll:     opts.PollInterval,
		events:   opts.Events,
		notifier: opts.Notifier,
		sinks:    opts.History,
		log:      opts.Logger,
	}
	if r.poll <= 0 {
		r.poll = DefaultPollInterval
	}
	if r.events == nil {
		r.events = event.Discard
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Start launches spec and returns the child's pid.
func (r *Runner) Start(spec Spec) (int, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.Running() {
		return 0, ErrAlreadyRunning
	}

	cmd := spec.command()
	outR, outW, err := os.Pipe()
	if err != nil {
		return 0, &SpawnError{Exe: spec.Exe, Args: spec.Args, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return 0, &SpawnError{Exe: spec.Exe, Args: spec.Args, Err: err}
	}
	// Stdin stays nil, which exec maps to the null device.
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		metrics.IncSpawnFailure()
		return 0, &SpawnError{Exe: spec.Exe, Args: spec.Args, Err: err}
	}
	// the child holds its own copies of the write ends
	closeAll(outW, errW)

	h := &handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		spec:      spec,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	h.runID = history.NewRunID(h.pid, h.startedAt)

	r.mu.Lock()
	r.cur = h
	r.mu.Unlock()

	if spec.GroupKill && groupsSupported {
		err = r.notifier.SetGroup(h.pid)
	} else {
		err = r.notifier.SetPID(h.pid)
	}
	if err != nil {
		r.log.Warn("watchdog notify failed", "pid", h.pid, "error", err)
	}

	metrics.IncStart()
	r.record(history.EventStart, h, h.startedAt)
	r.log.Info("process started", "pid", h.pid, "exe", spec.Exe, "args", spec.Args)

	stdoutTee, stderrTee, err := spec.Log.ProcessWriters(spec.Name())
	if err != nil {
		r.log.Warn("process log files unavailable", "error", err)
	}
	go func() {
		_ = cmd.Wait()
		h.state = cmd.ProcessState
		close(h.exited)
	}()
	h.pumps.Add(2)
	go r.pump(&h.pumps, outR, event.KindStdout, stdoutTee)
	go r.pump(&h.pumps, errR, event.KindStderr, stderrTee)
	go r.observe(h)
	return h.pid, nil
}

// Stop kills the running child without waiting for it and tells the watchdog
// to forget its target. It is a no-op apart from the CLEAR when nothing runs.
func (r *Runner) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var stopErr error
	r.mu.Lock()
	h := r.cur
	if h != nil {
		h.reason = history.ReasonStopped
	}
	r.mu.Unlock()

	if h != nil {
		if err := killTree(h.cmd, h.pid); err != nil {
			stopErr = &SignalError{PID: h.pid, Err: err}
			r.mu.Lock()
			if r.cur == h {
				r.cur = nil
			}
			r.mu.Unlock()
		}
		metrics.IncStop()
		r.log.Info("process stop requested", "pid", h.pid)
	}
	if err := r.notifier.Clear(); err != nil {
		r.log.Warn("watchdog notify failed", "error", err)
	}
	return stopErr
}

// Running reports whether a child handle is held.
func (r *Runner) Running() bool {
	return r.PID() != 0
}

// PID returns the held child's pid, or 0.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return r.cur.pid
}

// Shutdown kills and reaps the child without emitting process.closed.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.opMu.Lock()
	r.mu.Lock()
	h := r.cur
	r.cur = nil
	r.mu.Unlock()
	if h != nil {
		if err := killTree(h.cmd, h.pid); err != nil {
			r.log.Warn("kill on shutdown failed", "pid", h.pid, "error", err)
		}
	}
	if err := r.notifier.Clear(); err != nil {
		r.log.Debug("watchdog notify failed", "error", err)
	}
	r.opMu.Unlock()

	if h == nil {
		return nil
	}
	select {
	case <-h.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.reason = history.ReasonShutdown
	r.finish(h)
	return nil
}

// observe waits for h to exit, then releases it and emits process.closed.
func (r *Runner) observe(h *handle) {
	_ = wait.PollUntilContextCancel(context.Background(), r.poll, false, func(context.Context) (bool, error) {
		select {
		case <-h.exited:
			return true, nil
		default:
			return false, nil
		}
	})

	r.opMu.Lock()
	r.mu.Lock()
	if r.cur != h {
		r.mu.Unlock()
		r.opMu.Unlock()
		return
	}
	r.cur = nil
	if h.reason == "" {
		h.reason = history.ReasonExited
	}
	r.mu.Unlock()
	if err := r.notifier.Clear(); err != nil {
		r.log.Debug("watchdog notify failed", "error", err)
	}
	r.opMu.Unlock()

	// let the readers flush the child's last lines before announcing the exit
	drainPumps(h, drainTimeout)
	code := r.finish(h)
	r.events.Emit(event.Closed(code))
}

// finish records metrics and history for an exited handle.
func (r *Runner) finish(h *handle) *int {
	code := exitCode(h.state)
	metrics.ObserveExit(code)
	r.record(history.EventExit, h, time.Now())
	attrs := []any{"pid", h.pid, "reason", h.reason}
	if code != nil {
		attrs = append(attrs, "code", *code)
	}
	r.log.Info("process exited", attrs...)
	return code
}

func (r *Runner) record(typ history.EventType, h *handle, at time.Time) {
	if len(r.sinks) == 0 {
		return
	}
	rec := history.Record{
		RunID:     h.runID,
		PID:       h.pid,
		Exe:       h.spec.Exe,
		Args:      h.spec.Args,
		StartedAt: h.startedAt,
	}
	if typ == history.EventExit {
		rec.ExitedAt = at
		rec.ExitCode = exitCode(h.state)
		rec.Reason = h.reason
	}
	e := history.Event{Type: typ, OccurredAt: at, Record: rec}

	r.histMu.Lock()
	prev := r.histTail
	done := make(chan struct{})
	r.histTail = done
	r.histWG.Add(1)
	r.histMu.Unlock()

	go func() {
		defer r.histWG.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := history.Dispatch(ctx, r.sinks, e); err != nil {
			r.log.Warn("history dispatch failed", "type", typ, "error", err)
		}
	}()
}

// FlushHistory waits until every queued history write has finished or ctx
// is done.
func (r *Runner) FlushHistory(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.histWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exitCode is nil when the process was killed by a signal or never reaped.
func exitCode(st *os.ProcessState) *int {
	if st == nil {
		return nil
	}
	c := st.ExitCode()
	if c < 0 {
		return nil
	}
	return &c
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}
