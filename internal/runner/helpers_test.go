package runner

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loykin/frpmon/internal/event"
)

// recorder is an event.Emitter that keeps everything it sees.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) ofKind(k event.Kind) []event.Event {
	var out []event.Event
	for _, e := range r.snapshot() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// waitClosed blocks until n process.closed events were seen.
func (r *recorder) waitClosed(t *testing.T, n int) []event.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c := r.ofKind(event.KindClosed); len(c) >= n {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d process.closed events", n)
	return nil
}

// fakeNotifier records watchdog commands as protocol lines.
type fakeNotifier struct {
	mu   sync.Mutex
	cmds []string
}

func (f *fakeNotifier) add(s string) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, s)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) SetPID(pid int) error  { return f.add(fmt.Sprintf("SET PID %d", pid)) }
func (f *fakeNotifier) SetGroup(pg int) error { return f.add(fmt.Sprintf("SET PG %d", pg)) }
func (f *fakeNotifier) Clear() error          { return f.add("CLEAR") }

func (f *fakeNotifier) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func newTestRunner(rec *recorder, n *fakeNotifier) *Runner {
	opts := Options{PollInterval: 20 * time.Millisecond, Events: rec}
	if n != nil {
		opts.Notifier = n
	}
	return New(opts)
}
