// Package supervisor holds the shared state of a frpmon daemon: the runner
// with its child handle, the watchdog link and the relay. Every outer surface
// (facade, HTTP API, CLI) goes through a Supervisor.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/history"
	"github.com/loykin/frpmon/internal/metrics"
	"github.com/loykin/frpmon/internal/relay"
	"github.com/loykin/frpmon/internal/runner"
	"github.com/loykin/frpmon/internal/watchdog"
)

// WatchdogOptions controls the crash-cleanup watchdog process.
type WatchdogOptions struct {
	Enabled bool
	Link    watchdog.LinkOptions
}

// Options configures a Supervisor.
type Options struct {
	Watchdog       WatchdogOptions
	PollInterval   time.Duration
	SampleInterval time.Duration
	// EventBuffer is the per-subscriber channel size of the event bus.
	EventBuffer int
	History     []history.Sink
	Resources   metrics.ProcessMetricsConfig
	Logger      *slog.Logger
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Running   bool                    `json:"running"`
	PID       int                     `json:"pid"`
	Resources *metrics.ProcessMetrics `json:"resources,omitempty"`
	Proxies   []event.Sample          `json:"proxies"`
}

// CloseOptions selects how Close treats a running child.
type CloseOptions struct {
	// KeepChild detaches the watchdog and leaves the child running.
	KeepChild bool
}

type Supervisor struct {
	log      *slog.Logger
	bus      *event.Bus
	runner   *runner.Runner
	relay    *relay.Relay
	sampler  *metrics.ProcessSampler
	sinks    []history.Sink
	cancel   context.CancelFunc
	linkOpts watchdog.LinkOptions

	mu     sync.Mutex
	link   *watchdog.Link
	closed bool
}

// New builds a Supervisor and, when enabled, spawns the watchdog.
func New(opts Options) (*Supervisor, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		log:      log,
		bus:      event.NewBus(opts.EventBuffer),
		sinks:    opts.History,
		linkOpts: opts.Watchdog.Link,
	}
	if s.linkOpts.Logger == nil {
		s.linkOpts.Logger = log.With("component", "watchdog")
	}
	if opts.Watchdog.Enabled {
		link, err := watchdog.Spawn(s.linkOpts)
		if err != nil {
			return nil, err
		}
		s.link = link
	}

	s.runner = runner.New(runner.Options{
		PollInterval: opts.PollInterval,
		Events:       s.bus,
		Notifier:     linkNotifier{s},
		History:      opts.History,
		Logger:       log.With("component", "runner"),
	})
	s.relay = relay.New(relay.Options{
		SampleInterval: opts.SampleInterval,
		Events:         s.bus,
		Logger:         log.With("component", "relay"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sampler = metrics.NewProcessSampler(opts.Resources)
	if opts.Resources.Enabled {
		s.sampler.Start(ctx, s.runner.PID)
	}
	return s, nil
}

// Start launches the managed executable and returns its pid.
func (s *Supervisor) Start(spec runner.Spec) (int, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	return s.runner.Start(spec)
}

// Stop kills the managed executable. It is a no-op when nothing runs.
func (s *Supervisor) Stop() error { return s.runner.Stop() }

// Running reports whether a child handle is held.
func (s *Supervisor) Running() bool { return s.runner.Running() }

// ApplyProxies binds endpoints and makes them the active relay generation.
func (s *Supervisor) ApplyProxies(eps []relay.Endpoint) error {
	return s.relay.ApplyEndpoints(eps)
}

// ApplySpecs installs already-bound proxies.
func (s *Supervisor) ApplySpecs(specs []relay.ProxySpec) error {
	return s.relay.Apply(specs)
}

// Proxies lists the active proxies with their bound addresses.
func (s *Supervisor) Proxies() []relay.Endpoint { return s.relay.Proxies() }

// Subscribe returns a new event subscription; close it when done.
func (s *Supervisor) Subscribe() *event.Subscription { return s.bus.Subscribe() }

// Status reports the child state, a fresh resource sample of the child when
// one runs, and the relay counters.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{
		PID:     s.runner.PID(),
		Proxies: s.relay.Snapshot(),
	}
	st.Running = st.PID != 0
	if st.Running {
		m, err := s.sampler.Sample(ctx, st.PID)
		if err == nil {
			st.Resources = &m
		} else {
			s.log.Debug("resource sample failed", "pid", st.PID, "error", err)
		}
	}
	return st
}

// ResourceHistory returns the sampled resource history of the current child.
func (s *Supervisor) ResourceHistory() []metrics.ProcessMetrics { return s.sampler.History() }

// WatchdogPID returns the watchdog's pid, or 0 when none runs.
func (s *Supervisor) WatchdogPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.PID()
}

// Close shuts the supervisor down. By default the child is killed and reaped
// and the watchdog link closed with no target left. With KeepChild the
// watchdog is detached first so the child outlives the supervisor.
func (s *Supervisor) Close(ctx context.Context, opts CloseOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	link := s.link
	s.mu.Unlock()

	var errs []error
	if opts.KeepChild {
		if err := link.Detach(); err != nil {
			errs = append(errs, err)
		}
		s.log.Info("supervisor closing, child kept", "pid", s.runner.PID())
	} else {
		if err := s.runner.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := link.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.relay.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	s.sampler.Stop()
	s.bus.Close()
	if err := s.runner.FlushHistory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush history: %w", err))
	}
	if err := history.CloseAll(s.sinks); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
