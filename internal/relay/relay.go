package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/metrics"
)

// DefaultSampleInterval is the traffic sampler's cadence.
const DefaultSampleInterval = time.Second

const (
	dialTimeout    = 10 * time.Second
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Options configures a Relay. Zero values are usable.
type Options struct {
	SampleInterval time.Duration
	Events         event.Emitter
	Logger         *slog.Logger
}

// Relay forwards local TCP listeners to their destinations and counts the
// bytes moved. One set of proxies (a generation) is active at a time.
type Relay struct {
	interval time.Duration
	events   event.Emitter
	log      *slog.Logger
	dialer   net.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	// applyMu serializes Apply/ApplyEndpoints/Close; mu only guards the swap.
	applyMu sync.Mutex
	mu      sync.Mutex
	cur     *generation
	seq     uint64
	closed  bool

	conns    connSet
	inflight sync.WaitGroup
	active   atomic.Int64
}

// New returns an idle Relay with no proxies.
func New(opts Options) *Relay {
	r := &Relay{
		interval: opts.SampleInterval,
		events:   opts.Events,
		log:      opts.Logger,
	}
	if r.interval <= 0 {
		r.interval = DefaultSampleInterval
	}
	if r.events == nil {
		r.events = event.Discard
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Apply replaces the active proxies with specs, taking ownership of their
// listeners. An empty set leaves the relay idle.
func (r *Relay) Apply(specs []ProxySpec) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	if err := validateSpecs(specs); err != nil {
		closeSpecs(specs)
		return err
	}
	return r.applyLocked(specs)
}

// ApplyEndpoints retires the current proxies first and then binds eps, so a
// new set may reuse the previous ports. On a bind failure the relay is left
// idle and the error returned.
func (r *Relay) ApplyEndpoints(eps []Endpoint) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	if err := ValidateEndpoints(eps); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	r.swap(nil).retire()
	specs, err := Bind(eps)
	if err != nil {
		metrics.ObserveGeneration(0)
		return err
	}
	return r.applyLocked(specs)
}

func (r *Relay) applyLocked(specs []ProxySpec) error {
	if r.isClosed() {
		closeSpecs(specs)
		return ErrClosed
	}
	r.swap(nil).retire()
	if len(specs) == 0 {
		metrics.ObserveGeneration(0)
		r.log.Info("relay idle")
		return nil
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	g := newGeneration(seq, specs)
	for i := range g.specs {
		g.accepting.Add(1)
		go r.acceptLoop(g, i)
	}
	g.sampling.Add(1)
	go r.sample(g)

	r.swap(g)
	metrics.ObserveGeneration(len(specs))
	r.log.Info("relay generation started", "generation", seq, "proxies", g.ids())
	return nil
}

// swap installs g and returns the previous generation.
func (r *Relay) swap(g *generation) *generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cur
	r.cur = g
	return old
}

func (r *Relay) current() *generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Snapshot reports totals and the last sampled rates of the active proxies.
func (r *Relay) Snapshot() []event.Sample {
	g := r.current()
	if g == nil {
		return []event.Sample{}
	}
	return g.snapshot()
}

// Proxies lists the active proxies with their bound listen addresses.
func (r *Relay) Proxies() []Endpoint {
	g := r.current()
	if g == nil {
		return []Endpoint{}
	}
	out := make([]Endpoint, len(g.specs))
	for i, s := range g.specs {
		out[i] = Endpoint{ID: s.ID, Listen: s.Listener.Addr().String(), Destination: s.Destination}
	}
	return out
}

// Active returns the number of relayed connections currently open.
func (r *Relay) Active() int { return int(r.active.Load()) }

// Close stops the active proxies, severs every in-flight connection and waits
// for their goroutines. Close is idempotent.
func (r *Relay) Close() error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.swap(nil).retire()
	r.cancel()
	r.conns.closeAll()
	r.inflight.Wait()
	metrics.ObserveGeneration(0)
	return nil
}

func (r *Relay) acceptLoop(g *generation, idx int) {
	defer g.accepting.Done()
	spec := g.specs[idx]
	delay := minAcceptDelay
	for {
		in, err := spec.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || g.ctx.Err() != nil {
				return
			}
			r.log.Warn("relay accept failed", "proxy", spec.ID, "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-g.ctx.Done():
				return
			}
			delay = min(delay*2, maxAcceptDelay)
			continue
		}
		delay = minAcceptDelay
		r.inflight.Add(1)
		go r.serve(spec, g.counters[idx], in)
	}
}

// serve relays one accepted connection. It outlives the generation that
// accepted it.
func (r *Relay) serve(spec ProxySpec, c *CounterPair, in net.Conn) {
	defer r.inflight.Done()
	peer := in.RemoteAddr().String()
	if !r.conns.add(in) {
		_ = in.Close()
		return
	}
	defer r.conns.remove(in)

	metrics.ConnOpened(spec.ID)
	r.active.Add(1)
	failed := false
	defer func() {
		r.active.Add(-1)
		metrics.ConnClosed(spec.ID, failed)
	}()

	ctx, cancel := context.WithTimeout(r.ctx, dialTimeout)
	out, err := r.dialer.DialContext(ctx, "tcp", spec.Destination)
	cancel()
	if err != nil {
		failed = true
		_ = in.Close()
		r.connFailed(&ConnError{ID: spec.ID, Peer: peer, Op: "dial", Err: err})
		return
	}
	if !r.conns.add(out) {
		_ = in.Close()
		_ = out.Close()
		return
	}
	defer r.conns.remove(out)

	setNoDelay(in)
	setNoDelay(out)
	if err := pipe(in, out, c); err != nil {
		failed = true
		r.connFailed(&ConnError{ID: spec.ID, Peer: peer, Op: "copy", Err: err})
	}
}

// connFailed logs an error that ended a single connection.
func (r *Relay) connFailed(e *ConnError) {
	r.log.Warn("relay connection failed", "proxy", e.ID, "peer", e.Peer, "op", e.Op, "error", e.Err)
}
