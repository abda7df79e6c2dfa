package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/frpmon/internal/metrics"
)

// DefaultBufferSize is the per-subscriber channel capacity used when NewBus is
// given a non-positive size.
const DefaultBufferSize = 256

// Bus fans events out to any number of subscribers. Every subscriber owns a
// bounded channel; when a subscriber cannot keep up its events are dropped and
// counted rather than blocking the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	size   int
	closed bool
}

// Subscription is a single consumer of a Bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	once    sync.Once
	dropped atomic.Uint64
}

// NewBus constructs a bus whose subscribers buffer up to size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Bus{subs: make(map[*Subscription]struct{}), size: size}
}

// Subscribe registers a new consumer. Subscribing to a closed bus yields a
// subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{bus: b, ch: make(chan Event, b.size)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Emit delivers e to every subscriber without blocking.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			metrics.IncEventDropped(string(e.Kind))
		}
	}
}

// Len reports the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Further emits are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

// C returns the channel events are delivered on. It is closed by Close or when
// the bus shuts down.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events this subscriber missed because its buffer
// was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
