package relay

import (
	"context"
	"sync"

	"github.com/loykin/frpmon/internal/event"
)

type rate struct {
	up, down float64
}

// generation is one applied set of proxies together with their counters and
// sampler.
type generation struct {
	seq      uint64
	specs    []ProxySpec
	counters []*CounterPair

	ctx       context.Context
	cancel    context.CancelFunc
	accepting sync.WaitGroup
	sampling  sync.WaitGroup

	mu    sync.Mutex
	rates []rate
}

func newGeneration(seq uint64, specs []ProxySpec) *generation {
	g := &generation{
		seq:      seq,
		specs:    specs,
		counters: make([]*CounterPair, len(specs)),
		rates:    make([]rate, len(specs)),
	}
	for i := range g.counters {
		g.counters[i] = &CounterPair{}
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	return g
}

func (g *generation) ids() []string {
	ids := make([]string, len(g.specs))
	for i, s := range g.specs {
		ids[i] = s.ID
	}
	return ids
}

// retire closes the listeners and waits for the accept loops and the sampler.
// Connections already accepted keep running. retire on nil is a no-op.
func (g *generation) retire() {
	if g == nil {
		return
	}
	g.cancel()
	closeSpecs(g.specs)
	g.accepting.Wait()
	g.sampling.Wait()
}

func (g *generation) setRates(rs []rate) {
	g.mu.Lock()
	copy(g.rates, rs)
	g.mu.Unlock()
}

func (g *generation) snapshot() []event.Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]event.Sample, len(g.specs))
	for i, s := range g.specs {
		out[i] = event.Sample{
			ID:        s.ID,
			UpBps:     g.rates[i].up,
			DownBps:   g.rates[i].down,
			UpTotal:   g.counters[i].Ingress(),
			DownTotal: g.counters[i].Egress(),
		}
	}
	return out
}
