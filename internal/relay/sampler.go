package relay

import (
	"time"

	"github.com/loykin/frpmon/internal/event"
	"github.com/loykin/frpmon/internal/metrics"
)

type totals struct {
	up, down uint64
}

// bytesPerSecond converts a counter delta into a rate. Counters never shrink,
// but a stale prev is treated as zero movement rather than a negative rate.
func bytesPerSecond(prev, cur uint64, elapsed time.Duration) (uint64, float64) {
	if cur < prev {
		return 0, 0
	}
	d := cur - prev
	if elapsed <= 0 {
		return d, 0
	}
	return d, float64(d) / elapsed.Seconds()
}

// sample emits one traffic.sample per tick until the generation is retired.
func (r *Relay) sample(g *generation) {
	defer g.sampling.Done()
	t := time.NewTicker(r.interval)
	defer t.Stop()

	prev := make([]totals, len(g.counters))
	rates := make([]rate, len(g.counters))
	last := time.Now()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-t.C:
		}
		now := time.Now()
		elapsed := now.Sub(last)
		last = now

		samples := make([]event.Sample, len(g.specs))
		for i, c := range g.counters {
			cur := totals{up: c.Ingress(), down: c.Egress()}
			dUp, upBps := bytesPerSecond(prev[i].up, cur.up, elapsed)
			dDown, downBps := bytesPerSecond(prev[i].down, cur.down, elapsed)
			prev[i] = cur
			rates[i] = rate{up: upBps, down: downBps}
			metrics.AddRelayBytes(g.specs[i].ID, dUp, dDown)
			samples[i] = event.Sample{
				ID:        g.specs[i].ID,
				UpBps:     upBps,
				DownBps:   downBps,
				UpTotal:   cur.up,
				DownTotal: cur.down,
			}
		}
		g.setRates(rates)
		r.events.Emit(event.Traffic(samples))
	}
}
