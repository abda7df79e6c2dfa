package relay

import (
	"io"
	"sync/atomic"
)

// CounterPair holds a proxy's running byte totals. Ingress counts bytes read
// from clients (up), egress bytes read from the destination (down). Both only
// grow.
type CounterPair struct {
	ingress atomic.Uint64
	egress  atomic.Uint64
}

func (c *CounterPair) Ingress() uint64 { return c.ingress.Load() }
func (c *CounterPair) Egress() uint64  { return c.egress.Load() }

// countingReader adds every byte it reads to n.
type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

func (c countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n.Add(uint64(n))
	}
	return n, err
}
