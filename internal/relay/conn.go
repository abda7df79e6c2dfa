package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
)

// pipe copies both directions between the client leg and the destination leg
// until both are done. EOF on one direction half-closes the opposite write
// side; any other error closes both legs.
func pipe(in, out net.Conn, c *CounterPair) error {
	errc := make(chan error, 2)
	go func() { errc <- copyHalf(out, in, &c.ingress) }()
	go func() { errc <- copyHalf(in, out, &c.egress) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && first == nil {
			first = err
			_ = in.Close()
			_ = out.Close()
		}
	}
	_ = in.Close()
	_ = out.Close()
	if first != nil && !isExpectedClose(first) {
		return first
	}
	return nil
}

func copyHalf(dst, src net.Conn, n *atomic.Uint64) error {
	if _, err := io.Copy(dst, countingReader{r: src, n: n}); err != nil {
		return err
	}
	closeWrite(dst)
	return nil
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func setNoDelay(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// isExpectedClose reports whether err is ordinary teardown: EOF, a closed
// connection, a broken pipe or a reset.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// connSet tracks live connections so Close can sever them.
type connSet struct {
	mu     sync.Mutex
	m      map[net.Conn]struct{}
	closed bool
}

// add registers c; it returns false once the set has been closed.
func (s *connSet) add(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.m == nil {
		s.m = make(map[net.Conn]struct{})
	}
	s.m[c] = struct{}{}
	return true
}

func (s *connSet) remove(c net.Conn) {
	s.mu.Lock()
	delete(s.m, c)
	s.mu.Unlock()
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	conns := make([]net.Conn, 0, len(s.m))
	for c := range s.m {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
