package relay

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/frpmon/internal/event"
)

type sampleRecorder struct {
	mu      sync.Mutex
	samples [][]event.Sample
}

func (r *sampleRecorder) Emit(e event.Event) {
	if e.Kind != event.KindTraffic {
		return
	}
	r.mu.Lock()
	r.samples = append(r.samples, e.Samples)
	r.mu.Unlock()
}

func (r *sampleRecorder) all() [][]event.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]event.Sample(nil), r.samples...)
}

// echoServer copies every connection back to itself.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestRelay(t *testing.T, em event.Emitter) *Relay {
	t.Helper()
	r := New(Options{SampleInterval: 50 * time.Millisecond, Events: em})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func listenAddr(t *testing.T, r *Relay, id string) string {
	t.Helper()
	for _, p := range r.Proxies() {
		if p.ID == id {
			return p.Listen
		}
	}
	t.Fatalf("proxy %s not active", id)
	return ""
}

func roundTrip(t *testing.T, c net.Conn, payload []byte) {
	t.Helper()
	_, err := c.Write(payload)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRelayCountsEchoTraffic(t *testing.T) {
	rec := &sampleRecorder{}
	r := newTestRelay(t, rec)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "p1", Listen: "127.0.0.1:0", Destination: echoServer(t)}}))

	c, err := net.Dial("tcp", listenAddr(t, r, "p1"))
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, bytes.Repeat([]byte{'x'}, 1000))

	require.Eventually(t, func() bool {
		for _, batch := range rec.all() {
			for _, s := range batch {
				if s.ID == "p1" && s.UpTotal == 1000 && s.DownTotal == 1000 {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1000), snap[0].UpTotal)
	assert.Equal(t, uint64(1000), snap[0].DownTotal)
	for _, batch := range rec.all() {
		for _, s := range batch {
			assert.GreaterOrEqual(t, s.UpBps, 0.0)
			assert.GreaterOrEqual(t, s.DownBps, 0.0)
		}
	}
}

func TestRelayHalfClose(t *testing.T) {
	// the destination answers only after the client has finished sending
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		_, _ = c.Write([]byte("got " + string(b)))
	}()

	r := newTestRelay(t, nil)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "p1", Listen: "127.0.0.1:0", Destination: ln.Addr().String()}}))
	c, err := net.Dial("tcp", listenAddr(t, r, "p1"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.(*net.TCPConn).CloseWrite())
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	reply, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "got hello", string(reply))
}

func TestApplyEndpointsReusesPorts(t *testing.T) {
	r := newTestRelay(t, nil)
	addr := freePort(t)
	dest := echoServer(t)

	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: addr, Destination: dest}}))
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "b", Listen: addr, Destination: dest}}))

	require.Len(t, r.Proxies(), 1)
	assert.Equal(t, "b", r.Proxies()[0].ID)
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, []byte("ping"))
}

func TestApplyEmptyLeavesRelayIdle(t *testing.T) {
	r := newTestRelay(t, nil)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: echoServer(t)}}))
	addr := listenAddr(t, r, "a")

	require.NoError(t, r.ApplyEndpoints(nil))
	assert.Empty(t, r.Proxies())
	assert.Empty(t, r.Snapshot())
	assert.Nil(t, r.current())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestInFlightConnectionSurvivesRetirement(t *testing.T) {
	r := newTestRelay(t, nil)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: echoServer(t)}}))
	c, err := net.Dial("tcp", listenAddr(t, r, "a"))
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, []byte("before"))

	require.NoError(t, r.ApplyEndpoints(nil))
	roundTrip(t, c, []byte("after"))
	assert.Equal(t, 1, r.Active())

	// Close severs what retirement left running.
	require.NoError(t, r.Close())
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Equal(t, 0, r.Active())
}

func TestApplyRejectsDuplicateIDs(t *testing.T) {
	r := newTestRelay(t, nil)
	dest := echoServer(t)
	addr := freePort(t)
	err := r.ApplyEndpoints([]Endpoint{
		{ID: "a", Listen: addr, Destination: dest},
		{ID: "a", Listen: "127.0.0.1:0", Destination: dest},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
	assert.Empty(t, r.Proxies())

	// nothing was bound
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	_ = ln.Close()
}

func TestApplyTakesListenerOwnership(t *testing.T) {
	r := newTestRelay(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, r.Apply([]ProxySpec{{ID: "a", Listener: ln, Destination: echoServer(t)}}))

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	roundTrip(t, c, []byte("owned"))

	require.NoError(t, r.Apply(nil))
	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestBindFailureLeavesRelayIdle(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	r := newTestRelay(t, nil)
	dest := echoServer(t)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: dest}}))
	err = r.ApplyEndpoints([]Endpoint{
		{ID: "ok", Listen: "127.0.0.1:0", Destination: dest},
		{ID: "busy", Listen: busy.Addr().String(), Destination: dest},
	})
	require.Error(t, err)
	assert.Empty(t, r.Proxies())
}

func TestDialFailureClosesClient(t *testing.T) {
	r := newTestRelay(t, nil)
	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: freePort(t)}}))
	c, err := net.Dial("tcp", listenAddr(t, r, "a"))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.Error(t, err)

	// the proxy keeps accepting
	c2, err := net.Dial("tcp", listenAddr(t, r, "a"))
	require.NoError(t, err)
	_ = c2.Close()
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConnectionErrorsLoggedAtWarn(t *testing.T) {
	logs := &logBuffer{}
	r := New(Options{Logger: slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelWarn}))})
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: freePort(t)}}))
	c, err := net.Dial("tcp", listenAddr(t, r, "a"))
	require.NoError(t, err)
	defer c.Close()
	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "op=dial")
	}, 5*time.Second, 20*time.Millisecond)

	r.connFailed(&ConnError{ID: "a", Peer: "127.0.0.1:5555", Op: "copy", Err: errors.New("boom")})
	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "op=copy")
	assert.Contains(t, out, "proxy=a")
	assert.Contains(t, out, "peer=127.0.0.1:5555")
	assert.NotContains(t, out, "level=DEBUG")
}

func TestApplyAfterClose(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.ApplyEndpoints([]Endpoint{{ID: "a", Listen: "127.0.0.1:0", Destination: "127.0.0.1:1"}}), ErrClosed)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, r.Apply([]ProxySpec{{ID: "a", Listener: ln, Destination: "127.0.0.1:1"}}), ErrClosed)
	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestBytesPerSecond(t *testing.T) {
	d, bps := bytesPerSecond(100, 600, 500*time.Millisecond)
	assert.Equal(t, uint64(500), d)
	assert.InDelta(t, 1000.0, bps, 0.001)

	d, bps = bytesPerSecond(600, 100, time.Second)
	assert.Zero(t, d)
	assert.Zero(t, bps)

	d, bps = bytesPerSecond(0, 10, 0)
	assert.Equal(t, uint64(10), d)
	assert.Zero(t, bps)
}

func TestValidateEndpoints(t *testing.T) {
	ok := Endpoint{ID: "a", Listen: ":1", Destination: "x:2"}
	assert.NoError(t, ValidateEndpoints([]Endpoint{ok}))
	assert.NoError(t, ValidateEndpoints(nil))
	assert.Error(t, ValidateEndpoints([]Endpoint{{Listen: ":1", Destination: "x:2"}}))
	assert.Error(t, ValidateEndpoints([]Endpoint{{ID: "a", Destination: "x:2"}}))
	assert.Error(t, ValidateEndpoints([]Endpoint{{ID: "a", Listen: ":1"}}))
}
