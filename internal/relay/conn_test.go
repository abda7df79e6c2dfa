package relay

import (
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExpectedClose(t *testing.T) {
	assert.False(t, isExpectedClose(nil))
	assert.True(t, isExpectedClose(io.EOF))
	assert.True(t, isExpectedClose(fmt.Errorf("read: %w", net.ErrClosed)))
	assert.True(t, isExpectedClose(&net.OpError{Op: "write", Err: syscall.EPIPE}))
	assert.True(t, isExpectedClose(&net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	assert.False(t, isExpectedClose(syscall.ECONNREFUSED))
}

func TestCountingReader(t *testing.T) {
	var c CounterPair
	n, err := io.Copy(io.Discard, countingReader{r: strings.NewReader("abcdef"), n: &c.ingress})
	assert.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, uint64(6), c.Ingress())
	assert.Zero(t, c.Egress())
}

func TestConnSetRefusesAfterClose(t *testing.T) {
	var s connSet
	a, b := net.Pipe()
	defer b.Close()
	assert.True(t, s.add(a))
	s.closeAll()
	_, err := a.Write([]byte("x"))
	assert.Error(t, err)
	assert.False(t, s.add(b))
}
