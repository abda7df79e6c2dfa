package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestDispatchFansOutAndJoinsErrors(t *testing.T) {
	ok := &memSink{}
	bad := &memSink{err: errors.New("boom")}
	e := Event{Type: EventStart, OccurredAt: time.Now(), Record: Record{PID: 10, Exe: "frpc"}}

	err := Dispatch(context.Background(), []Sink{ok, nil, bad}, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	require.Len(t, ok.events, 1)
	assert.Equal(t, 10, ok.events[0].Record.PID)

	assert.NoError(t, Dispatch(context.Background(), nil, e))
}

func TestCloseAll(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	require.NoError(t, CloseAll([]Sink{a, b}))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewRunIDDistinguishesRecycledPids(t *testing.T) {
	t0 := time.Unix(100, 0)
	assert.NotEqual(t, NewRunID(42, t0), NewRunID(42, t0.Add(time.Nanosecond)))
	assert.Equal(t, "42-100000000000", NewRunID(42, t0))
}
