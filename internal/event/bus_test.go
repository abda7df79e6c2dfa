package event

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrderToEverySubscriber(t *testing.T) {
	b := NewBus(8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Close()
	defer s2.Close()

	b.Emit(Stdout("one"))
	b.Emit(Stdout("two"))

	for _, s := range []*Subscription{s1, s2} {
		e := <-s.C()
		assert.Equal(t, "one", e.Line)
		e = <-s.C()
		assert.Equal(t, "two", e.Line)
		assert.Equal(t, KindStdout, e.Kind)
	}
}

func TestBusEmitNeverBlocksAndCountsDrops(t *testing.T) {
	b := NewBus(2)
	s := b.Subscribe()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(Stderr("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	assert.Equal(t, uint64(8), s.Dropped())
	assert.Len(t, s.C(), 2)
}

func TestBusCloseClosesSubscriptions(t *testing.T) {
	b := NewBus(1)
	s := b.Subscribe()
	b.Close()
	_, ok := <-s.C()
	assert.False(t, ok)

	// emits after close are ignored, late subscribers get a closed channel
	b.Emit(Error("late"))
	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)

	// double close is harmless
	s.Close()
	b.Close()
}

func TestSubscriptionCloseUnsubscribes(t *testing.T) {
	b := NewBus(1)
	s := b.Subscribe()
	require.Equal(t, 1, b.Len())
	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Len())
	b.Emit(Stdout("ignored"))
}

func TestBusConcurrentEmitAndUnsubscribe(t *testing.T) {
	b := NewBus(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Subscribe()
			for j := 0; j < 50; j++ {
				b.Emit(Stdout("l"))
			}
			s.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}

func TestPayloadShapes(t *testing.T) {
	code := 3
	raw, err := json.Marshal(Closed(&code).Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":3}`, string(raw))

	raw, err = json.Marshal(Closed(nil).Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":null}`, string(raw))

	raw, err = json.Marshal(Traffic(nil).Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	raw, err = json.Marshal(Traffic([]Sample{{ID: "p1", UpBps: 2, UpTotal: 4}}).Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1","up_bps":2,"down_bps":0,"up_total":4,"down_total":0}]`, string(raw))

	assert.Equal(t, "hello", Stdout("hello").Payload())
}
