package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Candle](10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Candle{Symbol: "Step Index", Open: 100, High: 110, Low: 90, Close: 105}

	for i, out := range []<-chan model.Candle{out1, out2} {
		select {
		case c := <-out:
			assert.Equal(t, "Step Index", c.Symbol, "out%d", i+1)
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for candle", i+1)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe()
	_ = fo.Subscribe() // never read

	var drops []int
	fo.OnDrop = func(idx int) { drops = append(drops, idx) }

	fo.Publish(1)
	<-fast
	fo.Publish(2)

	assert.Equal(t, []int{1}, drops)
	assert.Equal(t, []ChannelStat{{Len: 1, Cap: 1}, {Len: 1, Cap: 1}}, fo.ChannelStats())
}

func TestFanOut_CloseEndsSubscribers(t *testing.T) {
	fo := New[int](4)
	out := fo.Subscribe()

	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done

	_, ok := <-out
	assert.False(t, ok)

	late := fo.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	fo.Publish(1) // no panic
}

func TestSignals_Consume(t *testing.T) {
	sb := NewSignals(8)

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(1)
	ready := make(chan struct{})
	go func() {
		defer wg.Done()
		ch := sb.Subscribe()
		close(ready)
		for sig := range ch {
			mu.Lock()
			got = append(got, sig.ID)
			mu.Unlock()
		}
	}()
	<-ready

	failures := 0
	consumed := sb.Consume(context.Background(), "failing", func(context.Context, model.Signal) error {
		failures++
		return errors.New("webhook down")
	})
	require.Len(t, sb.ChannelStats(), 2, "Consume subscribes before returning")

	require.NoError(t, sb.OnSignal(context.Background(), model.Signal{ID: "a"}))
	require.NoError(t, sb.OnSignal(context.Background(), model.Signal{ID: "b"}))
	sb.Close()
	wg.Wait()
	<-consumed

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, failures, "errors do not stop consumption")
}
