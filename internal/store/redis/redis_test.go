package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

const sym = "Step Index"

var t0 = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return s, client
}

func candle(tf model.Timeframe, i int, close float64) model.Candle {
	return model.Candle{
		Symbol: sym, TF: tf,
		TS:   t0.Add(time.Duration(i) * tf.Duration()),
		Open: close, High: close + 1, Low: close - 1, Close: close,
	}
}

func TestWriter_PublishesSignalAndSnapshot(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	w := NewWriter(client)

	sub := client.Subscribe(ctx, SignalChannel(sym))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sig := model.Signal{ID: "sig-1", Strategy: "trend_following", Symbol: sym, Direction: model.Long, Entry: 10, Stop: 9, Target: 12}
	require.NoError(t, w.OnSignal(ctx, sig))

	select {
	case msg := <-sub.Channel():
		var got model.Signal
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, sig.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no pubsub message")
	}

	require.NoError(t, w.OnSnapshot(ctx, pipeline.Snapshot{Symbol: sym, TS: t0}))

	r := NewReader(client)
	raw, err := r.LatestSnapshot(ctx, sym)
	require.NoError(t, err)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, sym, snap.Symbol)

	_, err = r.LatestSnapshot(ctx, "other")
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)

	sigs, err := r.RecentSignals(ctx, sym, 10)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "sig-1", sigs[0].ID)
}

func TestConsumer_ReadsInCloseOrder(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	c := NewConsumer(client, ConsumerConfig{
		Symbol:     sym,
		Timeframes: []model.Timeframe{model.H1, model.M15},
		Block:      50 * time.Millisecond,
	})
	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx), "existing group is fine")

	w := NewWriter(client)
	var batch []model.Candle
	for i := 0; i < 4; i++ {
		batch = append(batch, candle(model.M15, i, float64(100+i)))
	}
	batch = append([]model.Candle{candle(model.H1, 0, 150)}, batch...)
	require.NoError(t, w.WriteCandles(ctx, batch))

	var tfs []model.Timeframe
	for i := 0; i < 5; i++ {
		got, err := c.Next(ctx)
		require.NoError(t, err)
		tfs = append(tfs, got.TF)
	}
	assert.Equal(t, []model.Timeframe{model.M15, model.M15, model.M15, model.M15, model.H1}, tfs)

	pending, err := client.XPending(ctx, CandleStream(sym, model.M15), "kraken").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count, "processed entries are acknowledged")

	pending, err = client.XPending(ctx, CandleStream(sym, model.H1), "kraken").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "the last candle is still in flight")
	require.NoError(t, c.Ack(ctx))
	pending, err = client.XPending(ctx, CandleStream(sym, model.H1), "kraken").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	tctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = c.Next(tctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestConsumer_RecoversPending(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	cfg := ConsumerConfig{Symbol: sym, Timeframes: []model.Timeframe{model.M15}, Block: 50 * time.Millisecond}
	first := NewConsumer(client, cfg)
	require.NoError(t, first.EnsureGroup(ctx))
	require.NoError(t, NewWriter(client).WriteCandles(ctx, []model.Candle{candle(model.M15, 0, 100), candle(model.M15, 1, 101)}))

	// take the first candle, then stop before it is processed
	got, err := first.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Close)

	second := NewConsumer(client, cfg)
	got, err = second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Close, "unprocessed candle is redelivered")
	got, err = second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 101.0, got.Close)
}

func TestConsumer_AcksOnlyProcessedCandles(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	stream := CandleStream(sym, model.M15)

	c := NewConsumer(client, ConsumerConfig{Symbol: sym, Timeframes: []model.Timeframe{model.M15}, Block: 50 * time.Millisecond})
	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, NewWriter(client).WriteCandles(ctx, []model.Candle{candle(model.M15, 0, 100), candle(model.M15, 1, 101)}))

	_, err := c.Next(ctx)
	require.NoError(t, err)
	pending, err := client.XPending(ctx, stream, "kraken").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending.Count, "nothing acknowledged while the first candle is processed")

	_, err = c.Next(ctx)
	require.NoError(t, err)
	pending, err = client.XPending(ctx, stream, "kraken").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count, "asking for the next candle acknowledges the previous one")

	require.NoError(t, c.Ack(ctx))
	require.NoError(t, c.Ack(ctx), "nothing in flight")
	pending, err = client.XPending(ctx, stream, "kraken").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestBufferedWriter_BuffersWhileOpen(t *testing.T) {
	s, client := setupTestRedis(t)
	ctx := context.Background()

	cb := NewCircuitBreaker("test", 1, time.Hour)
	bw := NewBufferedWriter(ctx, NewWriter(client), cb, 2)

	s.SetError("server down")
	assert.Error(t, bw.OnSignal(ctx, model.Signal{ID: "a", Symbol: sym}), "first failure trips the breaker")
	require.Equal(t, StateOpen, cb.CurrentState())

	require.NoError(t, bw.OnSignal(ctx, model.Signal{ID: "b", Symbol: sym}))
	require.NoError(t, bw.OnCandle(ctx, candle(model.M15, 0, 100)))
	require.NoError(t, bw.OnSignal(ctx, model.Signal{ID: "c", Symbol: sym}))
	require.NoError(t, bw.OnSnapshot(ctx, pipeline.Snapshot{Symbol: sym}))
	require.NoError(t, bw.OnSnapshot(ctx, pipeline.Snapshot{Symbol: sym, TS: t0}))
	assert.Equal(t, 3, bw.PendingCount(), "oldest dropped, one snapshot kept")

	s.SetError("")
	flushed := 0
	bw.OnFlush = func(n int) { flushed = n }
	bw.Flush()
	assert.Equal(t, 3, flushed)
	assert.Zero(t, bw.PendingCount())

	sigs, err := NewReader(client).RecentSignals(ctx, sym, 10)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "c", sigs[0].ID)
	n, err := client.XLen(ctx, CandleStream(sym, model.M15)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
