// Package redis publishes session output to Redis for dashboards and other
// services, and consumes live candles pushed into Redis Streams by a price
// bridge.
//
// Key layout:
//
//	candle:<symbol>:<TF>          stream   closed candles
//	signal:<symbol>               stream   emitted signals
//	snapshot:latest:<symbol>      string   last pipeline snapshot
//	pub:signal:<symbol>           pubsub   signals as they happen
//	pub:snapshot:<symbol>         pubsub   snapshots as they happen
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

const (
	candleStreamMaxLen = 5000
	signalStreamMaxLen = 10000
	defaultLatestTTL   = 30 * time.Minute
)

// CandleStream returns the stream key for one symbol and timeframe.
func CandleStream(symbol string, tf model.Timeframe) string {
	return "candle:" + symbol + ":" + tf.String()
}

// SignalStream returns the signal stream key of a symbol.
func SignalStream(symbol string) string { return "signal:" + symbol }

// SnapshotKey returns the key holding the latest snapshot of a symbol.
func SnapshotKey(symbol string) string { return "snapshot:latest:" + symbol }

// SignalChannel returns the pubsub channel for signals of a symbol.
func SignalChannel(symbol string) string { return "pub:signal:" + symbol }

// SnapshotChannel returns the pubsub channel for snapshots of a symbol.
func SnapshotChannel(symbol string) string { return "pub:snapshot:" + symbol }

// Config configures the Redis connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Dial connects and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Writer publishes candles, signals and snapshots.
type Writer struct {
	client *goredis.Client
}

// NewWriter wraps a connected client.
func NewWriter(client *goredis.Client) *Writer {
	return &Writer{client: client}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// WriteCandles appends candles to their streams in one pipeline.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range candles {
		c := &candles[i]
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: CandleStream(c.Symbol, c.TF),
			MaxLen: candleStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(c.JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis candle pipeline (%d candles): %w", len(candles), err)
	}
	return nil
}

// OnCandle publishes one closed candle.
func (w *Writer) OnCandle(ctx context.Context, c model.Candle) error {
	return w.WriteCandles(ctx, []model.Candle{c})
}

// OnSignal appends sig to the signal stream and publishes it.
func (w *Writer) OnSignal(ctx context.Context, sig model.Signal) error {
	data := string(sig.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: SignalStream(sig.Symbol),
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"id": sig.ID, "data": data},
	})
	pipe.Publish(ctx, SignalChannel(sig.Symbol), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis signal %s: %w", sig.ID, err)
	}
	return nil
}

// OnSnapshot stores snap as the latest snapshot and publishes it.
func (w *Writer) OnSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data := string(b)

	pipe := w.client.Pipeline()
	pipe.Set(ctx, SnapshotKey(snap.Symbol), data, defaultLatestTTL)
	pipe.Publish(ctx, SnapshotChannel(snap.Symbol), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
