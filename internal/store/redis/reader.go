package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/pondem87/kraken/internal/marketdata/replay"
	"github.com/pondem87/kraken/internal/model"
)

// ConsumerConfig configures a stream consumer.
type ConsumerConfig struct {
	Symbol     string
	Timeframes []model.Timeframe
	Group      string        // consumer group name, default "kraken"
	Name       string        // unique consumer name, default "worker-1"
	StartID    string        // where a new group starts, default "$" (new entries only)
	Block      time.Duration // XREADGROUP block, default 2s
	Count      int64         // max entries per read, default 100
}

func (c *ConsumerConfig) defaults() {
	if c.Group == "" {
		c.Group = "kraken"
	}
	if c.Name == "" {
		c.Name = "worker-1"
	}
	if c.StartID == "" {
		c.StartID = "$"
	}
	if c.Block == 0 {
		c.Block = 2 * time.Second
	}
	if c.Count == 0 {
		c.Count = 100
	}
}

type delivery struct {
	c      model.Candle
	stream string
	id     string
}

// Consumer reads live candles from the candle streams of one symbol through
// a consumer group. A candle is acknowledged by the following Next call,
// once the driver has processed it, or by Ack at shutdown. A crash
// redelivers what was read but not processed.
type Consumer struct {
	client  *goredis.Client
	cfg     ConsumerConfig
	streams []string

	queue     []delivery
	inflight  *delivery
	recovered bool
}

// NewConsumer creates a consumer on a connected client.
func NewConsumer(client *goredis.Client, cfg ConsumerConfig) *Consumer {
	cfg.defaults()
	streams := make([]string, len(cfg.Timeframes))
	for i, tf := range cfg.Timeframes {
		streams[i] = CandleStream(cfg.Symbol, tf)
	}
	return &Consumer{client: client, cfg: cfg, streams: streams}
}

// EnsureGroup creates the consumer group on every stream if it doesn't
// exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, c.cfg.StartID).Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Next returns the next candle, blocking until one arrives or ctx ends.
// Entries left pending by an earlier run of this consumer come first.
func (c *Consumer) Next(ctx context.Context) (model.Candle, error) {
	if err := c.Ack(context.WithoutCancel(ctx)); err != nil {
		log.Printf("[redis-reader] %v", err)
	}
	if !c.recovered {
		if err := c.recoverPending(ctx); err != nil {
			return model.Candle{}, err
		}
		c.recovered = true
	}
	for len(c.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return model.Candle{}, err
		}
		if err := c.read(ctx); err != nil {
			return model.Candle{}, err
		}
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	c.inflight = &d
	return d.c, nil
}

// Ack acknowledges the candle last returned by Next. Call it after the
// final candle has been processed; Next does it for every earlier one.
func (c *Consumer) Ack(ctx context.Context) error {
	d := c.inflight
	if d == nil {
		return nil
	}
	if err := c.client.XAck(ctx, d.stream, c.cfg.Group, d.id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", d.stream, d.id, err)
	}
	c.inflight = nil
	return nil
}

func (c *Consumer) read(ctx context.Context) error {
	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(c.streams)*2)
	for i, s := range c.streams {
		args[i] = s
		args[len(c.streams)+i] = ">"
	}

	results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  args,
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		log.Printf("[redis-reader] xreadgroup error: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		return nil
	}

	for _, stream := range results {
		c.enqueue(ctx, stream.Stream, stream.Messages)
	}
	c.sortQueue()
	return nil
}

// recoverPending claims entries delivered to this consumer name but never
// acknowledged.
func (c *Consumer) recoverPending(ctx context.Context) error {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: stream,
			Group:  c.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  c.cfg.Count,
		}).Result()
		if err != nil {
			if strings.HasPrefix(err.Error(), "NOGROUP") {
				continue
			}
			return fmt.Errorf("xpending %s: %w", stream, err)
		}
		if len(pending) == 0 {
			continue
		}
		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}
		claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim %s: %w", stream, err)
		}
		log.Printf("[redis-reader] recovered %d pending entries on %s", len(claimed), stream)
		c.enqueue(ctx, stream, claimed)
	}
	c.sortQueue()
	return nil
}

func (c *Consumer) enqueue(ctx context.Context, stream string, msgs []goredis.XMessage) {
	for _, msg := range msgs {
		data, _ := msg.Values["data"].(string)
		var candle model.Candle
		if err := json.Unmarshal([]byte(data), &candle); err != nil || data == "" {
			log.Printf("[redis-reader] bad entry %s on %s: %v", msg.ID, stream, err)
			// ACK even on bad message to avoid poison pill
			c.client.XAck(ctx, stream, c.cfg.Group, msg.ID)
			continue
		}
		c.queue = append(c.queue, delivery{c: candle, stream: stream, id: msg.ID})
	}
}

func (c *Consumer) sortQueue() {
	sort.SliceStable(c.queue, func(i, j int) bool {
		return replay.ClosesBefore(c.queue[i].c, c.queue[j].c)
	})
}

// Reader serves published state back to other processes.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps a connected client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// LatestSnapshot returns the raw JSON of the last published snapshot of
// symbol, or model.ErrInsufficientHistory when there is none.
func (r *Reader) LatestSnapshot(ctx context.Context, symbol string) ([]byte, error) {
	b, err := r.client.Get(ctx, SnapshotKey(symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, model.ErrInsufficientHistory)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot %s: %w", symbol, err)
	}
	return b, nil
}

// RecentSignals returns up to n signals of symbol, newest first.
func (r *Reader) RecentSignals(ctx context.Context, symbol string, n int64) ([]model.Signal, error) {
	msgs, err := r.client.XRevRangeN(ctx, SignalStream(symbol), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", SignalStream(symbol), err)
	}
	out := make([]model.Signal, 0, len(msgs))
	for _, msg := range msgs {
		data, _ := msg.Values["data"].(string)
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			log.Printf("[redis-reader] bad signal entry %s: %v", msg.ID, err)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// SubscribeSnapshots subscribes to the snapshot channel of symbol.
func (r *Reader) SubscribeSnapshots(ctx context.Context, symbol string) *goredis.PubSub {
	return r.client.Subscribe(ctx, SnapshotChannel(symbol))
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
