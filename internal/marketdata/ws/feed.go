// Package ws provides a live candle source that reads bars from a price
// bridge over WebSocket (for example an MT5 terminal bridge) and hands
// closed candles to the driver.
//
// The bridge sends one JSON object per bar update:
//
//	{"symbol":"Step Index","tf":"M15","ts":"2023-11-01T10:15:00Z",
//	 "open":8123.4,"high":8125.1,"low":8120.0,"close":8124.2,"volume":310,
//	 "closed":true}
//
// Bars with "closed":false are forming. A forming bar is treated as closed
// once a later bar of the same timeframe arrives, so bridges that only
// stream the current bar still work.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/ringbuf"
)

// ErrFeedClosed is returned by Next after Run has stopped.
var ErrFeedClosed = errors.New("ws feed closed")

// Config holds configuration for the live feed.
type Config struct {
	// URL of the bridge, e.g. "ws://localhost:9001/candles".
	URL        string
	Symbol     string
	Timeframes []model.Timeframe

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// BufferSize of the hand-off ring. Defaults to 4096.
	BufferSize int
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 4096
	}
}

type barMsg struct {
	model.Candle
	Closed bool `json:"closed"`
}

type subscribeMsg struct {
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes"`
}

// Feed connects to a candle bridge and queues closed candles for Next.
// Run and Next may be called from different goroutines; Next must only be
// called from one.
type Feed struct {
	cfg  Config
	tfs  map[model.Timeframe]bool
	ring *ringbuf.Ring[model.Candle]

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error

	// owned by the reader goroutine
	forming map[model.Timeframe]model.Candle
	last    map[model.Timeframe]time.Time

	// Optional hooks.
	OnConnect   func()
	OnReconnect func()
	OnDrop      func(c model.Candle)
}

// New creates a feed. Returns an error if the URL is unparseable.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("ws feed: %w", err)
	}
	tfs := make(map[model.Timeframe]bool, len(cfg.Timeframes))
	for _, tf := range cfg.Timeframes {
		tfs[tf] = true
	}
	return &Feed{
		cfg:     cfg,
		tfs:     tfs,
		ring:    ringbuf.New[model.Candle](cfg.BufferSize),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		forming: make(map[model.Timeframe]model.Candle),
		last:    make(map[model.Timeframe]time.Time),
	}, nil
}

// Run connects to the bridge and streams candles until ctx is cancelled.
// Reconnects automatically with exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	defer f.stop(ErrFeedClosed)
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := f.runOnce(ctx)
		if err == nil {
			return nil
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel.
func (f *Feed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", f.cfg.URL)

	sub := subscribeMsg{Action: "subscribe", Symbol: f.cfg.Symbol}
	for _, tf := range f.cfg.Timeframes {
		sub.Timeframes = append(sub.Timeframes, tf.String())
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if f.OnConnect != nil {
		f.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var msg barMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[ws] parse error: %v (raw: %s)", err, raw)
			continue
		}
		f.handle(msg)
	}
}

// handle turns one bar update into zero or more closed candles.
func (f *Feed) handle(msg barMsg) {
	c := msg.Candle
	if c.Symbol != f.cfg.Symbol || !f.tfs[c.TF] {
		return
	}
	if prev, ok := f.forming[c.TF]; ok && c.TS.After(prev.TS) {
		delete(f.forming, c.TF)
		f.emit(prev)
	}
	if msg.Closed {
		delete(f.forming, c.TF)
		f.emit(c)
		return
	}
	f.forming[c.TF] = c
}

// emit queues a closed candle. Bars at or before the last emitted one of
// their timeframe are resends after a reconnect and are skipped.
func (f *Feed) emit(c model.Candle) {
	if last, ok := f.last[c.TF]; ok && !c.TS.After(last) {
		return
	}
	f.last[c.TF] = c.TS
	if !f.ring.Push(c) {
		log.Printf("[ws] buffer full, dropping %s ts=%v", c.Key(), c.TS)
		if f.OnDrop != nil {
			f.OnDrop(c)
		}
		return
	}
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *Feed) stop(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Next blocks until a closed candle is available, ctx is cancelled, or Run
// has returned.
func (f *Feed) Next(ctx context.Context) (model.Candle, error) {
	for {
		if c, ok := f.ring.Pop(); ok {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return model.Candle{}, ctx.Err()
		case <-f.notify:
		case <-f.done:
			if c, ok := f.ring.Pop(); ok {
				return c, nil
			}
			return model.Candle{}, f.err
		}
	}
}

// Dropped returns how many candles were lost to a full buffer.
func (f *Feed) Dropped() uint64 {
	return f.ring.Overflow()
}
