// Package gateway serves session output to browsers: a WebSocket hub that
// fans snapshots and signals out to clients, plus a small REST surface.
//
// Messages travel on channels named like the Redis pubsub channels
// ("pub:snapshot:<symbol>", "pub:signal:<symbol>"), so the hub can be fed
// in-process by the driver or from Redis by a separate gateway process.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
	"github.com/pondem87/kraken/internal/store/redis"
)

// Hub manages WebSocket clients and keeps the latest message of every
// channel for late joiners and REST reads.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replaySize int

	now func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// NewHub creates a hub. replaySize bounds the per-channel replay buffers
// (0 = 500).
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 500
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  replaySize,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// OnSnapshot broadcasts a pipeline snapshot.
func (h *Hub) OnSnapshot(_ context.Context, snap pipeline.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("gateway: marshal snapshot: %w", err)
	}
	h.Broadcast(redis.SnapshotChannel(snap.Symbol), b)
	return nil
}

// OnSignal broadcasts a signal.
func (h *Hub) OnSignal(_ context.Context, sig model.Signal) error {
	h.Broadcast(redis.SignalChannel(sig.Symbol), sig.JSON())
	return nil
}

// HandleWSRequest registers an upgraded connection. Messages newer than
// lastTS (RFC3339Nano, optional) are sent right away.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastTS string) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS, "")
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Latest returns the last payload of a channel.
func (h *Hub) Latest(channel string) (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[channel]
	return e.Data, ok
}

// GetLatestAll returns a copy of all latest channel data.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
// Used by the /api/missed REST endpoint for client gap backfill.
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}
