package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed symbols. Empty = everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// clientMsg is what browsers send:
//
//	{"type":"SUBSCRIBE","symbol":"Step Index"}
//	{"type":"UNSUBSCRIBE","symbol":"Step Index"}
//	{"ping":1700000000000}
type clientMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Ping   int64  `json:"ping"`
}

// sendInitialState queues the latest message of every channel newer than
// lastTS, limited to symbol when set.
func (c *Client) sendInitialState(lastTS, symbol string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if _, sym, ok := parseChannel(channel); symbol != "" && (!ok || sym != symbol) {
			continue
		}
		select {
		case c.send <- buildEnvelope(channel, entry.Data, entry.TS, c.hub.seq, entry.Seq, true):
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: queued messages share one frame,
			// newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			if msg.Symbol == "" {
				c.sendError("symbol is required")
				continue
			}
			c.subMu.Lock()
			c.subs[msg.Symbol] = true
			c.subMu.Unlock()
			log.Printf("[gateway] client subscribed: symbol=%s", msg.Symbol)
			c.sendInitialState("", msg.Symbol)

		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.subs, msg.Symbol)
			c.subMu.Unlock()

		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.trySend(pong)
			}
		}
	}
}

func (c *Client) sendError(text string) {
	b, _ := json.Marshal(map[string]string{"type": "error", "error": text})
	c.trySend(b)
}

// trySend queues b unless the client is gone or backed up.
func (c *Client) trySend(b []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// matchesChannel reports whether the client should receive messages of
// channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	_, symbol, ok := parseChannel(channel)
	if !ok {
		return true // non-data channel, always deliver
	}
	return c.subs[symbol]
}

// parseChannel splits "pub:<kind>:<symbol>".
func parseChannel(channel string) (kind, symbol string, ok bool) {
	rest, found := strings.CutPrefix(channel, "pub:")
	if !found {
		return "", "", false
	}
	kind, symbol, ok = strings.Cut(rest, ":")
	if !ok || symbol == "" {
		return "", "", false
	}
	return kind, symbol, true
}
