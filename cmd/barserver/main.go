// cmd/barserver is a demo candle bridge. It speaks the protocol of the live
// websocket feed and streams random-walk bars, so cmd/live can run without
// a trading terminal.
//
// Config (env vars):
//
//	BAR_SERVER_ADDR  listen address (default ":9001")
//	BAR_SYMBOLS      comma-separated SYMBOL=START_PRICE pairs (default "Step Index=8000")
//	BAR_TIMEFRAMES   base timeframe first, then derived ones (default "M15,H1,H4")
//	BAR_INTERVAL_MS  wall-clock milliseconds per base bar (default 500)
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pondem87/kraken/internal/marketdata/tfbuilder"
	"github.com/pondem87/kraken/internal/model"
)

type barMsg struct {
	model.Candle
	Closed bool `json:"closed"`
}

type subscribeMsg struct {
	Action     string   `json:"action"`
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	symbol  string
	price   float64
	builder *tfbuilder.Builder
}

// ---- Hub ----

type client struct {
	send chan []byte

	mu     sync.RWMutex
	symbol string
	tfs    map[model.Timeframe]bool
}

func (c *client) wants(bar model.Candle) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbol == bar.Symbol && c.tfs[bar.TF]
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, 256), tfs: make(map[model.Timeframe]bool)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(bar model.Candle, closed bool) {
	msg, err := json.Marshal(barMsg{Candle: bar, Closed: closed})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(bar) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, bar dropped
		}
	}
}

// ---- WebSocket handler ----

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[barserver] upgrade error: %v", err)
			return
		}
		log.Printf("[barserver] client connected: %s", r.RemoteAddr)

		c := h.register()
		go readSubscriptions(conn, c, h)
		defer func() {
			h.unregister(c)
			conn.Close()
			log.Printf("[barserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// readSubscriptions applies subscribe messages until the connection fails.
func readSubscriptions(conn *websocket.Conn, c *client, h *hub) {
	defer h.unregister(c)
	for {
		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Action != "subscribe" {
			continue
		}
		tfs := make(map[model.Timeframe]bool, len(sub.Timeframes))
		for _, s := range sub.Timeframes {
			tf, err := model.ParseTimeframe(s)
			if err != nil {
				log.Printf("[barserver] bad timeframe %q: %v", s, err)
				continue
			}
			tfs[tf] = true
		}
		c.mu.Lock()
		c.symbol, c.tfs = sub.Symbol, tfs
		c.mu.Unlock()
		log.Printf("[barserver] subscribed %s %v", sub.Symbol, sub.Timeframes)
	}
}

// ---- Bar generator ----

// walk builds one base bar from a few random-walk steps of roughly 0.05%.
func walk(rng *rand.Rand, symbol string, tf model.Timeframe, ts time.Time, open float64) model.Candle {
	c := model.Candle{Symbol: symbol, TF: tf, TS: ts, Open: open, High: open, Low: open}
	price := open
	for i := 0; i < 8; i++ {
		price += price * rng.NormFloat64() * 0.0005
		c.High = math.Max(c.High, price)
		c.Low = math.Min(c.Low, price)
	}
	c.Close = price
	c.Volume = float64(rng.Intn(500) + 1)
	return c
}

func runGenerator(h *hub, instruments []*instrument, base model.Timeframe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ts := base.Align(time.Now().UTC()).Add(-1000 * base.Duration())

	for range ticker.C {
		for _, in := range instruments {
			bar := walk(rng, in.symbol, base, ts, in.price)
			in.price = bar.Close

			// half-way update first, as a terminal bridge would send
			forming := bar
			forming.Close = (bar.Open + bar.Close) / 2
			forming.High = math.Max(forming.Open, forming.Close)
			forming.Low = math.Min(forming.Open, forming.Close)
			h.broadcast(forming, false)

			for _, c := range in.builder.Process(bar) {
				h.broadcast(c, true)
			}
		}
		ts = ts.Add(base.Duration())
	}
}

// ---- main ----

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[barserver] starting demo candle bridge...")

	addr := envOrDefault("BAR_SERVER_ADDR", ":9001")
	intervalMs := envIntOrDefault("BAR_INTERVAL_MS", 500)

	tfs, err := parseTimeframes(envOrDefault("BAR_TIMEFRAMES", "M15,H1,H4"))
	if err != nil {
		log.Fatalf("[barserver] %v", err)
	}
	var instruments []*instrument
	for _, in := range parseInstruments(envOrDefault("BAR_SYMBOLS", "Step Index=8000")) {
		if in.builder, err = tfbuilder.New(tfs[0], tfs[1:]); err != nil {
			log.Fatalf("[barserver] %v", err)
		}
		instruments = append(instruments, in)
	}
	if len(instruments) == 0 {
		log.Fatalf("[barserver] no instruments configured via BAR_SYMBOLS")
	}
	log.Printf("[barserver] %d instruments, base %s, one bar every %dms", len(instruments), tfs[0], intervalMs)

	h := newHub()
	go runGenerator(h, instruments, tfs[0], time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/candles", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"barserver"}`)
	})

	log.Printf("[barserver] listening on %s (WebSocket: ws://localhost%s/candles)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[barserver] server error: %v", err)
	}
}

// ---- helpers ----

func parseTimeframes(s string) ([]model.Timeframe, error) {
	var out []model.Timeframe
	for _, part := range strings.Split(s, ",") {
		tf, err := model.ParseTimeframe(part)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

func parseInstruments(s string) []*instrument {
	var out []*instrument
	for _, part := range strings.Split(s, ",") {
		seg := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(seg) != 2 {
			log.Printf("[barserver] skipping invalid symbol entry: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[barserver] skipping invalid start price: %q", part)
			continue
		}
		out = append(out, &instrument{symbol: strings.TrimSpace(seg[0]), price: price})
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
