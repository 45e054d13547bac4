package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/store/redis"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// CandleStore serves historical candles.
type CandleStore interface {
	ReadCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error)
}

// SignalStore serves recent signals, newest first.
type SignalStore interface {
	RecentSignals(ctx context.Context, symbol string, n int64) ([]model.Signal, error)
}

// Deps are the optional backends of the REST routes. Nil backends answer
// 503.
type Deps struct {
	Candles CandleStore
	Signals SignalStore
	Health  func(ctx context.Context) map[string]bool // extra health checks
	Started time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 || v > max {
		return def
	}
	return v
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, deps Deps) {
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	// REST: latest payload of every channel
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.GetLatestAll())
	})

	// REST: latest snapshot of one symbol
	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		data, ok := hub.Latest(redis.SnapshotChannel(symbol))
		if !ok {
			writeError(w, http.StatusNotFound, "no snapshot for "+symbol)
			return
		}
		writeJSON(w, http.StatusOK, data)
	})

	// REST: gap backfill, ?channel=...&from=N&to=M
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if channel == "" || err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "channel, from and to are required")
			return
		}
		envelopes := hub.GetReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"channel":     channel,
			"channel_seq": hub.GetChannelSeq(channel),
			"messages":    out,
		})
	})

	// REST: recent signals, ?symbol=...&limit=N
	mux.HandleFunc("/api/signals", func(w http.ResponseWriter, r *http.Request) {
		if deps.Signals == nil {
			writeError(w, http.StatusServiceUnavailable, "signal store not configured")
			return
		}
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		sigs, err := deps.Signals.RecentSignals(r.Context(), symbol, int64(intParam(r, "limit", 50, 1000)))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sigs)
	})

	// REST: historical candles, ?symbol=...&tf=M15&limit=N&before=RFC3339
	mux.HandleFunc("/api/candles", func(w http.ResponseWriter, r *http.Request) {
		if deps.Candles == nil {
			writeError(w, http.StatusServiceUnavailable, "candle store not configured")
			return
		}
		q := r.URL.Query()
		symbol := q.Get("symbol")
		tf, err := model.ParseTimeframe(q.Get("tf"))
		if symbol == "" || err != nil {
			writeError(w, http.StatusBadRequest, "symbol and a valid tf are required")
			return
		}
		var before time.Time
		if s := q.Get("before"); s != "" {
			if before, err = time.Parse(time.RFC3339, s); err != nil {
				writeError(w, http.StatusBadRequest, "before must be RFC3339")
				return
			}
		}
		candles, err := deps.Candles.ReadCandles(r.Context(), symbol, tf, time.Time{}, before)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if limit := intParam(r, "limit", 200, 5000); len(candles) > limit {
			candles = candles[len(candles)-limit:]
		}
		if candles == nil {
			candles = []model.Candle{}
		}
		writeJSON(w, http.StatusOK, candles)
	})

	// REST: host and process metrics
	mux.HandleFunc("/api/system", func(w http.ResponseWriter, r *http.Request) {
		m := CollectSystem(r.Context(), deps.Started)
		m.WSClients = hub.ClientCount()
		writeJSON(w, http.StatusOK, m)
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":     "ok",
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(deps.Started).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		}
		status := http.StatusOK
		if deps.Health != nil {
			for name, ok := range deps.Health(r.Context()) {
				body[name] = ok
				if !ok {
					body["status"] = "degraded"
				}
			}
		}
		writeJSON(w, status, body)
	})
}
