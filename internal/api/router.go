// Package api serves the paper account and session configuration over
// REST, next to the gateway routes.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/pondem87/kraken/internal/execution"
	"github.com/pondem87/kraken/internal/pipeline"
)

// Account is the read side of a paper account.
type Account interface {
	Open() []execution.Position
	Closed() []execution.Position
	Summary() execution.Summary
}

// TradeStore reads journaled trades, newest first.
type TradeStore interface {
	Trades(ctx context.Context, limit int) ([]execution.Position, error)
}

// Deps are the backends of the routes. A nil Account answers 503; without
// a TradeStore trades come from the account's memory.
type Deps struct {
	Account     Account
	Trades      TradeStore
	Instruments []pipeline.Config
}

type instrumentInfo struct {
	Symbol     string   `json:"symbol"`
	Base       string   `json:"base_timeframe"`
	Timeframes []string `json:"timeframes"`
	Structure  []string `json:"structure_timeframes"`
	Strategies []string `json:"strategies"`
}

// Register adds the /api/v1 routes to mux.
func Register(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/account", func(w http.ResponseWriter, r *http.Request) {
		if deps.Account == nil {
			writeError(w, http.StatusServiceUnavailable, "paper trading disabled")
			return
		}
		writeJSON(w, http.StatusOK, deps.Account.Summary())
	})

	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		if deps.Account == nil {
			writeError(w, http.StatusServiceUnavailable, "paper trading disabled")
			return
		}
		writeJSON(w, http.StatusOK, deps.Account.Open())
	})

	// GET /api/v1/trades?limit=N
	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
		switch {
		case deps.Trades != nil:
			trades, err := deps.Trades.Trades(r.Context(), limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, trades)
		case deps.Account != nil:
			closed := deps.Account.Closed()
			out := make([]execution.Position, 0, limit)
			for i := len(closed) - 1; i >= 0 && len(out) < limit; i-- {
				out = append(out, closed[i])
			}
			writeJSON(w, http.StatusOK, out)
		default:
			writeError(w, http.StatusServiceUnavailable, "paper trading disabled")
		}
	})

	mux.HandleFunc("/api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		out := make([]instrumentInfo, 0, len(deps.Instruments))
		for _, cfg := range deps.Instruments {
			out = append(out, instrumentInfo{
				Symbol:     cfg.Symbol,
				Base:       cfg.Base.String(),
				Timeframes: names(cfg.Timeframes()),
				Structure:  names(cfg.StructureTimeframes()),
				Strategies: append([]string{}, cfg.Strategy.Enabled...),
			})
		}
		writeJSON(w, http.StatusOK, out)
	})
}

func names[T interface{ String() string }](tfs []T) []string {
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = tf.String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
