package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/execution"
	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

var t0 = time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)

func sig(id string, entry, stop, target float64) model.Signal {
	return model.Signal{
		ID: id, Strategy: "structure_break", Symbol: "Step Index", TF: model.M15, TS: t0,
		Direction: model.Long, Entry: entry, Stop: stop, Target: target,
	}
}

func get(t *testing.T, mux *http.ServeMux, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestRoutes_Account(t *testing.T) {
	ctx := context.Background()
	paper := execution.NewPaper(execution.DefaultConfig())
	require.NoError(t, paper.OnSignal(ctx, sig("s1", 100, 98, 103)))
	require.NoError(t, paper.OnCandle(ctx, model.Candle{
		Symbol: "Step Index", TF: model.M15, TS: t0.Add(15 * time.Minute),
		Open: 100, High: 103.5, Low: 99.5, Close: 103,
	}))
	require.NoError(t, paper.OnSignal(ctx, sig("s2", 103, 101, 107)))

	mux := http.NewServeMux()
	Register(mux, Deps{Account: paper})

	var summary execution.Summary
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/account", &summary))
	assert.Equal(t, 1, summary.Trades)
	assert.Equal(t, 1, summary.Wins)
	assert.Equal(t, 1, summary.OpenPositions)

	var open []execution.Position
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/positions", &open))
	require.Len(t, open, 1)
	assert.Equal(t, 103.0, open[0].Entry)

	var trades []execution.Position
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/trades?limit=5", &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, execution.ExitTarget, trades[0].Reason)
}

type trades struct {
	out []execution.Position
	err error
}

func (s trades) Trades(_ context.Context, limit int) ([]execution.Position, error) {
	if len(s.out) > limit {
		return s.out[:limit], s.err
	}
	return s.out, s.err
}

func TestRoutes_TradeStore(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux, Deps{Trades: trades{out: []execution.Position{{ID: "a"}, {ID: "b"}}}})

	var got []execution.Position
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/trades?limit=1", &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/api/v1/account", nil))

	mux = http.NewServeMux()
	Register(mux, Deps{Trades: trades{err: errors.New("locked")}})
	assert.Equal(t, http.StatusInternalServerError, get(t, mux, "/api/v1/trades", nil))
}

func TestRoutes_Strategies(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.Symbol = "Step Index"
	cfg.Base = model.M15
	cfg.Structure = []model.Timeframe{model.H1}
	cfg.Strategy.Trend = model.H1

	mux := http.NewServeMux()
	Register(mux, Deps{Instruments: []pipeline.Config{cfg}})

	var got []instrumentInfo
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/strategies", &got))
	require.Len(t, got, 1)
	assert.Equal(t, "M15", got[0].Base)
	assert.Equal(t, []string{"M15", "H1"}, got[0].Structure)
	assert.Equal(t, []string{"trend_following"}, got[0].Strategies)

	var health map[string]string
	require.Equal(t, http.StatusOK, get(t, mux, "/api/v1/health", &health))
	assert.Equal(t, "ok", health["status"])
}
