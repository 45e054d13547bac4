package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

var t0 = time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)

func TestMetrics_ObserveTick(t *testing.T) {
	m := New()
	m.now = func() time.Time { return t0.Add(20 * time.Minute) }

	c := model.Candle{Symbol: "Step Index", TF: model.M15, TS: t0}
	m.ObserveTick(pipeline.Tick{
		Candle: c,
		Swings: []model.SwingPoint{{TF: model.M15, Kind: model.SwingHigh}},
		Events: []model.StructureEvent{
			{TF: model.M15, Kind: model.BreakOfStructure},
			{TF: model.M15, Kind: model.ChangeOfCharacter},
		},
		NewZones:    []model.Zone{{SourceTF: model.H1}},
		ZoneChanges: []model.ZoneTransition{{To: model.ZoneMitigated}},
		Signals:     []model.Signal{{Symbol: "Step Index", Strategy: "trend_following", Direction: model.Long}},
	}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesTotal.WithLabelValues("Step Index", "M15")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwingsTotal.WithLabelValues("Step Index", "M15", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("Step Index", "M15", "choch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ZonesCreated.WithLabelValues("Step Index", "H1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ZoneTransitions.WithLabelValues("Step Index", "mitigated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("Step Index", "trend_following", "long")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.CandleLag.WithLabelValues("Step Index")), "lag from close time")
}

func TestMetrics_ObserveRejected(t *testing.T) {
	m := New()
	c := model.Candle{Symbol: "Step Index"}
	m.ObserveRejected(c, &model.OutOfOrderError{})
	m.ObserveRejected(c, fmt.Errorf("x: %w", model.ErrMalformedCandle))
	m.ObserveRejected(c, fmt.Errorf("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesRejected.WithLabelValues("Step Index", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesRejected.WithLabelValues("Step Index", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesRejected.WithLabelValues("Step Index", "other")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Equity.Set(1000)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kraken_paper_balance 1000")
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "nothing configured is healthy")

	s, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer rdb.Close()

	h.Check(context.Background(), rdb, nil)
	assert.True(t, h.Healthy())

	s.Close()
	h.Check(context.Background(), rdb, nil)
	assert.False(t, h.Healthy())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis_connected":false`)

	h2 := NewHealthStatus()
	h2.ExpectFeed()
	assert.False(t, h2.Healthy())
	h2.SetFeedConnected(true)
	h2.SetLastCandleTime(time.Now())
	assert.True(t, h2.Healthy())
}
