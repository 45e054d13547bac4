// Package metrics exposes Prometheus metrics and a health endpoint for a
// running session.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

// Metrics holds all Prometheus metrics of the engine. It implements the
// driver's tick observer.
type Metrics struct {
	reg *prometheus.Registry

	CandlesTotal    *prometheus.CounterVec // labels: symbol, tf
	CandlesRejected *prometheus.CounterVec // labels: symbol, reason
	TickDur         prometheus.Histogram
	CandleLag       *prometheus.GaugeVec   // labels: symbol
	SwingsTotal     *prometheus.CounterVec // labels: symbol, tf, kind
	EventsTotal     *prometheus.CounterVec // labels: symbol, tf, kind
	ZonesCreated    *prometheus.CounterVec // labels: symbol, tf
	ZoneTransitions *prometheus.CounterVec // labels: symbol, to
	SignalsTotal    *prometheus.CounterVec // labels: symbol, strategy, direction

	// Live feed
	FeedReconnects prometheus.Counter
	FeedDropped    prometheus.Counter
	FanoutDrops    *prometheus.CounterVec // labels: subscriber

	// Redis circuit breaker
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
	RedisBuffered     prometheus.Counter

	// Paper execution
	OpenPositions *prometheus.GaugeVec // labels: symbol
	Equity        prometheus.Gauge
	TradesClosed  *prometheus.CounterVec // labels: symbol, outcome

	now func() time.Time
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_candles_total",
			Help: "Candles accepted by the pipeline",
		}, []string{"symbol", "tf"}),
		CandlesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_candles_rejected_total",
			Help: "Candles rejected by the pipeline",
		}, []string{"symbol", "reason"}),
		TickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kraken_tick_duration_seconds",
			Help:    "Pipeline processing latency per candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		CandleLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kraken_candle_lag_seconds",
			Help: "Wall clock minus close time of the last candle",
		}, []string{"symbol"}),
		SwingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_swings_total",
			Help: "Confirmed swing points",
		}, []string{"symbol", "tf", "kind"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_structure_events_total",
			Help: "Structure breaks (bos, choch)",
		}, []string{"symbol", "tf", "kind"}),
		ZonesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_zones_created_total",
			Help: "Zones created from swings",
		}, []string{"symbol", "tf"}),
		ZoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_zone_transitions_total",
			Help: "Zone lifecycle transitions",
		}, []string{"symbol", "to"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_signals_total",
			Help: "Signals emitted",
		}, []string{"symbol", "strategy", "direction"}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kraken_feed_reconnects_total",
			Help: "Live feed reconnection attempts",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kraken_feed_dropped_total",
			Help: "Live candles dropped on a full buffer",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_fanout_drops_total",
			Help: "Signals dropped for slow consumers",
		}, []string{"subscriber"}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kraken_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kraken_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kraken_redis_buffered_writes_total",
			Help: "Writes buffered while Redis was unavailable",
		}),

		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kraken_paper_open_positions",
			Help: "Open paper positions",
		}, []string{"symbol"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kraken_paper_balance",
			Help: "Paper account balance",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kraken_paper_trades_closed_total",
			Help: "Closed paper trades",
		}, []string{"symbol", "outcome"}),

		now: time.Now,
	}

	m.reg.MustRegister(
		m.CandlesTotal,
		m.CandlesRejected,
		m.TickDur,
		m.CandleLag,
		m.SwingsTotal,
		m.EventsTotal,
		m.ZonesCreated,
		m.ZoneTransitions,
		m.SignalsTotal,
		m.FeedReconnects,
		m.FeedDropped,
		m.FanoutDrops,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBuffered,
		m.OpenPositions,
		m.Equity,
		m.TradesClosed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveTick records what one candle produced.
func (m *Metrics) ObserveTick(tick pipeline.Tick, took time.Duration) {
	c := tick.Candle
	m.CandlesTotal.WithLabelValues(c.Symbol, c.TF.String()).Inc()
	m.TickDur.Observe(took.Seconds())
	m.CandleLag.WithLabelValues(c.Symbol).Set(m.now().Sub(c.TS.Add(c.TF.Duration())).Seconds())

	for _, sp := range tick.Swings {
		m.SwingsTotal.WithLabelValues(c.Symbol, sp.TF.String(), string(sp.Kind)).Inc()
	}
	for _, ev := range tick.Events {
		m.EventsTotal.WithLabelValues(c.Symbol, ev.TF.String(), string(ev.Kind)).Inc()
	}
	for _, z := range tick.NewZones {
		m.ZonesCreated.WithLabelValues(c.Symbol, z.SourceTF.String()).Inc()
	}
	for _, tr := range tick.ZoneChanges {
		m.ZoneTransitions.WithLabelValues(c.Symbol, string(tr.To)).Inc()
	}
	for _, sig := range tick.Signals {
		m.SignalsTotal.WithLabelValues(sig.Symbol, sig.Strategy, string(sig.Direction)).Inc()
	}
}

// ObserveRejected records a rejected candle.
func (m *Metrics) ObserveRejected(c model.Candle, err error) {
	m.CandlesRejected.WithLabelValues(c.Symbol, rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrOutOfOrderCandle):
		return "out_of_order"
	case errors.Is(err, model.ErrMalformedCandle):
		return "malformed"
	case errors.Is(err, model.ErrUnknownTimeframe):
		return "unknown_timeframe"
	}
	return "other"
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// PositionsOpen records the open paper positions of a symbol.
func (m *Metrics) PositionsOpen(symbol string, n int) {
	m.OpenPositions.WithLabelValues(symbol).Set(float64(n))
}

// BalanceChanged records the paper account balance.
func (m *Metrics) BalanceChanged(balance float64) {
	m.Equity.Set(balance)
}

// TradeClosed counts a closed paper trade.
func (m *Metrics) TradeClosed(symbol, outcome string) {
	m.TradesClosed.WithLabelValues(symbol, outcome).Inc()
}
