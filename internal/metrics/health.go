package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the system health. Unset dependencies (nil
// client or database at check time) are reported but never degrade the
// status.
type HealthStatus struct {
	mu sync.RWMutex

	feed           bool // a live feed is expected
	FeedConnected  bool
	LastCandleTime time.Time
	redis          bool
	RedisConnected bool
	sqlite         bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// ExpectFeed marks the live feed as a dependency.
func (h *HealthStatus) ExpectFeed() {
	h.mu.Lock()
	h.feed = true
	h.mu.Unlock()
}

// SetFeedConnected records the feed connection state.
func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

// SetLastCandleTime records when the last candle was processed.
func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redis = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqlite = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Check probes every configured dependency once.
func (h *HealthStatus) Check(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if rdb != nil {
		h.CheckRedis(probeCtx, rdb)
	}
	if sqlDB != nil {
		h.CheckSQLite(probeCtx, sqlDB)
	}
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	h.Check(ctx, rdb, sqlDB)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Check(ctx, rdb, sqlDB)
			}
		}
	}()
}

// Healthy reports whether every configured dependency is up.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy()
}

func (h *HealthStatus) healthy() bool {
	return (!h.feed || h.FeedConnected) && (!h.redis || h.RedisConnected) && (!h.sqlite || h.SQLiteOK)
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.healthy() {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   *bool   `json:"feed_connected,omitempty"`
		LastCandleTime  string  `json:"last_candle_time,omitempty"`
		CandleAge       string  `json:"candle_age,omitempty"`
		RedisConnected  *bool   `json:"redis_connected,omitempty"`
		RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
		SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string  `json:"last_check_at,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		CandleAge:       candleAge,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if h.feed {
		v := h.FeedConnected
		status.FeedConnected = &v
	}
	if h.redis {
		v := h.RedisConnected
		status.RedisConnected = &v
	}
	if h.sqlite {
		v := h.SQLiteOK
		status.SQLiteOK = &v
	}
	if !h.LastCandleTime.IsZero() {
		status.LastCandleTime = h.LastCandleTime.Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		status.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(status)
}
