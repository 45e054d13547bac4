// cmd/gateway serves the visualization WebSocket and REST API apart from the
// engine, fed by the snapshots and signals the live binary publishes to
// Redis.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pondem87/kraken/config"
	"github.com/pondem87/kraken/internal/gateway"
	"github.com/pondem87/kraken/internal/logger"
	"github.com/pondem87/kraken/internal/metrics"
	redisstore "github.com/pondem87/kraken/internal/store/redis"
	sqlitestore "github.com/pondem87/kraken/internal/store/sqlite"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[gateway] starting...")

	infra := config.LoadInfra()
	logger.Init("gateway", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     infra.RedisAddr,
		Password: infra.RedisPassword,
		DB:       infra.RedisDB,
	})
	if err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	defer rdb.Close()
	log.Printf("[gateway] redis connected at %s", infra.RedisAddr)

	deps := gateway.Deps{
		Signals: redisstore.NewReader(rdb),
		Started: processStart,
	}

	// Candle history is optional: the archive may live on another host.
	var sqlDB *sqlitestore.Reader
	if _, err := os.Stat(infra.SQLitePath); err == nil {
		if sqlDB, err = sqlitestore.NewReader(infra.SQLitePath); err != nil {
			log.Printf("[gateway] WARNING: sqlite open failed: %v (candle history disabled)", err)
		} else {
			defer sqlDB.Close()
			deps.Candles = sqlDB
		}
	}

	health := metrics.NewHealthStatus()
	health.StartLivenessChecker(ctx, rdb, nil, 15*time.Second)
	deps.Health = func(context.Context) map[string]bool {
		return map[string]bool{"redis": health.Healthy()}
	}

	hub := gateway.NewHub(0)
	go hub.RunRedis(ctx, rdb)
	go hub.RunSystemBroadcast(ctx, processStart, 2*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, deps)
	srv := &http.Server{Addr: infra.GatewayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[gateway] serving at http://localhost%s", infra.GatewayAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[gateway] shutting down...")
	cancel()
	hub.Close()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
}
