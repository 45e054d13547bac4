// cmd/live runs the analysis pipeline on live candles from a websocket
// bridge or Redis streams, publishes signals and snapshots to Redis,
// alerts on signals and serves the visualization gateway.
//
// Usage:
//
//	go run ./cmd/live --config=config/live.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/pondem87/kraken/config"
	"github.com/pondem87/kraken/internal/api"
	"github.com/pondem87/kraken/internal/driver"
	"github.com/pondem87/kraken/internal/execution"
	"github.com/pondem87/kraken/internal/gateway"
	"github.com/pondem87/kraken/internal/logger"
	"github.com/pondem87/kraken/internal/marketdata/bus"
	"github.com/pondem87/kraken/internal/marketdata/tfbuilder"
	"github.com/pondem87/kraken/internal/marketdata/ws"
	"github.com/pondem87/kraken/internal/metrics"
	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/notification"
	"github.com/pondem87/kraken/internal/pipeline"
	redisstore "github.com/pondem87/kraken/internal/store/redis"
	sqlitestore "github.com/pondem87/kraken/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[live] starting...")

	infra := config.LoadInfra()
	cfgPath := flag.String("config", "config/session.example.yaml", "Session YAML")
	flag.Parse()

	sess, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[live] %v", err)
	}
	slogger := logger.Init("live", logger.ParseLevel(sess.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithSessionID(ctx, logger.NewSessionID())
	slogger = logger.FromContext(ctx, slogger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[live] shutting down...")
		cancel()
	}()

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(infra.MetricsAddr, prom, health)
	metricsSrv.Start()
	defer metricsSrv.Stop(context.Background())

	// ---- SQLite: candle archive for later backtests ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: infra.SQLitePath})
	if err != nil {
		log.Fatalf("[live] sqlite init failed: %v", err)
	}
	archiveCh := make(chan model.Candle, 5000)
	archived := sqlWriter.Start(ctx, archiveCh)
	defer func() {
		cancel()
		<-archived
		sqlWriter.Close()
	}()

	// ---- Redis ----
	rdb, err := redisstore.Dial(redisstore.Config{
		Addr:     infra.RedisAddr,
		Password: infra.RedisPassword,
		DB:       infra.RedisDB,
	})
	if err != nil {
		if sess.Live.Source == config.SourceRedis {
			log.Fatalf("[live] redis required for the redis source: %v", err)
		}
		log.Printf("[live] WARNING: redis init failed: %v (continuing without redis)", err)
		rdb = nil
	} else {
		defer rdb.Close()
		log.Println("[live] redis connected")
	}
	health.StartLivenessChecker(ctx, rdb, sqlWriter.DB(), 15*time.Second)

	var opts []driver.Option
	var redisOut *redisstore.BufferedWriter
	if rdb != nil {
		cb := redisstore.NewCircuitBreaker("redis-publish", 5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisBreakerTrips.Inc()
			}
		}
		redisOut = redisstore.NewBufferedWriter(ctx, redisstore.NewWriter(rdb), cb, 0)
		redisOut.OnBuffer = prom.RedisBuffered.Inc
		opts = append(opts, driver.WithSignalSink(redisOut), driver.WithSnapshotSink(redisOut))
	}

	// ---- Signal bus: alerts off the hot path ----
	signals := bus.NewSignals(256)
	signals.OnDrop = func(idx int) { prom.FanoutDrops.WithLabelValues(strconv.Itoa(idx)).Inc() }
	defer signals.Close()
	var backends []notification.Notifier
	if sess.Notify.Log {
		backends = append(backends, notification.NewLogNotifier())
	}
	if infra.TelegramToken != "" && infra.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(infra.TelegramToken, infra.TelegramChatID))
	}
	if infra.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(infra.WebhookURL))
	}
	if len(backends) > 0 {
		notifier := notification.NewSignalNotifier(sess.Notify.MinConfidence, backends...)
		signals.Consume(ctx, "notifier", notifier.OnSignal)
	}
	opts = append(opts, driver.WithSignalSink(signals))

	// ---- Paper account ----
	accountAPI := api.Deps{}
	for _, in := range sess.Instruments {
		accountAPI.Instruments = append(accountAPI.Instruments, in.Config)
	}
	if sess.PaperTrade {
		paperOpts := []execution.PaperOption{
			execution.WithObserver(prom),
			execution.WithPaperLogger(slogger),
		}
		if infra.JournalPath != "" {
			journal, err := execution.NewJournal(infra.JournalPath)
			if err != nil {
				log.Fatalf("[live] journal init failed: %v", err)
			}
			defer journal.Close()
			paperOpts = append(paperOpts, execution.WithJournal(journal))
			accountAPI.Trades = journal
		}
		paper := execution.NewPaper(sess.Paper, paperOpts...)
		accountAPI.Account = paper
		prom.BalanceChanged(sess.Paper.InitialBalance)
		opts = append(opts, driver.WithSignalSink(paper), driver.WithCandleSink(paper), driver.WithStructureSink(paper))
	}

	// ---- Gateway ----
	if sess.Gateway.Enabled {
		hub := gateway.NewHub(sess.Gateway.ReplaySize)
		defer hub.Close()
		opts = append(opts,
			driver.WithSignalSink(hub),
			driver.WithSnapshotSink(hub),
			driver.WithSnapshotEvery(sess.Gateway.SnapshotEvery),
		)
		deps := gateway.Deps{Health: func(context.Context) map[string]bool {
			return map[string]bool{"healthy": health.Healthy()}
		}}
		if rdb != nil {
			deps.Signals = redisstore.NewReader(rdb)
		}
		mux := http.NewServeMux()
		gateway.RegisterRoutes(mux, hub, deps)
		api.Register(mux, accountAPI)
		srv := &http.Server{Addr: infra.GatewayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("[live] gateway serving at http://localhost%s", infra.GatewayAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[live] gateway error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	opts = append(opts, driver.WithObserver(liveObserver{Metrics: prom, health: health}), driver.WithLogger(slogger))

	// ---- One driver per instrument ----
	var (
		drivers   []*driver.Driver
		consumers []*redisstore.Consumer
	)
	for _, in := range sess.Instruments {
		src, err := buildSource(ctx, sess, in, infra, rdb, prom, health)
		if err != nil {
			log.Fatalf("[live] %s: %v", in.Symbol, err)
		}
		if c, ok := src.(*redisstore.Consumer); ok {
			consumers = append(consumers, c)
		}
		if sess.Live.Source == config.SourceWS {
			a := &archive{src: src, out: archiveCh}
			if redisOut != nil {
				a.pub = redisOut // candle streams for cmd/live instances on the redis source
			}
			src = a
		}
		if in.Resample {
			b, err := tfbuilder.New(in.Base, in.Timeframes())
			if err != nil {
				log.Fatalf("[live] %s: %v", in.Symbol, err)
			}
			src = tfbuilder.NewResampler(src, b)
		}
		p, err := pipeline.New(in.Config, pipeline.WithLogger(slogger))
		if err != nil {
			log.Fatalf("[live] %s: %v", in.Symbol, err)
		}
		drivers = append(drivers, driver.New(p, src, opts...))
	}

	log.Printf("[live] running %d instruments from %s", len(drivers), sess.Live.Source)
	stats, err := driver.RunAll(ctx, drivers...)
	if err != nil {
		log.Printf("[live] run failed: %v", err)
	}
	for symbol, st := range stats {
		log.Printf("[live] %s: candles=%d rejected=%d signals=%d sink_errors=%d",
			symbol, st.Candles, st.Rejected, st.Signals, st.SinkErrors)
	}
	for _, c := range consumers {
		if err := c.Ack(context.Background()); err != nil {
			log.Printf("[live] final ack: %v", err)
		}
	}
	if redisOut != nil && redisOut.PendingCount() > 0 {
		log.Printf("[live] %d redis writes still buffered at exit", redisOut.PendingCount())
	}
}

func buildSource(ctx context.Context, sess *config.Session, in config.Instrument, infra *config.Infra,
	rdb *goredis.Client, prom *metrics.Metrics, health *metrics.HealthStatus) (driver.TickSource, error) {
	switch sess.Live.Source {
	case config.SourceRedis:
		c := redisstore.NewConsumer(rdb, redisstore.ConsumerConfig{
			Symbol:     in.Symbol,
			Timeframes: in.SourceTimeframes(),
			Group:      sess.Live.ConsumerGroup,
			Name:       sess.Live.ConsumerName,
		})
		if err := c.EnsureGroup(ctx); err != nil {
			return nil, err
		}
		return c, nil
	default:
		feed, err := ws.New(ws.Config{
			URL:            infra.FeedURL,
			Symbol:         in.Symbol,
			Timeframes:     in.SourceTimeframes(),
			ReconnectDelay: sess.Live.ReconnectDelay,
			BufferSize:     sess.Live.BufferSize,
		})
		if err != nil {
			return nil, err
		}
		health.ExpectFeed()
		feed.OnConnect = func() { health.SetFeedConnected(true) }
		feed.OnReconnect = func() {
			health.SetFeedConnected(false)
			prom.FeedReconnects.Inc()
		}
		feed.OnDrop = func(model.Candle) { prom.FeedDropped.Inc() }
		go feed.Run(ctx)
		return feed, nil
	}
}

// liveObserver adds the health clock to the metrics observer.
type liveObserver struct {
	*metrics.Metrics
	health *metrics.HealthStatus
}

func (o liveObserver) ObserveTick(tick pipeline.Tick, took time.Duration) {
	o.Metrics.ObserveTick(tick, took)
	o.health.SetLastCandleTime(time.Now())
}

// archive copies every candle the source yields to the SQLite writer
// without blocking the pipeline, and republishes it to Redis when pub is
// set.
type archive struct {
	src driver.TickSource
	out chan<- model.Candle
	pub driver.CandleSink
}

func (a *archive) Next(ctx context.Context) (model.Candle, error) {
	c, err := a.src.Next(ctx)
	if err != nil {
		return c, err
	}
	select {
	case a.out <- c:
	default:
		slog.Warn("archive channel full, candle not stored", slog.String("key", c.Key()))
	}
	if a.pub != nil {
		if perr := a.pub.OnCandle(ctx, c); perr != nil {
			slog.Warn("candle publish failed", slog.String("key", c.Key()), slog.String("error", perr.Error()))
		}
	}
	return c, nil
}
