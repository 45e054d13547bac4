// cmd/backtest replays historical candles from SQLite through the analysis
// pipeline of every configured instrument and trades the signals on a paper
// account.
//
// Usage:
//
//	go run ./cmd/backtest --config=config/session.example.yaml --speed=0
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pondem87/kraken/config"
	"github.com/pondem87/kraken/internal/api"
	"github.com/pondem87/kraken/internal/driver"
	"github.com/pondem87/kraken/internal/execution"
	"github.com/pondem87/kraken/internal/gateway"
	"github.com/pondem87/kraken/internal/logger"
	"github.com/pondem87/kraken/internal/marketdata/replay"
	"github.com/pondem87/kraken/internal/marketdata/tfbuilder"
	"github.com/pondem87/kraken/internal/notification"
	"github.com/pondem87/kraken/internal/pipeline"
	sqlitestore "github.com/pondem87/kraken/internal/store/sqlite"
)

type result struct {
	Session string                  `json:"session"`
	ID      string                  `json:"session_id"`
	Took    string                  `json:"took"`
	Drivers map[string]driver.Stats `json:"drivers"`
	Account *execution.Summary      `json:"account,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	infra := config.LoadInfra()
	cfgPath := flag.String("config", "config/session.example.yaml", "Session YAML")
	dbPath := flag.String("db", infra.SQLitePath, "Path to SQLite candle database")
	journalPath := flag.String("journal", infra.JournalPath, "Path to SQLite trade journal (empty = none)")
	speed := flag.Float64("speed", -1, "Playback speed multiplier, overrides the session (0=max, 1=realtime)")
	serve := flag.Bool("serve", false, "Serve the visualization gateway while replaying")
	flag.Parse()

	sess, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *speed >= 0 {
		sess.Replay.Speed = *speed
	}
	slogger := logger.Init("backtest", logger.ParseLevel(sess.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionID := logger.NewSessionID()
	ctx = logger.WithSessionID(ctx, sessionID)
	slogger = logger.FromContext(ctx, slogger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backtest] interrupted, stopping...")
		cancel()
	}()

	// ---- Stores ----
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	signalLog, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backtest] sqlite writer failed: %v", err)
	}
	defer signalLog.Close()

	// ---- Sinks shared by all instruments ----
	var (
		signalSinks []driver.Option
		paper       *execution.Paper
	)
	signalSinks = append(signalSinks, driver.WithSignalSink(signalLog))
	if sess.Notify.Log {
		signalSinks = append(signalSinks, driver.WithSignalSink(
			notification.NewSignalNotifier(sess.Notify.MinConfidence, notification.NewLogNotifier())))
	}

	accountAPI := api.Deps{}
	for _, in := range sess.Instruments {
		accountAPI.Instruments = append(accountAPI.Instruments, in.Config)
	}
	if sess.PaperTrade {
		var opts []execution.PaperOption
		opts = append(opts, execution.WithPaperLogger(slogger))
		if *journalPath != "" {
			journal, err := execution.NewJournal(*journalPath)
			if err != nil {
				log.Fatalf("[backtest] journal init failed: %v", err)
			}
			defer journal.Close()
			opts = append(opts, execution.WithJournal(journal))
			accountAPI.Trades = journal
		}
		paper = execution.NewPaper(sess.Paper, opts...)
		accountAPI.Account = paper
		signalSinks = append(signalSinks, driver.WithSignalSink(paper), driver.WithCandleSink(paper), driver.WithStructureSink(paper))
	}

	var hub *gateway.Hub
	if *serve || sess.Gateway.Enabled {
		hub = gateway.NewHub(sess.Gateway.ReplaySize)
		defer hub.Close()
		srv := serveGateway(infra.GatewayAddr, hub, reader, signalLog, accountAPI)
		defer srv.Shutdown(context.Background())
		signalSinks = append(signalSinks,
			driver.WithSignalSink(hub),
			driver.WithSnapshotSink(hub),
			driver.WithSnapshotEvery(sess.Gateway.SnapshotEvery),
		)
	}

	// ---- One driver per instrument ----
	var drivers []*driver.Driver
	for _, in := range sess.Instruments {
		d, n, err := buildDriver(ctx, sess, in, reader, slogger, signalSinks)
		if err != nil {
			log.Fatalf("[backtest] %s: %v", in.Symbol, err)
		}
		log.Printf("[backtest] %s: %d candles loaded", in.Symbol, n)
		drivers = append(drivers, d)
	}

	start := time.Now()
	stats, err := driver.RunAll(ctx, drivers...)
	if err != nil {
		log.Printf("[backtest] run failed: %v", err)
	}

	res := result{Session: sess.Name, ID: sessionID, Took: time.Since(start).Round(time.Millisecond).String(), Drivers: stats}
	if paper != nil {
		end := sess.Replay.To
		if end.IsZero() {
			end = time.Now().UTC()
		}
		if err := paper.CloseAll(context.Background(), end); err != nil {
			log.Printf("[backtest] closing positions: %v", err)
		}
		sum := paper.Summary()
		res.Account = &sum
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	os.Stdout.Write(append(out, '\n'))

	if hub != nil && ctx.Err() == nil {
		log.Printf("[backtest] replay done, gateway still serving on %s (Ctrl-C to exit)", infra.GatewayAddr)
		<-ctx.Done()
	}
}

func buildDriver(ctx context.Context, sess *config.Session, in config.Instrument, reader *sqlitestore.Reader, slogger *slog.Logger, sinks []driver.Option) (*driver.Driver, int, error) {
	p, err := pipeline.New(in.Config, pipeline.WithLogger(slogger))
	if err != nil {
		return nil, 0, err
	}

	from := sess.Replay.From
	if !from.IsZero() {
		from = from.Add(-sess.Replay.Warmup)
	}
	r := replay.New(reader, replay.Config{
		Symbol:     in.Symbol,
		Timeframes: in.SourceTimeframes(),
		From:       from,
		To:         sess.Replay.To,
		Speed:      sess.Replay.Speed,
	})
	if err := r.Load(ctx); err != nil {
		return nil, 0, err
	}

	var src driver.TickSource = r
	if in.Resample {
		b, err := tfbuilder.New(in.Base, in.Timeframes())
		if err != nil {
			return nil, 0, err
		}
		src = tfbuilder.NewResampler(r, b)
	}

	opts := append([]driver.Option{driver.WithLogger(slogger)}, sinks...)
	if !sess.Replay.From.IsZero() {
		opts = append(opts, driver.WithWarmup(sess.Replay.From))
	}
	return driver.New(p, src, opts...), r.Len(), nil
}

func serveGateway(addr string, hub *gateway.Hub, candles gateway.CandleStore, signals *sqlitestore.Writer, account api.Deps) *http.Server {
	mux := http.NewServeMux()
	api.Register(mux, account)
	gateway.RegisterRoutes(mux, hub, gateway.Deps{
		Candles: candles,
		Health: func(ctx context.Context) map[string]bool {
			return map[string]bool{"sqlite": signals.DB().PingContext(ctx) == nil}
		},
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("[backtest] gateway serving at http://localhost%s", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[backtest] gateway error: %v", err)
		}
	}()
	return srv
}
