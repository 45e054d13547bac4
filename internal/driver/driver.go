// Package driver owns the timeline of a session: it pulls closed candles
// from a TickSource, runs them through a pipeline and hands the results to
// sinks. Replay and live mode differ only in the source.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

// TickSource yields closed candles in processing order. Next blocks until a
// candle is available and returns io.EOF when the source is exhausted.
type TickSource interface {
	Next(ctx context.Context) (model.Candle, error)
}

// SignalSink receives every signal emitted after warm-up.
type SignalSink interface {
	OnSignal(ctx context.Context, sig model.Signal) error
}

// SnapshotSink receives pipeline snapshots for visualization.
type SnapshotSink interface {
	OnSnapshot(ctx context.Context, snap pipeline.Snapshot) error
}

// CandleSink sees every accepted base timeframe candle after warm-up (paper
// execution checks stops and targets against it).
type CandleSink interface {
	OnCandle(ctx context.Context, c model.Candle) error
}

// StructureSink sees every base timeframe structure event after warm-up,
// with the base structure state after the event's candle (paper execution
// exits and moves stops on it).
type StructureSink interface {
	OnStructure(ctx context.Context, symbol string, ev model.StructureEvent, st model.StructureState) error
}

// Observer is told about every processed candle; metrics implement it.
type Observer interface {
	ObserveTick(tick pipeline.Tick, took time.Duration)
	ObserveRejected(c model.Candle, err error)
}

// Stats summarizes a run.
type Stats struct {
	Candles    int `json:"candles"`
	Warmup     int `json:"warmup"`
	Rejected   int `json:"rejected"`
	Signals    int `json:"signals"`
	SinkErrors int `json:"sink_errors"`
}

// Option configures a Driver.
type Option func(*Driver)

// WithSignalSink adds a signal sink.
func WithSignalSink(s SignalSink) Option {
	return func(d *Driver) { d.signals = append(d.signals, s) }
}

// WithSnapshotSink adds a snapshot sink.
func WithSnapshotSink(s SnapshotSink) Option {
	return func(d *Driver) { d.snapshots = append(d.snapshots, s) }
}

// WithCandleSink adds a candle sink.
func WithCandleSink(s CandleSink) Option {
	return func(d *Driver) { d.candles = append(d.candles, s) }
}

// WithStructureSink adds a structure sink.
func WithStructureSink(s StructureSink) Option {
	return func(d *Driver) { d.structures = append(d.structures, s) }
}

// WithObserver sets the tick observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// WithWarmup feeds candles before until to the pipeline without forwarding
// anything to sinks.
func WithWarmup(until time.Time) Option {
	return func(d *Driver) { d.warmupUntil = until }
}

// WithSnapshotEvery publishes a snapshot every n base candles instead of
// after every candle that changed something.
func WithSnapshotEvery(n int) Option {
	return func(d *Driver) { d.snapshotEvery = n }
}

// WithLogger sets the driver logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// Driver runs one instrument.
type Driver struct {
	p             *pipeline.Pipeline
	src           TickSource
	signals       []SignalSink
	snapshots     []SnapshotSink
	candles       []CandleSink
	structures    []StructureSink
	observer      Observer
	warmupUntil   time.Time
	snapshotEvery int
	log           *slog.Logger

	base     model.Timeframe
	baseSeen int
}

// New creates a driver for a pipeline and its source.
func New(p *pipeline.Pipeline, src TickSource, opts ...Option) *Driver {
	d := &Driver{p: p, src: src, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	cfg := p.Config()
	d.base = cfg.Base
	d.log = d.log.With(slog.String("component", "driver"), slog.String("symbol", cfg.Symbol))
	return d
}

// Run pulls candles until the source is exhausted (nil error) or ctx is
// cancelled (ctx.Err()). Rejected candles are logged and skipped; any other
// source error ends the run.
func (d *Driver) Run(ctx context.Context) (Stats, error) {
	var st Stats
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		c, err := d.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			d.log.Info("source exhausted",
				slog.Int("candles", st.Candles),
				slog.Int("rejected", st.Rejected),
				slog.Int("signals", st.Signals),
				slog.Duration("took", time.Since(start)),
			)
			return st, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			return st, fmt.Errorf("driver: next candle: %w", err)
		}

		began := time.Now()
		tick, err := d.p.Ingest(c)
		if err != nil {
			if !model.IsRejection(err) {
				return st, err
			}
			st.Rejected++
			d.log.Warn("candle rejected",
				slog.String("key", c.Key()),
				slog.Time("ts", c.TS),
				slog.String("error", err.Error()),
			)
			if d.observer != nil {
				d.observer.ObserveRejected(c, err)
			}
			continue
		}
		st.Candles++
		if d.observer != nil {
			d.observer.ObserveTick(tick, time.Since(began))
		}

		if c.TS.Before(d.warmupUntil) {
			st.Warmup++
			continue
		}
		st.SinkErrors += d.forward(ctx, tick)
		st.Signals += len(tick.Signals)
	}
}

// forward hands one tick to the sinks and returns the number of failures.
func (d *Driver) forward(ctx context.Context, tick pipeline.Tick) int {
	failed := 0
	if tick.Candle.TF == d.base {
		for _, s := range d.candles {
			if err := s.OnCandle(ctx, tick.Candle); err != nil {
				failed++
				d.log.Error("candle sink failed", slog.String("error", err.Error()))
			}
		}
	}
	if len(d.structures) > 0 {
		failed += d.forwardStructure(ctx, tick)
	}
	for _, sig := range tick.Signals {
		for _, s := range d.signals {
			if err := s.OnSignal(ctx, sig); err != nil {
				failed++
				d.log.Error("signal sink failed", slog.String("signal", sig.ID), slog.String("error", err.Error()))
			}
		}
	}
	if len(d.snapshots) > 0 && d.snapshotDue(tick) {
		snap := d.p.Snapshot()
		for _, s := range d.snapshots {
			if err := s.OnSnapshot(ctx, snap); err != nil {
				failed++
				d.log.Error("snapshot sink failed", slog.String("error", err.Error()))
			}
		}
	}
	return failed
}

func (d *Driver) forwardStructure(ctx context.Context, tick pipeline.Tick) int {
	failed := 0
	var (
		st     model.StructureState
		loaded bool
	)
	for _, ev := range tick.Events {
		if ev.TF != d.base {
			continue
		}
		if !loaded {
			var err error
			if st, err = d.p.Structure(d.base); err != nil {
				return failed
			}
			loaded = true
		}
		for _, s := range d.structures {
			if err := s.OnStructure(ctx, tick.Candle.Symbol, ev, st); err != nil {
				failed++
				d.log.Error("structure sink failed", slog.String("event", ev.ID), slog.String("error", err.Error()))
			}
		}
	}
	return failed
}

func (d *Driver) snapshotDue(tick pipeline.Tick) bool {
	if d.snapshotEvery <= 0 {
		return !tick.Empty()
	}
	if tick.Candle.TF != d.base {
		return false
	}
	d.baseSeen++
	return d.baseSeen%d.snapshotEvery == 0
}

// RunAll runs every driver in its own goroutine and waits for all of them.
// Instruments are independent: one failing does not stop the others. The
// errors of all failed drivers are joined.
func RunAll(ctx context.Context, drivers ...*Driver) (map[string]Stats, error) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		stats = make(map[string]Stats, len(drivers))
		errs  []error
	)
	for _, d := range drivers {
		wg.Add(1)
		go func(d *Driver) {
			defer wg.Done()
			st, err := d.Run(ctx)
			symbol := d.p.Config().Symbol
			mu.Lock()
			defer mu.Unlock()
			stats[symbol] = st
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			}
		}(d)
	}
	wg.Wait()
	return stats, errors.Join(errs...)
}
