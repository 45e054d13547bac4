// Package pipeline runs the per-instrument analysis core: buffer, swing
// detection, structure, zones and strategies, one closed candle at a time.
//
// A Pipeline has no locks and does no I/O. Drivers own the timeline and call
// Ingest from a single goroutine; instruments run in separate pipelines.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/series"
	"github.com/pondem87/kraken/internal/strategy"
	"github.com/pondem87/kraken/internal/structure"
	"github.com/pondem87/kraken/internal/swing"
	"github.com/pondem87/kraken/internal/zone"
)

// Tick is everything one candle produced.
type Tick struct {
	Candle      model.Candle           `json:"candle"`
	Swings      []model.SwingPoint     `json:"swings,omitempty"`
	Events      []model.StructureEvent `json:"events,omitempty"`
	NewZones    []model.Zone           `json:"new_zones,omitempty"`
	ZoneChanges []model.ZoneTransition `json:"zone_changes,omitempty"`
	Signals     []model.Signal         `json:"signals,omitempty"`
}

// Empty reports whether the candle changed nothing but the buffer.
func (t *Tick) Empty() bool {
	return len(t.Swings) == 0 && len(t.Events) == 0 && len(t.NewZones) == 0 &&
		len(t.ZoneChanges) == 0 && len(t.Signals) == 0
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithStrategy registers an extra strategy next to the configured ones.
func WithStrategy(s strategy.Strategy) Option {
	return func(p *Pipeline) { p.extra = append(p.extra, s) }
}

// Pipeline is the analysis core of one instrument.
type Pipeline struct {
	cfg      Config
	log      *slog.Logger
	extra    []strategy.Strategy
	isStruct map[model.Timeframe]bool

	candles *series.Set
	swings  *swing.Detector
	structs *structure.Annotator
	zones   *zone.Tracker
	engine  *strategy.Engine

	signals []model.Signal
	lastTS  time.Time
}

// New validates cfg and builds the components. Configuration problems are
// reported here, before any candle, wrapped in ErrInvalidConfiguration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("symbol", cfg.Symbol))

	p.cfg.Zone.PriceTF = cfg.Base
	p.cfg.Strategy.Base = cfg.Base

	engine, err := strategy.NewEngine(p.cfg.Strategy, p.log)
	if err != nil {
		return nil, err
	}
	for _, s := range p.extra {
		engine.Register(s)
	}

	p.isStruct = make(map[model.Timeframe]bool)
	for _, tf := range cfg.StructureTimeframes() {
		p.isStruct[tf] = true
	}
	p.candles = series.NewSet(cfg.Timeframes(), cfg.MaxCandles)
	p.swings = swing.New(cfg.Swing, p.log)
	p.structs = structure.New(p.log)
	p.zones = zone.New(p.cfg.Zone, p.log)
	p.engine = engine

	p.log.Info("pipeline ready",
		slog.String("base", cfg.Base.String()),
		slog.Any("timeframes", cfg.Timeframes()),
		slog.Any("strategies", engine.Strategies()),
	)
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Ingest processes one closed candle to completion. Rejected candles
// (out of order, malformed, unknown timeframe or symbol) return an error
// matched by model.IsRejection and leave every component unchanged.
func (p *Pipeline) Ingest(c model.Candle) (Tick, error) {
	if p.cfg.Symbol != "" && c.Symbol != p.cfg.Symbol {
		return Tick{}, fmt.Errorf("pipeline: candle for %q in %q session: %w", c.Symbol, p.cfg.Symbol, model.ErrMalformedCandle)
	}
	if err := p.candles.Append(c); err != nil {
		return Tick{}, err
	}
	tick := Tick{Candle: c}

	sps, err := p.swings.Ingest(c)
	if err != nil {
		return Tick{}, fmt.Errorf("pipeline: swing detector out of step with buffer: %w", err)
	}
	tick.Swings = sps

	annotate := p.isStruct[c.TF]
	for _, sp := range sps {
		if annotate {
			tick.Events = append(tick.Events, p.structs.OnSwingPoint(sp)...)
		}
		if z, ok := p.zones.OnSwingPoint(sp, sp.TF); ok {
			tick.NewZones = append(tick.NewZones, *z)
		}
	}
	if annotate {
		tick.Events = append(tick.Events, p.structs.OnCandle(c)...)
	}
	tick.ZoneChanges = append(p.zones.Flush(), p.zones.OnCandle(c)...)

	if c.TF == p.cfg.Base {
		tick.Signals = p.engine.OnTick(strategy.Input{
			Symbol:     c.Symbol,
			TF:         c.TF,
			Candle:     c,
			Structures: p.structs.Snapshot(),
			Events:     tick.Events,
			Zones:      p.zones.Snapshot(tick.ZoneChanges),
		})
		p.signals = append(p.signals, tick.Signals...)
	}
	if c.TS.After(p.lastTS) {
		p.lastTS = c.TS
	}
	return tick, nil
}

// Signals returns the signals emitted so far, oldest first.
func (p *Pipeline) Signals() []model.Signal {
	out := make([]model.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

// Structure returns the structure state of one timeframe.
func (p *Pipeline) Structure(tf model.Timeframe) (model.StructureState, error) {
	return p.structs.State(tf)
}

// Zones returns every zone created so far.
func (p *Pipeline) Zones() []model.Zone {
	return p.zones.All()
}

// Snapshot is the read-only visualization view of a pipeline.
type Snapshot struct {
	Symbol     string                                     `json:"symbol"`
	TS         time.Time                                  `json:"ts"`
	Structures map[model.Timeframe]model.StructureState   `json:"structures"`
	Events     map[model.Timeframe][]model.StructureEvent `json:"events"`
	Swings     map[model.Timeframe][]model.SwingPoint     `json:"swings"`
	Zones      []model.Zone                               `json:"zones"`
	Signals    []model.Signal                             `json:"signals"`
	Candles    map[model.Timeframe][]model.Candle         `json:"candles"`
}

// Snapshot copies the current state. Candles carry the last
// AnnotationCandles candles of each timeframe.
func (p *Pipeline) Snapshot() Snapshot {
	s := Snapshot{
		Symbol:     p.cfg.Symbol,
		TS:         p.lastTS,
		Structures: p.structs.Snapshot(),
		Events:     make(map[model.Timeframe][]model.StructureEvent),
		Swings:     make(map[model.Timeframe][]model.SwingPoint),
		Zones:      p.zones.All(),
		Signals:    p.Signals(),
		Candles:    make(map[model.Timeframe][]model.Candle),
	}
	for _, tf := range p.candles.Timeframes() {
		if evs := p.structs.Events(tf); len(evs) > 0 {
			s.Events[tf] = append([]model.StructureEvent(nil), evs...)
		}
		if sps := p.swings.History(tf); len(sps) > 0 {
			s.Swings[tf] = append([]model.SwingPoint(nil), sps...)
		}
		if b, ok := p.candles.Buffer(tf); ok && p.cfg.AnnotationCandles > 0 {
			if w := b.Window(p.cfg.AnnotationCandles); len(w) > 0 {
				s.Candles[tf] = append([]model.Candle(nil), w...)
			}
		}
	}
	return s
}
