// Package strategy turns structure and zone snapshots into trade signals.
//
// Strategies are stateless: every decision is a function of the Input of
// the current base timeframe candle. The set of strategies is closed and
// selected once from configuration by Build.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/zone"
)

// Input is everything a strategy may look at for one base candle.
type Input struct {
	Symbol string
	TF     model.Timeframe // base timeframe
	Candle model.Candle

	// Structures holds the state of every timeframe that has structure.
	Structures map[model.Timeframe]model.StructureState

	// Events are the structure events of the base timeframe produced by
	// this candle.
	Events []model.StructureEvent

	// Zones is the zone snapshot after this candle, with this candle's
	// transitions.
	Zones zone.Snapshot

	view *zone.Tracker
}

// ZoneView returns a query view over the zone snapshot.
func (in *Input) ZoneView() *zone.Tracker {
	if in.view == nil {
		in.view = in.Zones.View()
	}
	return in.view
}

// Base returns the base timeframe structure state.
func (in *Input) Base() (model.StructureState, bool) {
	st, ok := in.Structures[in.TF]
	return st, ok
}

// Strategy is one signal generator.
type Strategy interface {
	// Name returns the strategy id used in signals and configuration.
	Name() string

	// Evaluate returns zero or more signals. No signal is an empty result,
	// never an error.
	Evaluate(in *Input) []model.Signal
}

// Engine runs the configured strategies on base timeframe candles.
type Engine struct {
	cfg        Config
	strategies []Strategy
	log        *slog.Logger
}

// NewEngine builds every enabled strategy. Unknown ids fail with
// ErrInvalidConfiguration.
func NewEngine(cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: log.With(slog.String("component", "strategy"))}
	for _, name := range cfg.Enabled {
		s, err := Build(name, cfg)
		if err != nil {
			return nil, err
		}
		e.strategies = append(e.strategies, s)
	}
	return e, nil
}

// Register adds a strategy outside the configured set (tests, tools).
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Strategies returns the names of the running strategies.
func (e *Engine) Strategies() []string {
	out := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = s.Name()
	}
	return out
}

// OnTick evaluates every strategy for a candle. Candles of timeframes other
// than the base return nil. Signals below MinConfidence are dropped.
// Conflicting signals from different strategies are all returned.
func (e *Engine) OnTick(in Input) []model.Signal {
	if in.TF != e.cfg.Base || in.Candle.TF != e.cfg.Base {
		return nil
	}
	if in.Symbol == "" {
		in.Symbol = in.Candle.Symbol
	}

	var out []model.Signal
	for _, s := range e.strategies {
		for _, sig := range s.Evaluate(&in) {
			if sig.Confidence < e.cfg.MinConfidence {
				e.log.Debug("signal below min confidence",
					slog.String("strategy", sig.Strategy),
					slog.Float64("confidence", sig.Confidence),
				)
				continue
			}
			out = append(out, sig)
			e.log.Info("signal",
				slog.String("strategy", sig.Strategy),
				slog.String("symbol", sig.Symbol),
				slog.String("direction", string(sig.Direction)),
				slog.Float64("entry", sig.Entry),
				slog.Float64("stop", sig.Stop),
				slog.Float64("target", sig.Target),
				slog.Float64("confidence", sig.Confidence),
			)
		}
	}
	return out
}

// newSignal fills the fields every strategy sets the same way. trigger is
// the id of the zone or event the signal answers; one candle may produce
// several signals of one strategy, told apart only by it.
func newSignal(name, trigger string, in *Input, dir model.Direction, entry, stop, target, confidence float64, rationale string) model.Signal {
	if confidence > 1 {
		confidence = 1
	}
	return model.Signal{
		ID:         model.NewID("signal", name, in.Symbol, in.TF.String(), in.Candle.TS.UTC().Format(time.RFC3339Nano), string(dir), trigger),
		Strategy:   name,
		Symbol:     in.Symbol,
		TF:         in.TF,
		TS:         in.Candle.TS,
		Direction:  dir,
		Entry:      entry,
		Stop:       stop,
		Target:     target,
		Confidence: confidence,
		Rationale:  rationale,
	}
}

// eventRefs returns the ids of evs, sorted for stable output.
func eventRefs(evs ...model.StructureEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	sort.Strings(out)
	return out
}

func describe(ev model.StructureEvent) string {
	return fmt.Sprintf("%s %s at %.5g through %.5g", ev.TF, ev.Kind, ev.Price, ev.Level)
}
