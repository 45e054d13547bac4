// Package swing detects confirmed pivot highs and lows per timeframe.
//
// A candidate at index i is confirmed when candle i+Lookahead arrives and no
// candle in the window exceeds it. Ties go to the earliest candle: a
// candidate must be strictly above every lookback candle but only needs to
// be at least as high as every lookahead candle.
package swing

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

// Config sets the confirmation window.
type Config struct {
	Lookback  int `yaml:"lookback" json:"lookback"`
	Lookahead int `yaml:"lookahead" json:"lookahead"`
}

// DefaultConfig returns a 2/2 fractal window.
func DefaultConfig() Config {
	return Config{Lookback: 2, Lookahead: 2}
}

// Size returns the window length W = Lookback + Lookahead + 1.
func (c Config) Size() int {
	return c.Lookback + c.Lookahead + 1
}

// Validate checks the window bounds.
func (c Config) Validate() error {
	if c.Lookback < 1 {
		return fmt.Errorf("swing: lookback must be >= 1, got %d: %w", c.Lookback, model.ErrInvalidConfiguration)
	}
	if c.Lookahead < 1 {
		return fmt.Errorf("swing: lookahead must be >= 1, got %d: %w", c.Lookahead, model.ErrInvalidConfiguration)
	}
	return nil
}

// window is the sliding candle window of one timeframe.
type window struct {
	candles []model.Candle // at most Size() candles, oldest first
	next    int            // absolute index the next candle will get
	lastTS  time.Time
}

// Detector keeps one window and one confirmed-swing log per timeframe.
// Designed for single-goroutine usage; there are no locks.
type Detector struct {
	cfg     Config
	windows map[model.Timeframe]*window
	history map[model.Timeframe][]model.SwingPoint
	log     *slog.Logger
}

// New creates a detector. The config must already be valid.
func New(cfg Config, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{
		cfg:     cfg,
		windows: make(map[model.Timeframe]*window),
		history: make(map[model.Timeframe][]model.SwingPoint),
		log:     log.With(slog.String("component", "swing")),
	}
}

// Ingest advances the candle's timeframe window and returns the swing points
// confirmed by this candle (high before low when one candle is both).
// A candle that is not after the previous one of its timeframe is rejected
// with ErrOutOfOrderCandle and the detector is unchanged.
func (d *Detector) Ingest(c model.Candle) ([]model.SwingPoint, error) {
	w := d.windows[c.TF]
	if w != nil && !c.TS.After(w.lastTS) {
		return nil, &model.OutOfOrderError{TF: c.TF, TS: c.TS, LastTS: w.lastTS}
	}
	if !c.Valid() {
		return nil, fmt.Errorf("swing: %s: %w", c.Key(), model.ErrMalformedCandle)
	}
	if w == nil {
		w = &window{candles: make([]model.Candle, 0, d.cfg.Size())}
		d.windows[c.TF] = w
	}

	if len(w.candles) == d.cfg.Size() {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
	w.next++
	w.lastTS = c.TS

	p := len(w.candles) - 1 - d.cfg.Lookahead // candidate position in the window
	if p < 0 {
		return nil, nil
	}
	idx := w.next - 1 - d.cfg.Lookahead

	var out []model.SwingPoint
	for _, kind := range [...]model.SwingKind{model.SwingHigh, model.SwingLow} {
		if !isPivot(w.candles, p, kind) {
			continue
		}
		cand := w.candles[p]
		sp := model.SwingPoint{
			TF:          c.TF,
			Index:       idx,
			TS:          cand.TS,
			Price:       extreme(cand, kind),
			Kind:        kind,
			Confirmed:   true,
			ConfirmedAt: c.TS,
			Candle:      cand,
		}
		d.history[c.TF] = append(d.history[c.TF], sp)
		out = append(out, sp)
		d.log.Debug("swing confirmed",
			slog.String("tf", c.TF.String()),
			slog.String("kind", string(kind)),
			slog.Float64("price", sp.Price),
			slog.Time("ts", sp.TS),
		)
	}
	return out, nil
}

// Pending returns the not yet confirmed candidates of a timeframe: candles
// inside the lookahead part of the window that currently qualify as pivots
// against the candles seen so far. They may disappear on the next candle.
func (d *Detector) Pending(tf model.Timeframe) []model.SwingPoint {
	w := d.windows[tf]
	if w == nil {
		return nil
	}
	var out []model.SwingPoint
	first := len(w.candles) - d.cfg.Lookahead
	if first < 0 {
		first = 0
	}
	for p := first; p < len(w.candles); p++ {
		for _, kind := range [...]model.SwingKind{model.SwingHigh, model.SwingLow} {
			if !isPivot(w.candles, p, kind) {
				continue
			}
			cand := w.candles[p]
			out = append(out, model.SwingPoint{
				TF:     tf,
				Index:  w.next - len(w.candles) + p,
				TS:     cand.TS,
				Price:  extreme(cand, kind),
				Kind:   kind,
				Candle: cand,
			})
		}
	}
	return out
}

// History returns the confirmed swings of a timeframe, oldest first.
// The returned slice must not be modified.
func (d *Detector) History(tf model.Timeframe) []model.SwingPoint {
	h := d.history[tf]
	return h[:len(h):len(h)]
}

// Count returns the number of candles ingested for a timeframe.
func (d *Detector) Count(tf model.Timeframe) int {
	if w := d.windows[tf]; w != nil {
		return w.next
	}
	return 0
}

// isPivot checks candles[p] against everything before it (strict) and
// everything after it (non-strict).
func isPivot(candles []model.Candle, p int, kind model.SwingKind) bool {
	sign := 1.0
	if kind == model.SwingLow {
		sign = -1
	}
	v := sign * extreme(candles[p], kind)
	for i := 0; i < p; i++ {
		if sign*extreme(candles[i], kind) >= v {
			return false
		}
	}
	for i := p + 1; i < len(candles); i++ {
		if sign*extreme(candles[i], kind) > v {
			return false
		}
	}
	return true
}

func extreme(c model.Candle, kind model.SwingKind) float64 {
	if kind == model.SwingHigh {
		return c.High
	}
	return c.Low
}
