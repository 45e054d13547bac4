package pipeline

import (
	"errors"
	"fmt"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/strategy"
	"github.com/pondem87/kraken/internal/swing"
	"github.com/pondem87/kraken/internal/zone"
)

// Config is the immutable per-instrument engine configuration.
type Config struct {
	Symbol string          `yaml:"symbol" json:"symbol"`
	Base   model.Timeframe `yaml:"base_timeframe" json:"base_timeframe"`

	// Structure lists the timeframes annotated with structure besides the
	// base timeframe, e.g. the trend timeframe.
	Structure []model.Timeframe `yaml:"structure_timeframes" json:"structure_timeframes"`

	Swing    swing.Config    `yaml:"swing" json:"swing"`
	Zone     zone.Config     `yaml:"zones" json:"zones"`
	Strategy strategy.Config `yaml:"strategy" json:"strategy"`

	MaxCandles        int `yaml:"max_candles" json:"max_candles"`               // per timeframe retention, 0 = all
	AnnotationCandles int `yaml:"annotation_candles" json:"annotation_candles"` // candles per timeframe in snapshots
}

// DefaultConfig returns a config with every section at its default. Base
// and symbol still have to be set.
func DefaultConfig() Config {
	return Config{
		Swing:             swing.DefaultConfig(),
		Zone:              zone.DefaultConfig(),
		Strategy:          strategy.DefaultConfig(),
		AnnotationCandles: 200,
	}
}

// Timeframes returns every timeframe the pipeline accepts: base first, then
// structure, then zone timeframes, without duplicates.
func (c Config) Timeframes() []model.Timeframe {
	var out []model.Timeframe
	seen := map[model.Timeframe]bool{}
	add := func(tfs ...model.Timeframe) {
		for _, tf := range tfs {
			if tf > 0 && !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	add(c.Base)
	add(c.Structure...)
	add(c.Zone.Timeframes...)
	add(c.Strategy.TrendFrames()...)
	return out
}

// StructureTimeframes returns the annotated timeframes: base, the
// configured structure timeframes and the trend timeframes.
func (c Config) StructureTimeframes() []model.Timeframe {
	out := []model.Timeframe{c.Base}
	seen := map[model.Timeframe]bool{c.Base: true}
	for _, tf := range append(append([]model.Timeframe{}, c.Structure...), c.Strategy.TrendFrames()...) {
		if tf > 0 && !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out
}

// Validate checks every section and reports all problems at once, wrapped
// in ErrInvalidConfiguration.
func (c Config) Validate() error {
	var errs []error
	if c.Base <= 0 {
		errs = append(errs, errors.New("pipeline: base timeframe not set"))
	}
	for _, tf := range c.Zone.Timeframes {
		if tf == c.Base {
			errs = append(errs, fmt.Errorf("pipeline: zone timeframe %s equals the base timeframe", tf))
		}
	}
	for _, tf := range c.Structure {
		if tf <= 0 {
			errs = append(errs, fmt.Errorf("pipeline: invalid structure timeframe %d", int(tf)))
		}
	}
	if c.MaxCandles < 0 || c.AnnotationCandles < 0 {
		errs = append(errs, errors.New("pipeline: candle counts must be >= 0"))
	}
	if c.MaxCandles > 0 && c.MaxCandles < c.Swing.Size() {
		errs = append(errs, fmt.Errorf("pipeline: max_candles %d below the swing window %d", c.MaxCandles, c.Swing.Size()))
	}
	for _, err := range []error{c.Swing.Validate(), c.Zone.Validate(), c.Strategy.Validate()} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}
