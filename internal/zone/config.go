package zone

import (
	"errors"
	"fmt"

	"github.com/pondem87/kraken/internal/model"
)

// Mode selects which part of the swing candle becomes the zone.
type Mode string

const (
	ModeCandle Mode = "candle" // [low, high]
	ModeBody   Mode = "body"   // [min(open, close), max(open, close)]
	ModeWick   Mode = "wick"   // the wick on the swing side
)

// Precedence picks one zone when several contain a price.
type Precedence string

const (
	Newest          Precedence = "newest"
	Oldest          Precedence = "oldest"
	HigherTimeframe Precedence = "higher_timeframe"
)

// Config controls zone creation and lifecycle.
type Config struct {
	Timeframes      []model.Timeframe `yaml:"timeframes" json:"timeframes"`
	Mode            Mode              `yaml:"mode" json:"mode"`
	ReactionCandles int               `yaml:"reaction_candles" json:"reaction_candles"`
	Precedence      Precedence        `yaml:"precedence" json:"precedence"`
	MaxActive       int               `yaml:"max_active" json:"max_active"` // 0 = unlimited

	// PriceTF is the timeframe whose candles drive the lifecycle. The
	// pipeline sets it to the session's base timeframe.
	PriceTF model.Timeframe `yaml:"-" json:"-"`
}

// DefaultConfig returns candle-mode zones with a 3 candle reaction window.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeCandle,
		ReactionCandles: 3,
		Precedence:      Newest,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeCandle, ModeBody, ModeWick:
	default:
		errs = append(errs, fmt.Errorf("zone: unknown mode %q", c.Mode))
	}
	switch c.Precedence {
	case Newest, Oldest, HigherTimeframe:
	default:
		errs = append(errs, fmt.Errorf("zone: unknown precedence %q", c.Precedence))
	}
	if c.ReactionCandles < 1 {
		errs = append(errs, fmt.Errorf("zone: reaction_candles must be >= 1, got %d", c.ReactionCandles))
	}
	if c.MaxActive < 0 {
		errs = append(errs, fmt.Errorf("zone: max_active must be >= 0, got %d", c.MaxActive))
	}
	seen := make(map[model.Timeframe]bool, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if seen[tf] {
			errs = append(errs, fmt.Errorf("zone: duplicate timeframe %s", tf))
		}
		seen[tf] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}
