package strategy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pondem87/kraken/internal/model"
)

// Entry triggers for trend following. The +bos variants also enter on
// every later break in the trend direction.
const (
	EntryCHoCH             = "choch"
	EntryCHoCHConfirmed    = "choch_confirmed"
	EntryCHoCHBOS          = "choch+bos"
	EntryCHoCHConfirmedBOS = "choch_confirmed+bos"
)

// Stop placement for trend following.
const (
	StopKeyLevel     = "key_level"
	StopSegmentRange = "segment_range"
)

// Config is the strategy section of a session.
type Config struct {
	Enabled       []string        `yaml:"enabled" json:"enabled"`
	Trend         model.Timeframe `yaml:"trend_timeframe" json:"trend_timeframe"`

	// TrendTimeframes replaces Trend when set: every listed timeframe must
	// agree. ExcludeHighTrend drops the highest of them from the filter.
	TrendTimeframes  []model.Timeframe `yaml:"trend_timeframes" json:"trend_timeframes,omitempty"`
	ExcludeHighTrend bool              `yaml:"exclude_high_trend" json:"exclude_high_trend"`

	MinConfidence float64         `yaml:"min_confidence" json:"min_confidence"`
	RewardRatio   float64         `yaml:"reward_ratio" json:"reward_ratio"`
	Entry         string          `yaml:"entry" json:"entry"`
	StopLevel     string          `yaml:"sl_level" json:"sl_level"`
	StopMargin    float64         `yaml:"sl_level_margin" json:"sl_level_margin"` // fraction of the structural risk
	WickRatio     float64         `yaml:"wick_ratio" json:"wick_ratio"`           // price_action rejection wick / range

	// Base is set by the pipeline to the session's base timeframe.
	Base model.Timeframe `yaml:"-" json:"-"`
}

// DefaultConfig runs trend following on CHoCH entries with key level stops.
func DefaultConfig() Config {
	return Config{
		Enabled:     []string{NameTrendFollowing},
		RewardRatio: 2,
		Entry:       EntryCHoCH,
		StopLevel:   StopKeyLevel,
		StopMargin:  0.1,
		WickRatio:   0.5,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Enabled) == 0 {
		errs = append(errs, errors.New("strategy: no strategy enabled"))
	}
	for _, name := range c.Enabled {
		if !Known(name) {
			errs = append(errs, fmt.Errorf("strategy: unknown strategy %q", name))
		}
		if canonical(name) == NameTrendFollowing && len(c.TrendFrames()) == 0 {
			errs = append(errs, errors.New("strategy: trend_following needs trend_timeframe or trend_timeframes"))
		}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("strategy: min_confidence %.3f outside [0, 1]", c.MinConfidence))
	}
	if c.RewardRatio <= 0 {
		errs = append(errs, fmt.Errorf("strategy: reward_ratio must be > 0, got %.3f", c.RewardRatio))
	}
	if c.StopMargin < 0 {
		errs = append(errs, fmt.Errorf("strategy: sl_level_margin must be >= 0, got %.3f", c.StopMargin))
	}
	if c.WickRatio < 0 || c.WickRatio > 1 {
		errs = append(errs, fmt.Errorf("strategy: wick_ratio %.3f outside [0, 1]", c.WickRatio))
	}
	switch c.Entry {
	case EntryCHoCH, EntryCHoCHConfirmed, EntryCHoCHBOS, EntryCHoCHConfirmedBOS:
	default:
		errs = append(errs, fmt.Errorf("strategy: unknown entry %q", c.Entry))
	}
	switch c.StopLevel {
	case StopKeyLevel, StopSegmentRange:
	default:
		errs = append(errs, fmt.Errorf("strategy: unknown sl_level %q", c.StopLevel))
	}
	seen := make(map[model.Timeframe]bool, len(c.TrendTimeframes))
	for _, tf := range c.TrendTimeframes {
		if seen[tf] {
			errs = append(errs, fmt.Errorf("strategy: duplicate trend timeframe %s", tf))
		}
		seen[tf] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// TrendFrames returns the timeframes the trend filter consults, lowest
// first. With ExcludeHighTrend and more than one timeframe the highest is
// left out.
func (c Config) TrendFrames() []model.Timeframe {
	var tfs []model.Timeframe
	switch {
	case len(c.TrendTimeframes) > 0:
		tfs = append(tfs, c.TrendTimeframes...)
	case c.Trend != 0:
		tfs = []model.Timeframe{c.Trend}
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	if c.ExcludeHighTrend && len(tfs) > 1 {
		tfs = tfs[:len(tfs)-1]
	}
	return tfs
}
