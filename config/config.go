// Package config loads a session: the instrument bundle and run settings
// from YAML, and infrastructure endpoints from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pondem87/kraken/internal/execution"
	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/pipeline"
)

// Run modes.
const (
	ModeReplay = "replay"
	ModeLive   = "live"
)

// Live feed sources.
const (
	SourceWS    = "ws"
	SourceRedis = "redis"
)

// Instrument is one pipeline plus how its candles are obtained.
type Instrument struct {
	pipeline.Config `yaml:",inline"`

	// Resample derives every higher timeframe from base candles instead of
	// reading them from the store or the feed.
	Resample bool `yaml:"resample"`
}

// UnmarshalYAML decodes on top of the pipeline defaults so a minimal entry
// only names the symbol and base timeframe.
func (in *Instrument) UnmarshalYAML(n *yaml.Node) error {
	type plain Instrument
	p := plain{Config: pipeline.DefaultConfig()}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*in = Instrument(p)
	return nil
}

// SourceTimeframes returns the timeframes read from the store or feed.
func (in Instrument) SourceTimeframes() []model.Timeframe {
	if in.Resample {
		return []model.Timeframe{in.Base}
	}
	return in.Timeframes()
}

// Replay bounds a historical run.
type Replay struct {
	From  time.Time `yaml:"from"`
	To    time.Time `yaml:"to"`
	Speed float64   `yaml:"speed"` // 0 = as fast as possible, 1 = real time

	// Warmup is how far before From candles are fed without forwarding
	// signals, so structure exists when the session starts.
	Warmup time.Duration `yaml:"warmup"`
}

// Live configures the live feed.
type Live struct {
	Source         string        `yaml:"source"` // ws or redis
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	BufferSize     int           `yaml:"buffer_size"`
	ConsumerGroup  string        `yaml:"consumer_group"`
	ConsumerName   string        `yaml:"consumer_name"`
}

// Gateway configures the visualization hub.
type Gateway struct {
	Enabled       bool `yaml:"enabled"`
	ReplaySize    int  `yaml:"replay_size"`
	SnapshotEvery int  `yaml:"snapshot_every"` // base candles between snapshots, 0 = on change
}

// Notify configures signal alerts.
type Notify struct {
	Log           bool    `yaml:"log"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// Session is the immutable bundle a binary runs with.
type Session struct {
	Name        string           `yaml:"name"`
	Mode        string           `yaml:"mode"`
	LogLevel    string           `yaml:"log_level"`
	Instruments []Instrument     `yaml:"instruments"`
	Replay      Replay           `yaml:"replay"`
	Live        Live             `yaml:"live"`
	Paper       execution.Config `yaml:"paper"`
	PaperTrade  bool             `yaml:"paper_trade"`
	Gateway     Gateway          `yaml:"gateway"`
	Notify      Notify           `yaml:"notify"`
}

// Default returns a replay session with paper trading and no instruments.
func Default() Session {
	return Session{
		Name:       "kraken",
		Mode:       ModeReplay,
		LogLevel:   "info",
		Paper:      execution.DefaultConfig(),
		PaperTrade: true,
		Live: Live{
			Source:         SourceWS,
			ReconnectDelay: 2 * time.Second,
			BufferSize:     4096,
		},
		Gateway: Gateway{ReplaySize: 256},
		Notify:  Notify{Log: true},
	}
}

// Load reads a YAML file from disk and hydrates a Session on top of the
// defaults. The result is validated.
func Load(path string) (*Session, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	s := Default()
	if err := yaml.NewDecoder(file).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Parse hydrates a Session from YAML bytes without validating it.
func Parse(data []byte) (Session, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode yaml: %w", err)
	}
	return s, nil
}

// Validate checks every section and reports all problems at once.
func (s Session) Validate() error {
	var errs []error
	switch s.Mode {
	case ModeReplay, ModeLive:
	default:
		errs = append(errs, fmt.Errorf("config: unknown mode %q", s.Mode))
	}
	if len(s.Instruments) == 0 {
		errs = append(errs, errors.New("config: no instruments"))
	}
	seen := map[string]bool{}
	for i, in := range s.Instruments {
		if in.Symbol == "" {
			errs = append(errs, fmt.Errorf("config: instrument %d has no symbol", i))
		}
		if seen[in.Symbol] {
			errs = append(errs, fmt.Errorf("config: duplicate instrument %q", in.Symbol))
		}
		seen[in.Symbol] = true
		if err := in.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.Symbol, err))
		}
		if in.Resample {
			for _, tf := range in.Timeframes() {
				if tf%in.Base != 0 {
					errs = append(errs, fmt.Errorf("config: %s: %s is not a multiple of the base timeframe", in.Symbol, tf))
				}
			}
		}
	}
	if !s.Replay.From.IsZero() && !s.Replay.To.IsZero() && !s.Replay.From.Before(s.Replay.To) {
		errs = append(errs, errors.New("config: replay.from must be before replay.to"))
	}
	if s.Replay.Speed < 0 || s.Replay.Warmup < 0 {
		errs = append(errs, errors.New("config: replay speed and warmup must be >= 0"))
	}
	if s.Mode == ModeLive && s.Live.Source != SourceWS && s.Live.Source != SourceRedis {
		errs = append(errs, fmt.Errorf("config: unknown live source %q", s.Live.Source))
	}
	if s.Gateway.ReplaySize < 0 || s.Gateway.SnapshotEvery < 0 {
		errs = append(errs, errors.New("config: gateway sizes must be >= 0"))
	}
	if s.PaperTrade {
		if err := s.Paper.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// Instrument returns the instrument configured for symbol.
func (s Session) Instrument(symbol string) (Instrument, bool) {
	for _, in := range s.Instruments {
		if in.Symbol == symbol {
			return in, true
		}
	}
	return Instrument{}, false
}

// Save persists a Session to disk as YAML.
func Save(path string, s *Session) error {
	if s == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
