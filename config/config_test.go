package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/zone"
)

func TestLoad_Example(t *testing.T) {
	s, err := Load("session.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, ModeReplay, s.Mode)
	require.Len(t, s.Instruments, 1)
	in := s.Instruments[0]
	assert.Equal(t, "Step Index", in.Symbol)
	assert.Equal(t, model.M15, in.Base)
	assert.Equal(t, []model.Timeframe{model.H1}, in.Structure)
	assert.Equal(t, []model.Timeframe{model.H4}, in.Zone.Timeframes)
	assert.Equal(t, model.H1, in.Strategy.Trend)
	assert.True(t, in.Resample)
	assert.Equal(t, []model.Timeframe{model.M15}, in.SourceTimeframes())

	assert.Equal(t, 72*time.Hour, s.Replay.Warmup)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), s.Replay.From.UTC())
	assert.Equal(t, 10.0, s.Paper.ContractSize)
	assert.Equal(t, "choch", s.Paper.ExitOn)
	assert.True(t, s.Paper.MoveStopOnBOS)
	assert.Equal(t, 0.5, s.Notify.MinConfidence)
}

func TestParse_InstrumentDefaults(t *testing.T) {
	s, err := Parse([]byte(`
instruments:
  - symbol: EURUSD
    base_timeframe: "900"
    strategy:
      enabled: [structure_break]
`))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	in := s.Instruments[0]
	assert.Equal(t, model.M15, in.Base)
	assert.Equal(t, 2, in.Swing.Lookback, "swing defaults kept")
	assert.Equal(t, zone.ModeCandle, in.Zone.Mode)
	assert.Equal(t, 3, in.Zone.ReactionCandles)
	assert.Equal(t, 200, in.AnnotationCandles)
	assert.Equal(t, []string{"structure_break"}, in.Strategy.Enabled)
	assert.Equal(t, 2.0, in.Strategy.RewardRatio)
	assert.Equal(t, SourceWS, s.Live.Source, "session defaults kept")
}

func TestValidate_CollectsEverything(t *testing.T) {
	s, err := Parse([]byte(`
mode: paper
instruments:
  - symbol: A
    base_timeframe: M15
    swing: {lookback: 0}
    strategy: {enabled: [structure_break]}
  - symbol: A
    base_timeframe: M15
    resample: true
    structure_timeframes: ["1000"]
    strategy: {enabled: [structure_break]}
replay:
  from: 2024-01-02T00:00:00Z
  to: 2024-01-01T00:00:00Z
paper:
  risk_per_trade: 2
`))
	require.NoError(t, err)

	err = s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
	for _, want := range []string{
		`unknown mode "paper"`,
		`duplicate instrument "A"`,
		"lookback",
		"not a multiple of the base timeframe",
		"replay.from must be before replay.to",
		"risk_per_trade",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_NoInstruments(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no instruments")
}

func TestSaveRoundTrip(t *testing.T) {
	s, err := Load("session.example.yaml")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, s))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Instruments[0].Config, again.Instruments[0].Config)
	assert.Equal(t, s.Paper, again.Paper)
}

func TestLoadInfra(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, os.WriteFile(".env", []byte("JOURNAL_PATH=/tmp/j.db\n"), 0o644))
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("JOURNAL_PATH", "")
	os.Unsetenv("JOURNAL_PATH")

	inf := LoadInfra()
	assert.Equal(t, "redis:6380", inf.RedisAddr)
	assert.Equal(t, 3, inf.RedisDB)
	assert.Equal(t, "/tmp/j.db", inf.JournalPath, ".env fills unset variables")
	assert.Equal(t, ":9090", inf.MetricsAddr)

	t.Setenv("REDIS_DB", "x")
	assert.Equal(t, 0, LoadInfra().RedisDB)
}
