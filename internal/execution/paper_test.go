package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
)

var t0 = time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TrailingAtR = 2
	return cfg
}

func signal(id string, dir model.Direction, entry, stop, target float64) model.Signal {
	return model.Signal{
		ID:        id,
		Strategy:  "structure_break",
		Symbol:    "Step Index",
		TF:        model.M15,
		TS:        t0,
		Direction: dir,
		Entry:     entry,
		Stop:      stop,
		Target:    target,
	}
}

func bar(i int, h, l, c float64) model.Candle {
	return model.Candle{
		Symbol: "Step Index",
		TF:     model.M15,
		TS:     t0.Add(time.Duration(i) * 15 * time.Minute),
		Open:   c, High: h, Low: l, Close: c,
	}
}

type observer struct {
	open     map[string]int
	balance  float64
	outcomes []string
}

func (o *observer) PositionsOpen(symbol string, n int) { o.open[symbol] = n }
func (o *observer) BalanceChanged(b float64)           { o.balance = b }
func (o *observer) TradeClosed(_, outcome string)      { o.outcomes = append(o.outcomes, outcome) }

type failingJournal struct{}

func (failingJournal) RecordTrade(context.Context, Position) error { return errors.New("disk full") }

func TestPaper_BreakEvenTrailingExit(t *testing.T) {
	ctx := context.Background()
	obs := &observer{open: map[string]int{}}
	p := NewPaper(testConfig(), WithObserver(obs))

	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 106)))
	open := p.Open()
	require.Len(t, open, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(open[0].Volume), "20 risked over a distance of 2")
	assert.Equal(t, 1, obs.open["Step Index"])

	require.NoError(t, p.OnCandle(ctx, bar(1, 102.5, 99, 102)))
	assert.Equal(t, 100.0, p.Open()[0].Stop, "1R moves the stop to entry")

	require.NoError(t, p.OnCandle(ctx, bar(2, 105, 101.5, 104.5)))
	assert.Equal(t, 102.5, p.Open()[0].Stop, "beyond 2R trails one risk behind the close")

	require.NoError(t, p.OnCandle(ctx, bar(3, 104, 102, 102.2)))
	require.Empty(t, p.Open())

	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitTrailing, closed[0].Reason)
	assert.Equal(t, 102.5, closed[0].Exit)
	assert.Equal(t, "25", closed[0].PnL.String())
	assert.Equal(t, t0.Add(4*15*time.Minute), closed[0].ClosedAt, "closed at the candle's close time")

	s := p.Summary()
	assert.Equal(t, 1025.0, s.Balance)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1.0, s.WinRate)
	assert.Equal(t, []string{"win"}, obs.outcomes)
	assert.Equal(t, 1025.0, obs.balance)
	assert.Equal(t, 0, obs.open["Step Index"])
}

func TestPaper_StopWinsOverTarget(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(testConfig())
	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Short, 100, 102, 96)))

	require.NoError(t, p.OnCandle(ctx, bar(1, 103, 95, 99)))
	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitStop, closed[0].Reason)
	assert.Equal(t, "-20", closed[0].PnL.String())
	assert.Equal(t, 980.0, p.Summary().Balance)
}

func TestPaper_TargetHit(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(testConfig())
	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 103)))

	require.NoError(t, p.OnCandle(ctx, bar(1, 103.5, 99.5, 103)))
	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitTarget, closed[0].Reason)
	assert.Equal(t, "30", closed[0].PnL.String())
}

func TestPaper_OppositeSignalCloses(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(testConfig())
	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 106)))
	require.NoError(t, p.OnSignal(ctx, signal("s2", model.Short, 101, 103, 95)))

	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitOpposite, closed[0].Reason)
	assert.Equal(t, "10", closed[0].PnL.String())

	open := p.Open()
	require.Len(t, open, 1)
	assert.Equal(t, model.Short, open[0].Direction)
}

func TestPaper_Skips(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	p := NewPaper(cfg)

	require.NoError(t, p.OnSignal(ctx, signal("bad-stop", model.Long, 100, 101, 106)))
	require.NoError(t, p.OnSignal(ctx, signal("bad-target", model.Long, 100, 98, 99)))
	require.NoError(t, p.OnSignal(ctx, signal("tiny", model.Long, 100000, 90000, 120000)))
	require.NoError(t, p.OnSignal(ctx, signal("ok", model.Long, 100, 98, 106)))
	require.NoError(t, p.OnSignal(ctx, signal("full", model.Long, 100, 99, 106)))

	assert.Len(t, p.Open(), 1)
	assert.Equal(t, 4, p.Summary().Skipped)
}

func TestPaper_VolumeClamp(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(testConfig())

	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 99.99, 106)))
	assert.True(t, decimal.NewFromInt(100).Equal(p.Open()[0].Volume), "capped at volume_max")

	p = NewPaper(testConfig())
	require.NoError(t, p.OnSignal(ctx, signal("s2", model.Long, 100, 97, 106)))
	assert.Equal(t, "6.66", p.Open()[0].Volume.String(), "rounded down to the volume step")
}

func TestPaper_DrawdownHalts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxDrawdownPct = 1.5
	p := NewPaper(cfg)

	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 106)))
	require.NoError(t, p.OnCandle(ctx, bar(1, 100, 97, 97.5)))
	assert.Equal(t, 2.0, p.Summary().MaxDrawdownPct)

	require.NoError(t, p.OnSignal(ctx, signal("s2", model.Long, 100, 98, 106)))
	assert.Empty(t, p.Open(), "no new trades past the drawdown limit")
}

func TestPaper_CloseAllAndJournalErrors(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(testConfig(), WithJournal(failingJournal{}))
	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 106)))
	require.NoError(t, p.OnCandle(ctx, bar(1, 101, 99.5, 100.5)))

	err := p.CloseAll(ctx, t0.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitEndOfRun, closed[0].Reason)
	assert.Equal(t, 100.5, closed[0].Exit)
}

func TestJournal_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	p := NewPaper(testConfig(), WithJournal(j))
	require.NoError(t, p.OnSignal(ctx, signal("s1", model.Long, 100, 98, 103)))
	require.NoError(t, p.OnCandle(ctx, bar(1, 104, 99, 103.5)))

	trades, err := j.Trades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, model.NewID("position", "s1"), got.ID)
	assert.Equal(t, model.Long, got.Direction)
	assert.Equal(t, ExitTarget, got.Reason)
	assert.True(t, decimal.NewFromInt(30).Equal(got.PnL))
	assert.True(t, decimal.NewFromInt(10).Equal(got.Volume))
	assert.Equal(t, t0, got.OpenedAt)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.RiskPerTrade = 1.5
	bad.MaxConcurrent = 0
	bad.TrailingAtR = 0.5
	bad.ExitOn = "bos"
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
	assert.Contains(t, err.Error(), "risk_per_trade")
	assert.Contains(t, err.Error(), "max_concurrent_trades")
	assert.Contains(t, err.Error(), "trailing_at_r")
	assert.Contains(t, err.Error(), `unknown exit "bos"`)
}

func structureConfig(mut func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.BreakEvenAtR, cfg.TrailingAtR = 0, 0
	cfg.CloseOpposite = false
	mut(&cfg)
	return cfg
}

func structureEvent(kind model.EventKind, prior, next model.Bias, price float64) model.StructureEvent {
	return model.StructureEvent{
		ID: model.NewID("event", string(kind), string(next)), TF: model.M15, Kind: kind,
		TS: t0.Add(15 * time.Minute), Price: price, PriorBias: prior, NewBias: next,
	}
}

func TestPaper_ExitOnCHoCH(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(structureConfig(func(c *Config) { c.ExitOn = ExitOnCHoCH }))
	require.NoError(t, p.OnSignal(ctx, signal("long", model.Long, 100, 98, 106)))
	require.NoError(t, p.OnSignal(ctx, signal("short", model.Short, 101, 103, 95)))

	ev := structureEvent(model.ChangeOfCharacter, model.Bullish, model.Bearish, 99.5)
	require.NoError(t, p.OnStructure(ctx, "Step Index", ev, model.StructureState{TF: model.M15, Bias: model.Bearish}))

	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, model.Long, closed[0].Direction)
	assert.Equal(t, ExitStructure, closed[0].Reason)
	assert.Equal(t, 99.5, closed[0].Exit, "closed at the breaking close")
	assert.Equal(t, "-5", closed[0].PnL.String())
	assert.Equal(t, t0.Add(30*time.Minute), closed[0].ClosedAt)

	open := p.Open()
	require.Len(t, open, 1)
	assert.Equal(t, model.Short, open[0].Direction, "positions with the new bias stay open")

	// other symbols are untouched
	require.NoError(t, p.OnStructure(ctx, "Boom 1000 Index",
		structureEvent(model.ChangeOfCharacter, model.Bearish, model.Bullish, 101), model.StructureState{}))
	assert.Len(t, p.Open(), 1)
}

func TestPaper_ExitOnCHoCHConfirmed(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(structureConfig(func(c *Config) { c.ExitOn = ExitOnCHoCHConfirmed }))
	require.NoError(t, p.OnSignal(ctx, signal("long", model.Long, 100, 98, 106)))

	choch := structureEvent(model.ChangeOfCharacter, model.Bullish, model.Bearish, 99.5)
	require.NoError(t, p.OnStructure(ctx, "Step Index", choch, model.StructureState{Bias: model.Bearish}))
	assert.Len(t, p.Open(), 1, "an unconfirmed change keeps the position")

	bos := structureEvent(model.BreakOfStructure, model.Bearish, model.Bearish, 99)
	require.NoError(t, p.OnStructure(ctx, "Step Index", bos, model.StructureState{Bias: model.Bearish, CHoCHConfirmed: true, BOSCount: 1}))
	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitStructure, closed[0].Reason)
	assert.Equal(t, "-10", closed[0].PnL.String())
}

func TestPaper_MoveStopOnBOS(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(structureConfig(func(c *Config) { c.MoveStopOnBOS = true }))
	require.NoError(t, p.OnSignal(ctx, signal("long", model.Long, 100, 98, 110)))

	bos := structureEvent(model.BreakOfStructure, model.Bullish, model.Bullish, 103)
	st := model.StructureState{Bias: model.Bullish, LastLow: &model.SwingPoint{Kind: model.SwingLow, Price: 99.2}}
	require.NoError(t, p.OnStructure(ctx, "Step Index", bos, st))
	require.Len(t, p.Open(), 1)
	assert.Equal(t, 99.2, p.Open()[0].Stop, "stop moved to the protected swing")

	st.LastLow = &model.SwingPoint{Kind: model.SwingLow, Price: 98.5}
	require.NoError(t, p.OnStructure(ctx, "Step Index", bos, st))
	assert.Equal(t, 99.2, p.Open()[0].Stop, "stops only tighten")

	bearish := structureEvent(model.BreakOfStructure, model.Bearish, model.Bearish, 99.5)
	st.LastHigh = &model.SwingPoint{Kind: model.SwingHigh, Price: 101}
	require.NoError(t, p.OnStructure(ctx, "Step Index", bearish, st))
	assert.Equal(t, 99.2, p.Open()[0].Stop, "breaks against the position leave the stop alone")

	require.NoError(t, p.OnCandle(ctx, bar(2, 100.5, 99, 99.4)))
	closed := p.Closed()
	require.Len(t, closed, 1)
	assert.Equal(t, ExitStop, closed[0].Reason)
	assert.Equal(t, 99.2, closed[0].Exit)
	assert.Equal(t, "-8", closed[0].PnL.String())
}

func TestPaper_SignalsOfOneCandleKeepTheirTrades(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	p := NewPaper(structureConfig(func(*Config) {}), WithJournal(j))
	require.NoError(t, p.OnSignal(ctx, signal("a", model.Long, 100, 98, 103)))
	require.NoError(t, p.OnSignal(ctx, signal("b", model.Long, 100, 97, 103)))
	require.NoError(t, p.OnCandle(ctx, bar(1, 104, 99, 103.5)))

	trades, err := j.Trades(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}
