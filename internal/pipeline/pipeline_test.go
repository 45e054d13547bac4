package pipeline

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/strategy"
)

var t0 = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbol = "Step Index"
	cfg.Base = model.M15
	cfg.Zone.Timeframes = []model.Timeframe{model.H1}
	cfg.Strategy.Trend = model.H1
	cfg.Strategy.Enabled = []string{strategy.NameTrendFollowing, strategy.NameStructureBreak, strategy.NamePriceAction}
	cfg.AnnotationCandles = 50
	return cfg
}

// feed returns n M15 candles of a seeded random walk with the H1 candle
// of each full hour inserted after its last M15 candle.
func feed(n int, seed int64) []model.Candle {
	rng := rand.New(rand.NewSource(seed))
	var out, hour []model.Candle
	price := 8000.0
	for i := 0; i < n; i++ {
		o := price
		price += rng.NormFloat64() * 4
		c := model.Candle{
			Symbol: "Step Index",
			TF:     model.M15,
			TS:     t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:   o,
			High:   math.Max(o, price) + rng.Float64()*2,
			Low:    math.Min(o, price) - rng.Float64()*2,
			Close:  price,
			Volume: float64(rng.Intn(500)),
		}
		out = append(out, c)
		hour = append(hour, c)
		if len(hour) == 4 {
			h := model.Candle{Symbol: c.Symbol, TF: model.H1, TS: hour[0].TS, Open: hour[0].Open, High: hour[0].High, Low: hour[0].Low, Close: c.Close}
			for _, m := range hour[1:] {
				h.High = math.Max(h.High, m.High)
				h.Low = math.Min(h.Low, m.Low)
				h.Volume += m.Volume
			}
			h.Volume += hour[0].Volume
			out = append(out, h)
			hour = hour[:0]
		}
	}
	return out
}

func runAll(t *testing.T, p *Pipeline, candles []model.Candle) []Tick {
	t.Helper()
	ticks := make([]Tick, 0, len(candles))
	for _, c := range candles {
		tick, err := p.Ingest(c)
		require.NoError(t, err)
		ticks = append(ticks, tick)
	}
	return ticks
}

func TestNew_InvalidConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.Swing.Lookback = 0
	cfg.Zone.Timeframes = []model.Timeframe{model.M15}
	cfg.Strategy.Enabled = []string{"grid"}

	p, err := New(cfg)
	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
	assert.Contains(t, err.Error(), "lookback")
	assert.Contains(t, err.Error(), "equals the base timeframe")
	assert.Contains(t, err.Error(), "grid")

	cfg = testConfig()
	cfg.Base = 0
	_, err = New(cfg)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
}

func TestPipeline_Deterministic(t *testing.T) {
	candles := feed(2000, 11)

	run := func() ([]byte, []model.Signal) {
		p, err := New(testConfig())
		require.NoError(t, err)
		runAll(t, p, candles)
		b, err := json.Marshal(p.Snapshot())
		require.NoError(t, err)
		return b, p.Signals()
	}
	a, sigA := run()
	b, sigB := run()
	assert.Equal(t, string(a), string(b), "identical input gives identical snapshots")
	assert.Equal(t, sigA, sigB)
}

func TestPipeline_EndToEnd(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	ticks := runAll(t, p, feed(3000, 5))

	events := map[string]bool{}
	zones := map[string]bool{}
	var swings, signals int
	for _, tk := range ticks {
		swings += len(tk.Swings)
		for _, ev := range tk.Events {
			events[ev.ID] = true
		}
		for _, z := range tk.NewZones {
			assert.Equal(t, model.H1, z.SourceTF)
			zones[z.ID] = true
		}
		for _, tr := range tk.ZoneChanges {
			assert.True(t, model.CanTransition(tr.From, tr.To))
			assert.Equal(t, model.M15, tk.Candle.TF, "zones react to base candles only")
		}
		for _, sig := range tk.Signals {
			signals++
			assert.Equal(t, model.M15, tk.Candle.TF)
			assert.Equal(t, tk.Candle.TS, sig.TS)
			assert.Greater(t, sig.Risk(), 0.0, "stop on the losing side")
			for _, id := range sig.EventRefs {
				assert.True(t, events[id], "event ref %s", id)
			}
			for _, id := range sig.ZoneRefs {
				assert.True(t, zones[id], "zone ref %s", id)
			}
		}
	}
	assert.Greater(t, swings, 0)
	assert.NotEmpty(t, events)
	assert.NotEmpty(t, zones)
	assert.Len(t, p.Signals(), signals)

	snap := p.Snapshot()
	assert.Equal(t, "Step Index", snap.Symbol)
	assert.Len(t, snap.Candles[model.M15], 50)
	assert.Len(t, snap.Zones, len(zones))
	assert.Contains(t, snap.Structures, model.M15)
	assert.Contains(t, snap.Structures, model.H1)

	_, err = p.Structure(model.M15)
	assert.NoError(t, err)
}

func TestPipeline_RejectionsLeaveStateUnchanged(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	candles := feed(200, 9)
	runAll(t, p, candles)

	before, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	last := candles[len(candles)-1]
	stale := candles[len(candles)-3]
	stale.Close, stale.High = stale.High, stale.High+100

	wrongTF := last
	wrongTF.TF = model.M5
	wrongSymbol := last
	wrongSymbol.Symbol = "Crash 500 Index"
	wrongSymbol.TS = last.TS.Add(time.Hour)
	broken := last
	broken.TS = last.TS.Add(time.Hour)
	broken.Low = broken.High + 1

	for _, c := range []model.Candle{last, stale, wrongTF, wrongSymbol, broken} {
		tick, err := p.Ingest(c)
		require.Error(t, err)
		assert.True(t, model.IsRejection(err), err.Error())
		assert.True(t, tick.Empty())
	}
	assert.True(t, errors.Is(func() error { _, err := p.Ingest(last); return err }(), model.ErrOutOfOrderCandle))

	after, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestPipeline_InsufficientHistory(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	_, err = p.Structure(model.H1)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory))
	assert.Empty(t, p.Signals())
}
