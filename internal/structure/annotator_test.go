package structure

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
	"github.com/pondem87/kraken/internal/swing"
)

var t0 = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

func ohlc(i int, o, h, l, c float64) model.Candle {
	return model.Candle{
		Symbol: "Step Index",
		TF:     model.M15,
		TS:     t0.Add(time.Duration(i) * 15 * time.Minute),
		Open:   o, High: h, Low: l, Close: c,
	}
}

// run feeds candles through a detector and annotator in pipeline order:
// newly confirmed swings first, then the candle close.
func run(t *testing.T, cfg swing.Config, candles []model.Candle) (*Annotator, [][]model.StructureEvent) {
	t.Helper()
	det := swing.New(cfg, nil)
	ann := New(nil)
	perCandle := make([][]model.StructureEvent, len(candles))
	for i, c := range candles {
		sps, err := det.Ingest(c)
		require.NoError(t, err)
		for _, sp := range sps {
			perCandle[i] = append(perCandle[i], ann.OnSwingPoint(sp)...)
		}
		perCandle[i] = append(perCandle[i], ann.OnCandle(c)...)
	}
	return ann, perCandle
}

// Swing lows 100, 105, 103 with lookahead 1; the close below 103 is the
// change of character.
func chochScenario() []model.Candle {
	return []model.Candle{
		ohlc(0, 100.5, 101, 100, 100.8),
		ohlc(1, 101, 108, 101, 107),
		ohlc(2, 107, 110, 106, 109),
		ohlc(3, 108, 109, 105, 106),
		ohlc(4, 106.5, 112, 106, 111.5), // BOS above 110
		ohlc(5, 111, 113, 103, 108),
		ohlc(6, 108, 109, 104, 108.5),
		ohlc(7, 108, 108.5, 100, 101), // closes below 103
		ohlc(8, 101, 102, 98, 99),
	}
}

func TestAnnotator_CHoCHScenario(t *testing.T) {
	ann, per := run(t, swing.Config{Lookback: 1, Lookahead: 1}, chochScenario())

	require.Len(t, per[4], 1)
	assert.Equal(t, model.BreakOfStructure, per[4][0].Kind)
	assert.Equal(t, model.Ranging, per[4][0].PriorBias)
	assert.Equal(t, model.Bullish, per[4][0].NewBias)
	assert.Equal(t, 110.0, per[4][0].Level)

	require.Len(t, per[7], 1, "exactly one event at the breaking candle")
	ev := per[7][0]
	assert.Equal(t, model.ChangeOfCharacter, ev.Kind)
	assert.Equal(t, model.Bullish, ev.PriorBias)
	assert.Equal(t, model.Bearish, ev.NewBias)
	assert.Equal(t, 103.0, ev.Level)
	assert.Equal(t, 101.0, ev.Price)
	assert.Equal(t, t0.Add(7*15*time.Minute), ev.TS)

	for i, evs := range per {
		if i != 4 && i != 7 {
			assert.Empty(t, evs, "candle %d", i)
		}
	}

	st, err := ann.State(model.M15)
	require.NoError(t, err)
	assert.Equal(t, model.Bearish, st.Bias)
	assert.True(t, st.LowBroken)
	assert.Equal(t, 0, st.BOSCount)
	assert.False(t, st.CHoCHConfirmed)
	assert.Equal(t, 113.0, st.SegmentHigh, "segment keeps the top of the prior leg")
	assert.Equal(t, 98.0, st.SegmentLow)
	assert.Equal(t, 9, st.Candles)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, ev.ID, st.LastEvent.ID)

	lows := []float64{}
	for _, e := range ann.Events(model.M15) {
		lows = append(lows, e.Level)
	}
	assert.Equal(t, []float64{110, 103}, lows)
}

func TestAnnotator_CHoCHConfirmedByNextBOS(t *testing.T) {
	ann := New(nil)
	hi := model.SwingPoint{TF: model.M15, Kind: model.SwingHigh, Price: 110, TS: t0, Candle: ohlc(0, 108, 110, 107, 109)}
	lo := model.SwingPoint{TF: model.M15, Kind: model.SwingLow, Price: 100, TS: t0.Add(time.Minute), Candle: ohlc(1, 102, 103, 100, 101)}
	ann.OnSwingPoint(hi)
	ann.OnSwingPoint(lo)

	evs := ann.OnCandle(ohlc(2, 101, 112, 101, 111))
	require.Len(t, evs, 1)
	assert.Equal(t, model.BreakOfStructure, evs[0].Kind)

	// new low, then a close below it: change of character
	lo2 := lo
	lo2.Price, lo2.TS, lo2.Candle = 105, t0.Add(3*time.Minute), ohlc(3, 107, 108, 105, 106)
	ann.OnSwingPoint(lo2)
	evs = ann.OnCandle(ohlc(4, 106, 106, 103, 104))
	require.Len(t, evs, 1)
	assert.Equal(t, model.ChangeOfCharacter, evs[0].Kind)

	st, err := ann.State(model.M15)
	require.NoError(t, err)
	assert.False(t, st.CHoCHConfirmed)

	// a lower low confirmed and broken: continuation confirms the change
	lo3 := lo
	lo3.Price, lo3.TS, lo3.Candle = 102, t0.Add(5*time.Minute), ohlc(5, 104, 105, 102, 103)
	ann.OnSwingPoint(lo3)
	evs = ann.OnCandle(ohlc(6, 103, 103, 100, 101))
	require.Len(t, evs, 1)
	assert.Equal(t, model.BreakOfStructure, evs[0].Kind)

	st, err = ann.State(model.M15)
	require.NoError(t, err)
	assert.True(t, st.CHoCHConfirmed)
	assert.Equal(t, 1, st.BOSCount)
	assert.Equal(t, model.Bearish, st.Bias)
}

func TestAnnotator_LevelBreaksOnce(t *testing.T) {
	ann := New(nil)
	ann.OnSwingPoint(model.SwingPoint{TF: model.M15, Kind: model.SwingHigh, Price: 50, Candle: ohlc(0, 48, 50, 47, 49)})

	assert.Len(t, ann.OnCandle(ohlc(1, 49, 52, 49, 51)), 1)
	assert.Empty(t, ann.OnCandle(ohlc(2, 51, 54, 51, 53)), "broken level does not fire again")

	// re-armed by a new swing high
	ann.OnSwingPoint(model.SwingPoint{TF: model.M15, Kind: model.SwingHigh, Price: 54, Candle: ohlc(2, 51, 54, 51, 53)})
	assert.Len(t, ann.OnCandle(ohlc(3, 53, 56, 53, 55)), 1)
}

func TestAnnotator_SwingCandleBreaksPriorLevel(t *testing.T) {
	ann := New(nil)
	ann.OnSwingPoint(model.SwingPoint{TF: model.M15, Kind: model.SwingLow, Price: 100, Candle: ohlc(0, 101, 102, 100, 101)})

	// a swing low whose own candle closed below 100
	evs := ann.OnSwingPoint(model.SwingPoint{TF: model.M15, Kind: model.SwingLow, Price: 97, Candle: ohlc(1, 100, 100.5, 97, 98)})
	require.Len(t, evs, 1)
	assert.Equal(t, model.BreakOfStructure, evs[0].Kind)
	assert.Equal(t, model.Bearish, evs[0].NewBias)
	assert.Equal(t, 100.0, evs[0].Level)

	st, err := ann.State(model.M15)
	require.NoError(t, err)
	assert.Equal(t, 97.0, st.LastLow.Price)
	assert.False(t, st.LowBroken, "the new level is armed")
}

func TestAnnotator_InsufficientHistory(t *testing.T) {
	ann := New(nil)
	_, err := ann.State(model.M15)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory))

	ann.OnCandle(ohlc(0, 1, 2, 0.5, 1.5))
	_, err = ann.State(model.M15)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory), "candles alone give no structure")
	assert.Empty(t, ann.Snapshot())
}

func TestAnnotator_StateIsACopy(t *testing.T) {
	ann := New(nil)
	ann.OnSwingPoint(model.SwingPoint{TF: model.M15, Kind: model.SwingHigh, Price: 10, Candle: ohlc(0, 9, 10, 8, 9)})

	st, err := ann.State(model.M15)
	require.NoError(t, err)
	st.LastHigh.Price = 999

	again, err := ann.State(model.M15)
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.LastHigh.Price)
}

// Bias only ever changes through an event, and the event's prior/new bias
// always chain.
func TestAnnotator_BiasConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	det := swing.New(swing.Config{Lookback: 2, Lookahead: 2}, nil)
	ann := New(nil)

	bias := model.Ranging
	price := 1000.0
	for i := 0; i < 2000; i++ {
		o := price
		price += rng.NormFloat64() * 3
		c := ohlc(i, o, maxf(o, price)+rng.Float64(), minf(o, price)-rng.Float64(), price)

		sps, err := det.Ingest(c)
		require.NoError(t, err)
		var evs []model.StructureEvent
		for _, sp := range sps {
			evs = append(evs, ann.OnSwingPoint(sp)...)
		}
		evs = append(evs, ann.OnCandle(c)...)

		for _, ev := range evs {
			require.Equal(t, bias, ev.PriorBias, "event %d chains from the previous bias", ev.Seq)
			if ev.Kind == model.ChangeOfCharacter {
				require.Equal(t, ev.PriorBias.Opposite(), ev.NewBias)
			} else if ev.PriorBias != model.Ranging {
				require.Equal(t, ev.PriorBias, ev.NewBias)
			}
			bias = ev.NewBias
		}
		if st, err := ann.State(model.M15); err == nil {
			require.Equal(t, bias, st.Bias)
		}
	}

	evs := ann.Events(model.M15)
	require.NotEmpty(t, evs)
	for i, ev := range evs {
		assert.Equal(t, i+1, ev.Seq)
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
