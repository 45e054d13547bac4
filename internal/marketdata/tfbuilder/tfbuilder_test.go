package tfbuilder

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
)

var base = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

func m15(i int, o, h, l, c float64) model.Candle {
	return model.Candle{
		Symbol: "Volatility 75 Index",
		TF:     model.M15,
		TS:     base.Add(time.Duration(i) * 15 * time.Minute),
		Open:   o, High: h, Low: l, Close: c, Volume: 10,
	}
}

func TestBuilder_H1Resampling(t *testing.T) {
	b, err := New(model.M15, []model.Timeframe{model.H1})
	require.NoError(t, err)

	var finalized []model.Candle
	b.OnTFCandle = func(c model.Candle) { finalized = append(finalized, c) }

	for i := 0; i < 3; i++ {
		out := b.Process(m15(i, 100+float64(i), 110+float64(i), 90+float64(i), 105+float64(i)))
		require.Len(t, out, 1, "only the base candle before the bucket closes")
	}
	out := b.Process(m15(3, 103, 120, 85, 101))
	require.Len(t, out, 2)
	assert.Equal(t, model.M15, out[0].TF)

	h1 := out[1]
	assert.Equal(t, model.H1, h1.TF)
	assert.Equal(t, base, h1.TS)
	assert.Equal(t, 100.0, h1.Open)
	assert.Equal(t, 120.0, h1.High)
	assert.Equal(t, 85.0, h1.Low)
	assert.Equal(t, 101.0, h1.Close)
	assert.Equal(t, 40.0, h1.Volume)
	assert.Equal(t, []model.Candle{h1}, finalized)

	_, forming := b.Forming(model.H1)
	assert.False(t, forming)
}

func TestBuilder_MultipleTFs(t *testing.T) {
	b, err := New(model.M15, []model.Timeframe{model.H4, model.H1})
	require.NoError(t, err)

	counts := map[model.Timeframe]int{}
	for i := 0; i < 16; i++ {
		for _, c := range b.Process(m15(i, 100, 110, 90, 105)) {
			counts[c.TF]++
		}
	}
	assert.Equal(t, 16, counts[model.M15])
	assert.Equal(t, 4, counts[model.H1])
	assert.Equal(t, 1, counts[model.H4])
}

func TestBuilder_GapFinalizesBeforeBase(t *testing.T) {
	b, err := New(model.M15, []model.Timeframe{model.H1})
	require.NoError(t, err)

	b.Process(m15(0, 100, 110, 90, 105))
	b.Process(m15(1, 105, 112, 95, 108))

	// market closed for the rest of the hour and the next one
	out := b.Process(m15(9, 108, 109, 100, 101))
	require.Len(t, out, 2)
	assert.Equal(t, model.H1, out[0].TF, "gap-closed candle comes first")
	assert.Equal(t, 108.0, out[0].Close)
	assert.Equal(t, model.M15, out[1].TF)

	forming, ok := b.Forming(model.H1)
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Hour), forming.TS)
}

func TestBuilder_StaleCandleSkipped(t *testing.T) {
	b, err := New(model.M15, []model.Timeframe{model.H1})
	require.NoError(t, err)

	stale := 0
	b.OnStaleCandle = func(model.Candle) { stale++ }

	b.Process(m15(5, 100, 110, 90, 105))
	b.Process(m15(1, 50, 60, 40, 55))
	assert.Equal(t, 1, stale)

	forming, ok := b.Forming(model.H1)
	require.True(t, ok)
	assert.Equal(t, 110.0, forming.High, "stale candle not merged")
}

func TestBuilder_PassThroughAndValidation(t *testing.T) {
	b, err := New(model.M15, []model.Timeframe{model.M15, model.H1})
	require.NoError(t, err)
	assert.Equal(t, []model.Timeframe{model.H1}, b.TFs())

	other := model.Candle{Symbol: "x", TF: model.D1, TS: base}
	assert.Equal(t, []model.Candle{other}, b.Process(other))

	_, err = New(model.M15, []model.Timeframe{model.M5})
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	_, err = New(model.H1, []model.Timeframe{model.Timeframe(5400)})
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}

type sliceSource struct {
	candles []model.Candle
}

func (s *sliceSource) Next(context.Context) (model.Candle, error) {
	if len(s.candles) == 0 {
		return model.Candle{}, io.EOF
	}
	c := s.candles[0]
	s.candles = s.candles[1:]
	return c, nil
}

func TestResampler_InterleavesInCloseOrder(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 10; i++ {
		src.candles = append(src.candles, m15(i, 100, 110, 90, 105))
	}
	b, err := New(model.M15, []model.Timeframe{model.H1})
	require.NoError(t, err)
	r := NewResampler(src, b)

	var tfs []model.Timeframe
	for {
		c, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		tfs = append(tfs, c.TF)
	}
	assert.Equal(t, []model.Timeframe{
		model.M15, model.M15, model.M15, model.M15, model.H1,
		model.M15, model.M15, model.M15, model.M15, model.H1,
		model.M15, model.M15,
	}, tfs, "the unfinished third hour is dropped")
}
