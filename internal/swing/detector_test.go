package swing

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/kraken/internal/model"
)

var t0 = time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)

// hl builds a candle with the given high/low; open and close sit inside.
func hl(tf model.Timeframe, i int, high, low float64) model.Candle {
	mid := (high + low) / 2
	return model.Candle{
		Symbol: "TEST",
		TF:     tf,
		TS:     t0.Add(time.Duration(i) * tf.Duration()),
		Open:   mid,
		High:   high,
		Low:    low,
		Close:  mid,
	}
}

func feed(t *testing.T, d *Detector, candles []model.Candle) [][]model.SwingPoint {
	t.Helper()
	out := make([][]model.SwingPoint, len(candles))
	for i, c := range candles {
		sps, err := d.Ingest(c)
		require.NoError(t, err, "candle %d", i)
		out[i] = sps
	}
	return out
}

func TestDetector_ConfirmsAfterLookahead(t *testing.T) {
	d := New(Config{Lookback: 2, Lookahead: 2}, nil)
	highs := []float64{10, 11, 15, 12, 11, 13, 14}
	var candles []model.Candle
	for i, h := range highs {
		candles = append(candles, hl(model.M15, i, h, h-5))
	}
	got := feed(t, d, candles)

	for i := 0; i < 4; i++ {
		for _, sp := range got[i] {
			assert.NotEqual(t, 2, sp.Index, "swing at 2 reported before candle 4")
		}
	}

	var high *model.SwingPoint
	for _, sp := range got[4] {
		if sp.Kind == model.SwingHigh {
			sp := sp
			high = &sp
		}
	}
	require.NotNil(t, high, "swing high at index 2 confirmed by candle 4")
	assert.Equal(t, 2, high.Index)
	assert.Equal(t, 15.0, high.Price)
	assert.True(t, high.Confirmed)
	assert.Equal(t, candles[4].TS, high.ConfirmedAt)
	assert.Equal(t, candles[2].TS, high.TS)
	assert.Equal(t, candles[2], high.Candle)
}

func TestDetector_TiesResolveToEarliest(t *testing.T) {
	d := New(Config{Lookback: 1, Lookahead: 1}, nil)
	candles := []model.Candle{
		hl(model.M5, 0, 10, 1),
		hl(model.M5, 1, 12, 2),
		hl(model.M5, 2, 12, 3), // equal high
		hl(model.M5, 3, 11, 4),
	}
	feed(t, d, candles)

	var highs []model.SwingPoint
	for _, sp := range d.History(model.M5) {
		if sp.Kind == model.SwingHigh {
			highs = append(highs, sp)
		}
	}
	require.Len(t, highs, 1)
	assert.Equal(t, 1, highs[0].Index)
}

func TestDetector_OutOfOrderLeavesStateUnchanged(t *testing.T) {
	d := New(Config{Lookback: 1, Lookahead: 1}, nil)
	feed(t, d, []model.Candle{
		hl(model.M15, 0, 10, 5),
		hl(model.M15, 1, 12, 6),
	})
	before := d.Count(model.M15)
	pending := d.Pending(model.M15)

	for _, c := range []model.Candle{hl(model.M15, 1, 20, 1), hl(model.M15, 0, 20, 1)} {
		sps, err := d.Ingest(c)
		assert.Nil(t, sps)
		assert.True(t, errors.Is(err, model.ErrOutOfOrderCandle))
	}
	assert.Equal(t, before, d.Count(model.M15))
	assert.Equal(t, pending, d.Pending(model.M15))

	// the next in-order candle still confirms the pending high at 1
	sps, err := d.Ingest(hl(model.M15, 2, 11, 7))
	require.NoError(t, err)
	require.NotEmpty(t, sps)
	assert.Equal(t, model.SwingHigh, sps[0].Kind)
	assert.Equal(t, 12.0, sps[0].Price)
}

func TestDetector_TimeframesAreIndependent(t *testing.T) {
	d := New(Config{Lookback: 1, Lookahead: 1}, nil)

	_, err := d.Ingest(hl(model.H1, 5, 100, 90))
	require.NoError(t, err)
	// an M15 candle older than the H1 candle is fine: order is per timeframe
	_, err = d.Ingest(hl(model.M15, 0, 50, 40))
	require.NoError(t, err)

	assert.Equal(t, 1, d.Count(model.H1))
	assert.Equal(t, 1, d.Count(model.M15))
	assert.Empty(t, d.History(model.H1))
}

func TestDetector_ConfirmationDelayProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, cfg := range []Config{{1, 1}, {2, 3}, {3, 1}} {
		d := New(cfg, nil)
		price := 100.0
		for i := 0; i < 500; i++ {
			price += rng.Float64()*4 - 2
			c := hl(model.M1, i, price+rng.Float64()*2, price-rng.Float64()*2)
			sps, err := d.Ingest(c)
			require.NoError(t, err)
			for _, sp := range sps {
				assert.Equal(t, i, sp.Index+cfg.Lookahead, "confirmed exactly lookahead candles later")
			}
		}

		hist := d.History(model.M1)
		require.NotEmpty(t, hist)
		for i := 1; i < len(hist); i++ {
			assert.False(t, hist[i].ConfirmedAt.Before(hist[i-1].ConfirmedAt), "append-only in time order")
		}
	}
}

func TestDetector_PendingCandidates(t *testing.T) {
	d := New(Config{Lookback: 1, Lookahead: 2}, nil)
	feed(t, d, []model.Candle{
		hl(model.M15, 0, 10, 5),
		hl(model.M15, 1, 14, 6),
		hl(model.M15, 2, 13, 7),
	})

	var pendingHigh *model.SwingPoint
	for _, sp := range d.Pending(model.M15) {
		if sp.Kind == model.SwingHigh {
			sp := sp
			pendingHigh = &sp
		}
	}
	require.NotNil(t, pendingHigh)
	assert.Equal(t, 1, pendingHigh.Index)
	assert.False(t, pendingHigh.Confirmed)
	for _, sp := range d.History(model.M15) {
		assert.NotEqual(t, model.SwingHigh, sp.Kind, "high at 1 still needs two lookahead candles")
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 5, DefaultConfig().Size())

	for _, bad := range []Config{{0, 1}, {1, 0}, {-1, 2}} {
		assert.True(t, errors.Is(bad.Validate(), model.ErrInvalidConfiguration))
	}
}
