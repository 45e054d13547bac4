// Package replay provides candle sources that read historical data from a
// candle store and hand it to a driver in processing order, optionally
// paced to simulate a live session.
package replay

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

// maxGap caps one simulated wait so weekend gaps do not stall a replay.
const maxGap = 5 * time.Second

// Config selects what to replay.
type Config struct {
	Symbol     string
	Timeframes []model.Timeframe
	From, To   time.Time // zero = open bound

	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
}

// Replayer reads candles of every configured timeframe from a store and
// replays them ordered by close time.
type Replayer struct {
	reader model.CandleReader
	cfg    Config

	candles []model.Candle
	pos     int
	loaded  bool
	prev    time.Time

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by a candle reader.
func New(reader model.CandleReader, cfg Config) *Replayer {
	return &Replayer{reader: reader, cfg: cfg, sleep: sleepCtx}
}

// Load reads all candles up front. Next calls it on first use.
func (r *Replayer) Load(ctx context.Context) error {
	var all []model.Candle
	for _, tf := range r.cfg.Timeframes {
		candles, err := r.reader.ReadCandles(ctx, r.cfg.Symbol, tf, r.cfg.From, r.cfg.To)
		if err != nil {
			return fmt.Errorf("replay: read %s %s: %w", r.cfg.Symbol, tf, err)
		}
		all = append(all, candles...)
	}
	SortByClose(all)
	r.candles, r.loaded = all, true

	if len(all) == 0 {
		log.Printf("[replay] no candles found for %s", r.cfg.Symbol)
	} else {
		log.Printf("[replay] loaded %d candles of %s across %d TFs, speed=%.1fx", len(all), r.cfg.Symbol, len(r.cfg.Timeframes), r.cfg.Speed)
	}
	return nil
}

// Len returns the number of loaded candles.
func (r *Replayer) Len() int { return len(r.candles) }

// Next returns the next candle, or io.EOF after the last one.
func (r *Replayer) Next(ctx context.Context) (model.Candle, error) {
	if !r.loaded {
		if err := r.Load(ctx); err != nil {
			return model.Candle{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return model.Candle{}, err
	}
	if r.pos >= len(r.candles) {
		return model.Candle{}, io.EOF
	}
	c := r.candles[r.pos]

	// Simulate time gaps between candle closes
	closeAt := c.TS.Add(c.TF.Duration())
	if r.cfg.Speed > 0 && !r.prev.IsZero() {
		if gap := closeAt.Sub(r.prev); gap > 0 {
			scaled := time.Duration(float64(gap) / r.cfg.Speed)
			if scaled > maxGap {
				scaled = maxGap
			}
			if err := r.sleep(ctx, scaled); err != nil {
				return model.Candle{}, err
			}
		}
	}
	r.prev = closeAt
	r.pos++
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SortByClose orders candles the way they close in a live session: by
// close time, lower timeframes first when closes coincide, so an H1 candle
// follows the last M15 candle of its hour.
func SortByClose(candles []model.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return ClosesBefore(candles[i], candles[j])
	})
}

// ClosesBefore reports whether a is processed before b.
func ClosesBefore(a, b model.Candle) bool {
	ca := a.TS.Add(a.TF.Duration())
	cb := b.TS.Add(b.TF.Duration())
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return a.TF < b.TF
}

// Slice replays an in-memory candle list in the given order.
type Slice struct {
	candles []model.Candle
	pos     int
}

// FromCandles creates a source over candles. The slice is not copied.
func FromCandles(candles []model.Candle) *Slice {
	return &Slice{candles: candles}
}

// Next returns the next candle, or io.EOF after the last one.
func (s *Slice) Next(ctx context.Context) (model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return model.Candle{}, err
	}
	if s.pos >= len(s.candles) {
		return model.Candle{}, io.EOF
	}
	c := s.candles[s.pos]
	s.pos++
	return c, nil
}
