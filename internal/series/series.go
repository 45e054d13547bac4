// Package series stores closed candles per timeframe with append-only
// semantics for the lifetime of a session.
//
// Buffers of different timeframes advance independently. They are aligned
// by timestamp (LatestAt), never by index.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

// Buffer is the ordered candle history of one timeframe.
// Indexes are session-absolute: trimming old candles does not renumber
// the remaining ones.
type Buffer struct {
	tf      model.Timeframe
	candles []model.Candle
	offset  int // absolute index of candles[0]
	max     int // retention cap, 0 = unbounded; up to max/4 extra are held between trims
}

// NewBuffer creates an empty buffer. maxCandles <= 0 keeps every candle.
func NewBuffer(tf model.Timeframe, maxCandles int) *Buffer {
	return &Buffer{tf: tf, max: maxCandles}
}

// TF returns the buffer's timeframe.
func (b *Buffer) TF() model.Timeframe { return b.tf }

// Len returns the number of candles ever appended.
func (b *Buffer) Len() int { return b.offset + len(b.candles) }

// Retained returns the number of candles currently held. With a cap it
// stays within max + max/4: the oldest are dropped in batches.
func (b *Buffer) Retained() int { return len(b.candles) }

// Append adds a closed candle. A candle that is not strictly after the last
// accepted one is rejected and the buffer is left unchanged.
func (b *Buffer) Append(c model.Candle) error {
	if c.TF != b.tf {
		return fmt.Errorf("series: append %s candle to %s buffer: %w", c.TF, b.tf, model.ErrUnknownTimeframe)
	}
	if !c.Valid() {
		return fmt.Errorf("series: %s at %s: %w", c.Key(), c.TS.Format(time.RFC3339), model.ErrMalformedCandle)
	}
	if n := len(b.candles); n > 0 && !c.TS.After(b.candles[n-1].TS) {
		return &model.OutOfOrderError{TF: b.tf, TS: c.TS, LastTS: b.candles[n-1].TS}
	}
	b.candles = append(b.candles, c)
	if b.max > 0 && len(b.candles) > b.max+b.max/4 {
		drop := len(b.candles) - b.max
		// copy so the dropped prefix can be collected
		kept := make([]model.Candle, b.max, b.max+b.max/4+1)
		copy(kept, b.candles[drop:])
		b.candles = kept
		b.offset += drop
	}
	return nil
}

// CheckOrder reports whether c would be accepted, without appending it.
func (b *Buffer) CheckOrder(c model.Candle) error {
	if n := len(b.candles); n > 0 && !c.TS.After(b.candles[n-1].TS) {
		return &model.OutOfOrderError{TF: b.tf, TS: c.TS, LastTS: b.candles[n-1].TS}
	}
	return nil
}

// At returns the candle at absolute index i.
func (b *Buffer) At(i int) (model.Candle, bool) {
	j := i - b.offset
	if j < 0 || j >= len(b.candles) {
		return model.Candle{}, false
	}
	return b.candles[j], true
}

// Last returns the most recent candle.
func (b *Buffer) Last() (model.Candle, bool) {
	if len(b.candles) == 0 {
		return model.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// LastTS returns the timestamp of the most recent candle, or the zero time.
func (b *Buffer) LastTS() time.Time {
	if c, ok := b.Last(); ok {
		return c.TS
	}
	return time.Time{}
}

// Window returns up to n most recent candles, oldest first. The slice is a
// read-only view: its capacity is clipped so appends by the caller cannot
// write into the buffer.
func (b *Buffer) Window(n int) []model.Candle {
	if n <= 0 || len(b.candles) == 0 {
		return nil
	}
	if n > len(b.candles) {
		n = len(b.candles)
	}
	start := len(b.candles) - n
	return b.candles[start:len(b.candles):len(b.candles)]
}

// LatestAt returns the latest candle with TS <= ts.
func (b *Buffer) LatestAt(ts time.Time) (model.Candle, bool) {
	i := sort.Search(len(b.candles), func(i int) bool {
		return b.candles[i].TS.After(ts)
	})
	if i == 0 {
		return model.Candle{}, false
	}
	return b.candles[i-1], true
}

// Since returns the retained candles with TS >= ts (read-only view).
func (b *Buffer) Since(ts time.Time) []model.Candle {
	i := sort.Search(len(b.candles), func(i int) bool {
		return !b.candles[i].TS.Before(ts)
	})
	return b.candles[i:len(b.candles):len(b.candles)]
}

// Set holds one buffer per configured timeframe.
type Set struct {
	order   []model.Timeframe
	buffers map[model.Timeframe]*Buffer
}

// NewSet creates buffers for the given timeframes.
func NewSet(tfs []model.Timeframe, maxCandles int) *Set {
	s := &Set{buffers: make(map[model.Timeframe]*Buffer, len(tfs))}
	for _, tf := range tfs {
		if _, dup := s.buffers[tf]; dup {
			continue
		}
		s.order = append(s.order, tf)
		s.buffers[tf] = NewBuffer(tf, maxCandles)
	}
	return s
}

// Append routes c to its timeframe's buffer.
func (s *Set) Append(c model.Candle) error {
	b, ok := s.buffers[c.TF]
	if !ok {
		return fmt.Errorf("series: %s: %w", c.Key(), model.ErrUnknownTimeframe)
	}
	return b.Append(c)
}

// Buffer returns the buffer for tf.
func (s *Set) Buffer(tf model.Timeframe) (*Buffer, bool) {
	b, ok := s.buffers[tf]
	return b, ok
}

// Timeframes returns the configured timeframes in configuration order.
func (s *Set) Timeframes() []model.Timeframe {
	out := make([]model.Timeframe, len(s.order))
	copy(out, s.order)
	return out
}

// Aligned returns, for every timeframe, the latest candle at or before ts.
// Timeframes without such a candle are omitted.
func (s *Set) Aligned(ts time.Time) map[model.Timeframe]model.Candle {
	out := make(map[model.Timeframe]model.Candle, len(s.order))
	for _, tf := range s.order {
		if c, ok := s.buffers[tf].LatestAt(ts); ok {
			out[tf] = c
		}
	}
	return out
}
