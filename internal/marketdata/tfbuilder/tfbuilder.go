// Package tfbuilder provides an incremental timeframe resampler.
// It consumes closed base-timeframe candles and maintains "forming" candle
// states for each higher timeframe, updated in O(1) per candle per TF. A
// higher TF candle is finalized when the base candle closing its bucket
// arrives, or, across gaps, when a base candle lands in a later bucket.
package tfbuilder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

// tfState holds the forming candle of one higher timeframe.
type tfState struct {
	bucket  time.Time
	candle  model.Candle
	started bool
}

// Builder resamples base candles into higher timeframes for one symbol.
// Designed to run in a single goroutine.
type Builder struct {
	base   model.Timeframe
	tfs    []model.Timeframe
	states []tfState

	// OnTFCandle is called for every finalized higher TF candle (optional).
	OnTFCandle func(c model.Candle)
	// OnStaleCandle is called when a base candle falls behind a forming
	// bucket and is skipped (optional).
	OnStaleCandle func(c model.Candle)
}

// New creates a builder. Every target timeframe must be a multiple of base.
func New(base model.Timeframe, tfs []model.Timeframe) (*Builder, error) {
	var out []model.Timeframe
	for _, tf := range tfs {
		if tf == base {
			continue
		}
		if tf < base || tf%base != 0 {
			return nil, fmt.Errorf("%w: %s is not a multiple of %s", model.ErrInvalidConfiguration, tf, base)
		}
		out = append(out, tf)
	}
	return &Builder{base: base, tfs: out, states: make([]tfState, len(out))}, nil
}

// TFs returns the derived timeframes.
func (b *Builder) TFs() []model.Timeframe {
	return b.tfs
}

// Process folds one base candle into every forming candle and returns the
// candles to hand on in close order: higher TF candles finalized by a gap,
// then c itself, then higher TF candles c completes. Candles of other
// timeframes pass through untouched.
func (b *Builder) Process(c model.Candle) []model.Candle {
	if c.TF != b.base {
		return []model.Candle{c}
	}
	var before, after []model.Candle
	for i, tf := range b.tfs {
		st := &b.states[i]
		bucket := tf.Align(c.TS)

		if st.started && bucket.Before(st.bucket) {
			if b.OnStaleCandle != nil {
				b.OnStaleCandle(c)
			}
			continue
		}
		if st.started && bucket.After(st.bucket) {
			// gap: the previous bucket never saw its last base candle
			before = append(before, b.finalize(st))
		}

		if !st.started {
			st.bucket, st.started = bucket, true
			st.candle = model.Candle{
				Symbol: c.Symbol,
				TF:     tf,
				TS:     bucket,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			}
		} else {
			fc := &st.candle
			fc.High = max(fc.High, c.High)
			fc.Low = min(fc.Low, c.Low)
			fc.Close = c.Close
			fc.Volume += c.Volume
		}

		if !c.TS.Add(b.base.Duration()).Before(bucket.Add(tf.Duration())) {
			after = append(after, b.finalize(st))
		}
	}
	out := make([]model.Candle, 0, len(before)+1+len(after))
	out = append(out, before...)
	out = append(out, c)
	return append(out, after...)
}

func (b *Builder) finalize(st *tfState) model.Candle {
	c := st.candle
	st.started = false
	if b.OnTFCandle != nil {
		b.OnTFCandle(c)
	}
	return c
}

// Forming returns the in-progress candle of tf, if any.
func (b *Builder) Forming(tf model.Timeframe) (model.Candle, bool) {
	for i, t := range b.tfs {
		if t == tf && b.states[i].started {
			return b.states[i].candle, true
		}
	}
	return model.Candle{}, false
}

// Source yields closed candles.
type Source interface {
	Next(ctx context.Context) (model.Candle, error)
}

// Resampler wraps a base-timeframe source and interleaves derived higher TF
// candles in close order. Unfinished buckets are dropped when the source
// ends.
type Resampler struct {
	src   Source
	b     *Builder
	queue []model.Candle
}

// NewResampler creates a resampling source.
func NewResampler(src Source, b *Builder) *Resampler {
	return &Resampler{src: src, b: b}
}

// Next returns the next candle. Errors from the wrapped source (io.EOF
// included) are returned as is once queued candles are drained.
func (r *Resampler) Next(ctx context.Context) (model.Candle, error) {
	for len(r.queue) == 0 {
		c, err := r.src.Next(ctx)
		if err != nil {
			if st, ok := r.formingSummary(); ok {
				log.Printf("[tfbuilder] source ended, dropping forming %s", st)
			}
			return model.Candle{}, err
		}
		r.queue = r.b.Process(c)
	}
	c := r.queue[0]
	r.queue = r.queue[1:]
	return c, nil
}

func (r *Resampler) formingSummary() (string, bool) {
	var keys []string
	for _, tf := range r.b.tfs {
		if c, ok := r.b.Forming(tf); ok {
			keys = append(keys, c.Key())
		}
	}
	if len(keys) == 0 {
		return "", false
	}
	return fmt.Sprint(keys), true
}
