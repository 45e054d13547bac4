package strategy

import (
	"fmt"
	"math"

	"github.com/pondem87/kraken/internal/model"
)

// PriceAction enters on a rejection candle that mitigates a zone: a bullish
// candle with a long lower wick off support, or a bearish candle with a long
// upper wick off resistance.
type PriceAction struct {
	cfg Config
}

// NewPriceAction creates the price_action strategy.
func NewPriceAction(cfg Config) *PriceAction {
	return &PriceAction{cfg: cfg}
}

func (s *PriceAction) Name() string { return NamePriceAction }

func (s *PriceAction) Evaluate(in *Input) []model.Signal {
	c := in.Candle
	rng := c.High - c.Low
	if rng <= 0 {
		return nil
	}

	var out []model.Signal
	for _, z := range in.Zones.MitigatedNow() {
		var dir model.Direction
		var wick float64
		switch {
		case z.Kind == model.Support && c.Bullish():
			dir, wick = model.Long, c.BodyLow()-c.Low
		case z.Kind == model.Resistance && c.Close < c.Open:
			dir, wick = model.Short, c.High-c.BodyHigh()
		default:
			continue
		}
		ratio := wick / rng
		if ratio < s.cfg.WickRatio {
			continue
		}
		if agrees, _ := trendAgrees(in, s.cfg.TrendFrames(), dir); !agrees {
			continue
		}

		entry := c.Close
		edge := math.Min(z.Low, c.Low)
		if dir == model.Short {
			edge = math.Max(z.High, c.High)
		}
		stop := widen(dir, entry, edge, s.cfg.StopMargin)
		if !validStop(dir, entry, stop) {
			continue
		}
		tgt, tgtZone := swingTarget(in, dir, entry, stop, s.cfg.RewardRatio)

		confidence := 0.45 + 0.3*ratio + rrBonus(dir, entry, stop, tgt)
		if base, ok := in.Base(); ok && base.Bias == dir.Bias() {
			confidence += 0.1
		}

		sig := newSignal(s.Name(), z.ID, in, dir, entry, stop, tgt, confidence,
			fmt.Sprintf("rejection off %s %s zone [%.5g, %.5g], wick %.0f%% of range", z.SourceTF, z.Kind, z.Low, z.High, ratio*100))
		sig.ZoneRefs = []string{z.ID}
		if tgtZone != "" {
			sig.ZoneRefs = append(sig.ZoneRefs, tgtZone)
		}
		if len(in.Events) > 0 {
			sig.EventRefs = eventRefs(in.Events...)
		}
		out = append(out, sig)
	}
	return out
}
