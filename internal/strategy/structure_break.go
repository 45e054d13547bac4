package strategy

import (
	"fmt"

	"github.com/pondem87/kraken/internal/model"
)

// StructureBreak trades a base timeframe break when a zone of the matching
// kind sits behind price: support below for longs, resistance above for
// shorts. A zone mitigated on this very candle counts. The stop goes beyond
// the zone.
type StructureBreak struct {
	cfg Config
}

// NewStructureBreak creates the structure_break strategy.
func NewStructureBreak(cfg Config) *StructureBreak {
	return &StructureBreak{cfg: cfg}
}

func (s *StructureBreak) Name() string { return NameStructureBreak }

func (s *StructureBreak) Evaluate(in *Input) []model.Signal {
	var out []model.Signal
	for _, ev := range in.Events {
		if ev.TF != in.TF || ev.NewBias == model.Ranging {
			continue
		}
		dir := model.Long
		if ev.NewBias == model.Bearish {
			dir = model.Short
		}
		agrees, known := trendAgrees(in, s.cfg.TrendFrames(), dir)
		if !agrees {
			continue
		}

		entry := in.Candle.Close
		z, fresh, ok := s.zoneBehind(in, dir, entry)
		if !ok {
			continue
		}
		edge := z.Low
		if dir == model.Short {
			edge = z.High
		}
		stop := widen(dir, entry, edge, s.cfg.StopMargin)
		if !validStop(dir, entry, stop) {
			continue
		}
		tgt, tgtZone := target(in, dir, entry, stop, s.cfg.RewardRatio)

		confidence := 0.5 + rrBonus(dir, entry, stop, tgt)
		if known {
			confidence += 0.15
		}
		if fresh {
			confidence += 0.1
		}
		if z.SourceTF > in.TF {
			confidence += 0.05
		}

		sig := newSignal(s.Name(), ev.ID+"/"+z.ID, in, dir, entry, stop, tgt, confidence,
			fmt.Sprintf("%s with %s %s zone [%.5g, %.5g] behind price", describe(ev), z.SourceTF, z.Kind, z.Low, z.High))
		sig.EventRefs = eventRefs(ev)
		sig.ZoneRefs = []string{z.ID}
		if tgtZone != "" {
			sig.ZoneRefs = append(sig.ZoneRefs, tgtZone)
		}
		out = append(out, sig)
	}
	return out
}

// zoneBehind prefers a zone mitigated on this candle, then the nearest
// active zone on the stop side of entry.
func (s *StructureBreak) zoneBehind(in *Input, dir model.Direction, entry float64) (model.Zone, bool, bool) {
	kind := model.Support
	if dir == model.Short {
		kind = model.Resistance
	}
	for _, z := range in.Zones.MitigatedNow() {
		if z.Kind != kind {
			continue
		}
		if (dir == model.Long && z.Low < entry) || (dir == model.Short && z.High > entry) {
			return z, true, true
		}
	}
	view := in.ZoneView()
	if dir == model.Long {
		z, ok := view.NearestBelow(entry, kind)
		return z, false, ok
	}
	z, ok := view.NearestAbove(entry, kind)
	return z, false, ok
}
