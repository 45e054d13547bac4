package strategy

import (
	"github.com/pondem87/kraken/internal/model"
)

// target picks the take-profit for a trade: the nearest opposing active zone,
// else the most recent opposing swing beyond entry, else rr times the risk.
// The zone id is returned when a zone was used.
func target(in *Input, dir model.Direction, entry, stop, rr float64) (float64, string) {
	view := in.ZoneView()
	base, _ := in.Base()
	if dir == model.Long {
		if z, ok := view.NearestAbove(entry, model.Resistance); ok {
			return z.Low, z.ID
		}
		if base.LastHigh != nil && base.LastHigh.Price > entry {
			return base.LastHigh.Price, ""
		}
		return entry + rr*(entry-stop), ""
	}
	if z, ok := view.NearestBelow(entry, model.Support); ok {
		return z.High, z.ID
	}
	if base.LastLow != nil && base.LastLow.Price < entry {
		return base.LastLow.Price, ""
	}
	return entry - rr*(stop-entry), ""
}

// swingTarget prefers the most recent opposing swing over zones.
func swingTarget(in *Input, dir model.Direction, entry, stop, rr float64) (float64, string) {
	base, _ := in.Base()
	if dir == model.Long && base.LastHigh != nil && base.LastHigh.Price > entry {
		return base.LastHigh.Price, ""
	}
	if dir == model.Short && base.LastLow != nil && base.LastLow.Price < entry {
		return base.LastLow.Price, ""
	}
	return target(in, dir, entry, stop, rr)
}

// widen moves level away from entry by margin times the distance.
func widen(dir model.Direction, entry, level, margin float64) float64 {
	if dir == model.Long {
		return level - margin*(entry-level)
	}
	return level + margin*(level-entry)
}

// validStop reports whether stop sits on the losing side of entry.
func validStop(dir model.Direction, entry, stop float64) bool {
	if dir == model.Long {
		return stop < entry
	}
	return stop > entry
}

// trendAgrees reports whether the trend timeframes allow dir. Timeframes
// without a bias yet are skipped; a change of character already moves the
// bias, so a frame in an opposing change counts as agreeing. known is set
// when at least one timeframe had a bias.
func trendAgrees(in *Input, trend []model.Timeframe, dir model.Direction) (agrees, known bool) {
	for _, tf := range trend {
		st, ok := in.Structures[tf]
		if !ok || st.Bias == model.Ranging {
			continue
		}
		if st.Bias != dir.Bias() {
			return false, true
		}
		known = true
	}
	return true, known
}

// rrBonus rewards setups with at least twice the risk as reward.
func rrBonus(dir model.Direction, entry, stop, tgt float64) float64 {
	sig := model.Signal{Direction: dir, Entry: entry, Stop: stop, Target: tgt}
	switch rr := sig.RewardRatio(); {
	case rr >= 2:
		return 0.15
	case rr >= 1:
		return 0.05
	}
	return 0
}
