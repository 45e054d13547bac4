package strategy

import (
	"fmt"
	"strings"

	"github.com/pondem87/kraken/internal/model"
)

// TrendFollower enters in the direction shared by every trend timeframe
// when the base timeframe changes character into that direction, or when
// that change is confirmed by the next break. The +bos entries also take
// each later break in the same direction. Events are emitted once, so each
// change and each break is answered at most once.
type TrendFollower struct {
	cfg Config
}

// NewTrendFollower creates the trend_following strategy.
func NewTrendFollower(cfg Config) *TrendFollower {
	return &TrendFollower{cfg: cfg}
}

func (s *TrendFollower) Name() string { return NameTrendFollowing }

func (s *TrendFollower) Evaluate(in *Input) []model.Signal {
	frames := s.cfg.TrendFrames()
	bias, top, ok := commonBias(in, frames)
	if !ok {
		return nil
	}
	base, ok := in.Base()
	if !ok {
		return nil
	}
	dir := model.Long
	if bias == model.Bearish {
		dir = model.Short
	}

	ev, ok := s.trigger(in, base, bias)
	if !ok {
		return nil
	}

	entry := in.Candle.Close
	var level float64
	switch s.cfg.StopLevel {
	case StopSegmentRange:
		level = base.SegmentLow
		if dir == model.Short {
			level = base.SegmentHigh
		}
	default:
		if level, ok = base.KeyLevel(dir); !ok {
			return nil
		}
	}
	stop := widen(dir, entry, level, s.cfg.StopMargin)
	if !validStop(dir, entry, stop) {
		return nil
	}
	tgt, zoneID := target(in, dir, entry, stop, s.cfg.RewardRatio)

	confidence := 0.55 + rrBonus(dir, entry, stop, tgt)
	if base.CHoCHConfirmed {
		confidence += 0.15
	}
	if top.CHoCHConfirmed || top.BOSCount > 1 {
		confidence += 0.1
	}

	sig := newSignal(s.Name(), ev.ID, in, dir, entry, stop, tgt, confidence,
		fmt.Sprintf("%s trend %s; %s", frameList(frames), bias, describe(ev)))
	refs := []model.StructureEvent{ev}
	for _, tf := range frames {
		if st := in.Structures[tf]; st.LastEvent != nil {
			refs = append(refs, *st.LastEvent)
		}
	}
	sig.EventRefs = eventRefs(refs...)
	if zoneID != "" {
		sig.ZoneRefs = []string{zoneID}
	}
	return []model.Signal{sig}
}

// commonBias returns the bias every frame shares and the state of the
// highest frame. A frame without structure or still ranging blocks entries.
func commonBias(in *Input, frames []model.Timeframe) (model.Bias, model.StructureState, bool) {
	if len(frames) == 0 {
		return model.Ranging, model.StructureState{}, false
	}
	bias := model.Ranging
	var top model.StructureState
	for _, tf := range frames {
		st, ok := in.Structures[tf]
		if !ok || st.Bias == model.Ranging {
			return model.Ranging, model.StructureState{}, false
		}
		if bias != model.Ranging && st.Bias != bias {
			return model.Ranging, model.StructureState{}, false
		}
		bias, top = st.Bias, st
	}
	return bias, top, true
}

// trigger finds the base event of this candle that opens a trade.
func (s *TrendFollower) trigger(in *Input, base model.StructureState, bias model.Bias) (model.StructureEvent, bool) {
	for _, ev := range in.Events {
		if ev.TF != in.TF || ev.NewBias != bias {
			continue
		}
		choch := ev.Kind == model.ChangeOfCharacter
		bos := ev.Kind == model.BreakOfStructure
		switch s.cfg.Entry {
		case EntryCHoCHConfirmed:
			// the first break after the change of character
			if bos && base.CHoCHConfirmed && base.BOSCount == 1 {
				return ev, true
			}
		case EntryCHoCHConfirmedBOS:
			if bos {
				return ev, true
			}
		case EntryCHoCHBOS:
			if choch || bos {
				return ev, true
			}
		default:
			if choch {
				return ev, true
			}
		}
	}
	return model.StructureEvent{}, false
}

func frameList(tfs []model.Timeframe) string {
	names := make([]string, len(tfs))
	for i, tf := range tfs {
		names[i] = tf.String()
	}
	return strings.Join(names, "+")
}
