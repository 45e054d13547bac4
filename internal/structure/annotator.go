// Package structure tracks market structure per timeframe: the protected
// swing high and low, the directional bias, and the log of breaks of
// structure (BOS) and changes of character (CHoCH).
//
// Levels come from confirmed swings (OnSwingPoint). Breaks are decided by
// candle closes (OnCandle). A level is broken at most once and re-arms when
// a new swing of the same kind is confirmed.
package structure

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/pondem87/kraken/internal/model"
)

type tfState struct {
	st      model.StructureState
	events  []model.StructureEvent
	symbol  string
	segInit bool
}

// Annotator owns the structure state of every timeframe it has seen.
// Not safe for concurrent use; one annotator per instrument pipeline.
type Annotator struct {
	states map[model.Timeframe]*tfState
	log    *slog.Logger
}

// New creates an empty annotator.
func New(log *slog.Logger) *Annotator {
	if log == nil {
		log = slog.Default()
	}
	return &Annotator{
		states: make(map[model.Timeframe]*tfState),
		log:    log.With(slog.String("component", "structure")),
	}
}

func (a *Annotator) state(tf model.Timeframe) *tfState {
	s := a.states[tf]
	if s == nil {
		s = &tfState{st: model.StructureState{TF: tf, Bias: model.Ranging}}
		a.states[tf] = s
	}
	return s
}

// OnSwingPoint installs a confirmed swing as the protected level of its
// kind. When the swing candle itself closed beyond the still unbroken prior
// level of the same kind, that break is emitted here: the prior level was
// only confirmed after the swing candle had already been checked.
func (a *Annotator) OnSwingPoint(sp model.SwingPoint) []model.StructureEvent {
	s := a.state(sp.TF)
	if sp.Candle.Symbol != "" {
		s.symbol = sp.Candle.Symbol
	}

	var out []model.StructureEvent
	switch sp.Kind {
	case model.SwingHigh:
		if prior := s.st.LastHigh; prior != nil && !s.st.HighBroken && sp.Candle.Close > prior.Price {
			out = append(out, a.breakLevel(s, true, sp.Candle, prior))
		}
		cp := sp
		s.st.LastHigh = &cp
		s.st.HighBroken = false
	case model.SwingLow:
		if prior := s.st.LastLow; prior != nil && !s.st.LowBroken && sp.Candle.Close < prior.Price {
			out = append(out, a.breakLevel(s, false, sp.Candle, prior))
		}
		cp := sp
		s.st.LastLow = &cp
		s.st.LowBroken = false
	}
	return out
}

// OnCandle checks the close of c against the unbroken levels of its
// timeframe and returns at most one event.
func (a *Annotator) OnCandle(c model.Candle) []model.StructureEvent {
	s := a.state(c.TF)
	s.symbol = c.Symbol
	s.st.Candles++

	if !s.segInit {
		s.st.SegmentHigh, s.st.SegmentLow = c.High, c.Low
		s.segInit = true
	} else {
		s.st.SegmentHigh = math.Max(s.st.SegmentHigh, c.High)
		s.st.SegmentLow = math.Min(s.st.SegmentLow, c.Low)
	}

	up := s.st.LastHigh != nil && !s.st.HighBroken && c.Close > s.st.LastHigh.Price
	down := s.st.LastLow != nil && !s.st.LowBroken && c.Close < s.st.LastLow.Price

	// Both can only hold when the levels have crossed; continuation wins.
	switch {
	case up && down && s.st.Bias == model.Bearish:
		return []model.StructureEvent{a.breakLevel(s, false, c, s.st.LastLow)}
	case up:
		return []model.StructureEvent{a.breakLevel(s, true, c, s.st.LastHigh)}
	case down:
		return []model.StructureEvent{a.breakLevel(s, false, c, s.st.LastLow)}
	}
	return nil
}

// breakLevel marks level as broken by c, classifies the break against the
// current bias and appends the event.
func (a *Annotator) breakLevel(s *tfState, up bool, c model.Candle, level *model.SwingPoint) model.StructureEvent {
	dir := model.Bearish
	if up {
		dir = model.Bullish
		s.st.HighBroken = true
	} else {
		s.st.LowBroken = true
	}

	prior := s.st.Bias
	kind := model.BreakOfStructure
	switch {
	case prior == dir:
		s.st.BOSCount++
		if s.st.LastEvent != nil && s.st.LastEvent.Kind == model.ChangeOfCharacter {
			s.st.CHoCHConfirmed = true
		}
	case prior == model.Ranging:
		s.st.BOSCount++
	default:
		kind = model.ChangeOfCharacter
		s.st.BOSCount = 0
		s.st.CHoCHConfirmed = false
		// the new segment starts at the extreme the old one ended on
		if up {
			s.st.SegmentHigh = c.High
		} else {
			s.st.SegmentLow = c.Low
		}
	}
	s.st.Bias = dir

	seq := len(s.events) + 1
	ev := model.StructureEvent{
		ID:        model.NewID("event", s.symbol, s.st.TF.String(), strconv.Itoa(seq)),
		TF:        s.st.TF,
		Seq:       seq,
		Kind:      kind,
		TS:        c.TS,
		Price:     c.Close,
		Level:     level.Price,
		SwingID:   level.ID(),
		PriorBias: prior,
		NewBias:   dir,
	}
	s.events = append(s.events, ev)
	last := ev
	s.st.LastEvent = &last

	a.log.Info("structure event",
		slog.String("symbol", s.symbol),
		slog.String("tf", ev.TF.String()),
		slog.String("kind", string(ev.Kind)),
		slog.String("bias", string(ev.NewBias)),
		slog.Float64("level", ev.Level),
		slog.Float64("close", ev.Price),
		slog.Time("ts", ev.TS),
	)
	return ev
}

// State returns a copy of the timeframe's structure state. Until the first
// swing of the timeframe is confirmed there is no structure and the error is
// ErrInsufficientHistory.
func (a *Annotator) State(tf model.Timeframe) (model.StructureState, error) {
	s := a.states[tf]
	if s == nil || (s.st.LastHigh == nil && s.st.LastLow == nil) {
		return model.StructureState{}, fmt.Errorf("structure: %s: %w", tf, model.ErrInsufficientHistory)
	}
	return s.view(), nil
}

// view copies the state so callers cannot reach the annotator's pointers.
func (s *tfState) view() model.StructureState {
	v := s.st
	if v.LastHigh != nil {
		h := *v.LastHigh
		v.LastHigh = &h
	}
	if v.LastLow != nil {
		l := *v.LastLow
		v.LastLow = &l
	}
	if v.LastEvent != nil {
		e := *v.LastEvent
		v.LastEvent = &e
	}
	return v
}

// Events returns the event log of a timeframe, oldest first. The returned
// slice must not be modified.
func (a *Annotator) Events(tf model.Timeframe) []model.StructureEvent {
	s := a.states[tf]
	if s == nil {
		return nil
	}
	return s.events[:len(s.events):len(s.events)]
}

// Snapshot returns the state of every timeframe that has structure.
func (a *Annotator) Snapshot() map[model.Timeframe]model.StructureState {
	out := make(map[model.Timeframe]model.StructureState, len(a.states))
	for tf, s := range a.states {
		if s.st.LastHigh == nil && s.st.LastLow == nil {
			continue
		}
		out[tf] = s.view()
	}
	return out
}
