package model

import "time"

// Bias is the trend state of one timeframe.
type Bias string

const (
	Ranging Bias = "ranging"
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
)

// Opposite returns the reverse directional bias. Ranging has no opposite.
func (b Bias) Opposite() Bias {
	switch b {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	}
	return Ranging
}

// EventKind classifies structure events.
type EventKind string

const (
	BreakOfStructure  EventKind = "bos"
	ChangeOfCharacter EventKind = "choch"
)

// StructureEvent is an append-only record of a structure break.
type StructureEvent struct {
	ID        string    `json:"id"`
	TF        Timeframe `json:"tf"`
	Seq       int       `json:"seq"` // 1-based position in the timeframe's log
	Kind      EventKind `json:"kind"`
	TS        time.Time `json:"ts"`    // candle that broke the level
	Price     float64   `json:"price"` // breaking close
	Level     float64   `json:"level"` // the broken swing price
	SwingID   string    `json:"swing_id"`
	PriorBias Bias      `json:"prior_bias"`
	NewBias   Bias      `json:"new_bias"`
}

// StructureState is the annotator's view of one timeframe.
type StructureState struct {
	TF             Timeframe       `json:"tf"`
	Bias           Bias            `json:"bias"`
	LastHigh       *SwingPoint     `json:"last_high,omitempty"`
	LastLow        *SwingPoint     `json:"last_low,omitempty"`
	HighBroken     bool            `json:"high_broken"`
	LowBroken      bool            `json:"low_broken"`
	BOSCount       int             `json:"bos_count"`       // breaks since the last change of character
	CHoCHConfirmed bool            `json:"choch_confirmed"` // a BOS followed the last change of character
	SegmentHigh    float64         `json:"segment_high"`    // extremes since the last change of character
	SegmentLow     float64         `json:"segment_low"`
	LastEvent      *StructureEvent `json:"last_event,omitempty"`
	Candles        int             `json:"candles"`
}

// KeyLevel returns the protected swing price for a direction: the last
// swing low for longs, the last swing high for shorts.
func (s *StructureState) KeyLevel(dir Direction) (float64, bool) {
	if dir == Long {
		if s.LastLow == nil {
			return 0, false
		}
		return s.LastLow.Price, true
	}
	if s.LastHigh == nil {
		return 0, false
	}
	return s.LastHigh.Price, true
}
