package model

import (
	"encoding/json"
	"time"
)

// Direction is the side of a trade signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Bias returns the structure bias that agrees with the direction.
func (d Direction) Bias() Bias {
	if d == Long {
		return Bullish
	}
	return Bearish
}

// Signal is a strategy's trade recommendation. Immutable once emitted.
type Signal struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	TF         Timeframe `json:"tf"`
	TS         time.Time `json:"ts"`
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	EventRefs  []string  `json:"event_refs,omitempty"`
	ZoneRefs   []string  `json:"zone_refs,omitempty"`
}

// Risk returns the distance between entry and stop.
func (s *Signal) Risk() float64 {
	if s.Direction == Long {
		return s.Entry - s.Stop
	}
	return s.Stop - s.Entry
}

// RewardRatio returns reward over risk, or 0 when risk is not positive.
func (s *Signal) RewardRatio() float64 {
	risk := s.Risk()
	if risk <= 0 {
		return 0
	}
	if s.Direction == Long {
		return (s.Target - s.Entry) / risk
	}
	return (s.Entry - s.Target) / risk
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
