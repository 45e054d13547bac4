package model

import "time"

// SwingKind distinguishes pivot highs from pivot lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a local extremum on one timeframe.
type SwingPoint struct {
	TF          Timeframe `json:"tf"`
	Index       int       `json:"index"` // session-absolute candle index within the timeframe
	TS          time.Time `json:"ts"`    // extremum candle time
	Price       float64   `json:"price"`
	Kind        SwingKind `json:"kind"`
	Confirmed   bool      `json:"confirmed"`
	ConfirmedAt time.Time `json:"confirmed_at"` // time of the candle that confirmed it
	Candle      Candle    `json:"candle"`       // the extremum candle
}

// ID returns a stable identifier for the swing.
func (sp *SwingPoint) ID() string {
	return NewID("swing", sp.Candle.Symbol, sp.TF.String(), string(sp.Kind), sp.TS.UTC().Format(time.RFC3339Nano))
}
