package model

import "time"

// ZoneKind is support or resistance.
type ZoneKind string

const (
	Support    ZoneKind = "support"
	Resistance ZoneKind = "resistance"
)

// ZoneStatus is the lifecycle state of a zone.
type ZoneStatus string

const (
	ZoneActive      ZoneStatus = "active"
	ZoneMitigated   ZoneStatus = "mitigated"
	ZoneInvalidated ZoneStatus = "invalidated"
)

// Zone is a support/resistance range cut from a swing candle.
type Zone struct {
	ID        string     `json:"id"`
	SourceTF  Timeframe  `json:"source_tf"`
	Kind      ZoneKind   `json:"kind"`
	Low       float64    `json:"low"`
	High      float64    `json:"high"`
	Origin    time.Time  `json:"origin"`     // swing candle time
	CreatedAt time.Time  `json:"created_at"` // time of the candle that confirmed the swing
	SwingID   string     `json:"swing_id"`
	Status    ZoneStatus `json:"status"`
	ChangedAt time.Time  `json:"changed_at,omitempty"`
}

// Contains reports whether price lies inside the zone (inclusive).
func (z *Zone) Contains(price float64) bool {
	return price >= z.Low && price <= z.High
}

// Width returns High - Low.
func (z *Zone) Width() float64 {
	return z.High - z.Low
}

// ZoneTransition records one status change.
type ZoneTransition struct {
	ZoneID string     `json:"zone_id"`
	Kind   ZoneKind   `json:"kind"`
	From   ZoneStatus `json:"from"`
	To     ZoneStatus `json:"to"`
	TS     time.Time  `json:"ts"`
	Price  float64    `json:"price"` // close of the deciding candle; the last price close for cap retirements
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to ZoneStatus) bool {
	return from == ZoneActive && (to == ZoneMitigated || to == ZoneInvalidated)
}
