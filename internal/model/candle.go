package model

import (
	"encoding/json"
	"math"
	"time"
)

// Candle is a closed OHLCV bar of one instrument on one timeframe.
// Prices are float64: instruments quote with varying digits (synthetic
// indices step by 0.1, FX by 0.00001), so there is no single integer unit.
type Candle struct {
	Symbol string    `json:"symbol"`
	TF     Timeframe `json:"tf"`
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key returns "symbol:TF", e.g. "Step Index:M15".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.TF.String()
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool {
	return c.Close > c.Open
}

// BodyLow returns the lower end of the candle body.
func (c *Candle) BodyLow() float64 {
	return math.Min(c.Open, c.Close)
}

// BodyHigh returns the upper end of the candle body.
func (c *Candle) BodyHigh() float64 {
	return math.Max(c.Open, c.Close)
}

// Valid reports whether the prices describe a real bar.
func (c *Candle) Valid() bool {
	for _, p := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return c.High >= c.Low &&
		c.High >= c.BodyHigh() &&
		c.Low <= c.BodyLow() &&
		!c.TS.IsZero()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
