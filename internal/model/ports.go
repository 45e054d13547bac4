package model

import (
	"context"
	"time"
)

// Storage ports. They decouple drivers and tools from the SQLite and
// Redis implementations.

// CandleWriter persists closed candles.
type CandleWriter interface {
	// WriteCandles stores candles in a single batch. Existing rows with the
	// same (symbol, tf, ts) are replaced.
	WriteCandles(ctx context.Context, candles []Candle) error

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads historical candles for replay and warm-up.
type CandleReader interface {
	// ReadCandles returns candles of one symbol and timeframe with
	// from <= TS < to, ordered by timestamp. A zero bound is open.
	ReadCandles(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
