package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrderCandle is returned when a candle's timestamp is not after
	// the last accepted candle of its timeframe. The candle is not ingested.
	ErrOutOfOrderCandle = errors.New("out of order candle")

	// ErrMalformedCandle is returned for candles whose prices cannot describe
	// a bar (high below low, NaN, zero timestamp).
	ErrMalformedCandle = errors.New("malformed candle")

	// ErrUnknownTimeframe is returned for candles on a timeframe the session
	// was not configured with.
	ErrUnknownTimeframe = errors.New("unknown timeframe")

	// ErrInvalidConfiguration is fatal at session start.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientHistory marks state that is not available yet.
	ErrInsufficientHistory = errors.New("insufficient history")
)

// OutOfOrderError describes a rejected candle.
type OutOfOrderError struct {
	TF     Timeframe
	TS     time.Time
	LastTS time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order candle: tf=%s ts=%s last=%s",
		e.TF, e.TS.Format(time.RFC3339), e.LastTS.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrOutOfOrderCandle.
func (e *OutOfOrderError) Unwrap() error {
	return ErrOutOfOrderCandle
}

// IsRejection reports whether err is a per-candle rejection the driver may
// log and skip, as opposed to a fatal error.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOutOfOrderCandle) ||
		errors.Is(err, ErrMalformedCandle) ||
		errors.Is(err, ErrUnknownTimeframe)
}
