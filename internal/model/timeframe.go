package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle duration in seconds.
type Timeframe int

const (
	M1  Timeframe = 60
	M5  Timeframe = 300
	M15 Timeframe = 900
	M30 Timeframe = 1800
	H1  Timeframe = 3600
	H4  Timeframe = 14400
	D1  Timeframe = 86400
)

var timeframeLabels = map[Timeframe]string{
	M1:  "M1",
	M5:  "M5",
	M15: "M15",
	M30: "M30",
	H1:  "H1",
	H4:  "H4",
	D1:  "D1",
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Second
}

// String returns the MT5-style label ("M15", "H1") or "<n>s" for
// non-standard durations.
func (tf Timeframe) String() string {
	if l, ok := timeframeLabels[tf]; ok {
		return l
	}
	return strconv.Itoa(int(tf)) + "s"
}

// Align returns the start of the bucket containing ts.
func (tf Timeframe) Align(ts time.Time) time.Time {
	sec := ts.Unix()
	return time.Unix(sec-sec%int64(tf), 0).UTC()
}

// ParseTimeframe accepts MT5 labels (M1, M15, H4, D1), plain seconds ("900")
// and seconds with a suffix ("900s").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	for tf, l := range timeframeLabels {
		if l == s {
			return tf, nil
		}
	}

	unit := int64(1)
	num := s
	switch s[0] {
	case 'M':
		unit, num = 60, s[1:]
	case 'H':
		unit, num = 3600, s[1:]
	case 'D':
		unit, num = 86400, s[1:]
	default:
		num = strings.TrimSuffix(s, "S")
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	return Timeframe(n * unit), nil
}

// MarshalText implements encoding.TextMarshaler.
func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	v, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}
