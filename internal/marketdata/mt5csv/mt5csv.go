// Package mt5csv reads candle exports produced from MetaTrader 5
// (copy_rates_range written as CSV):
//
//	time,open,high,low,close,tick_volume,spread,real_volume
//	2023-09-01 00:00:00,9580.2,9581.0,9579.1,9580.5,120,0,0
package mt5csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pondem87/kraken/internal/model"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
	time.RFC3339,
}

// Parse reads every row of r as a candle of symbol and tf. Timestamps are
// UTC. Rows are returned in file order; malformed rows fail the whole read
// with the line number.
func Parse(r io.Reader, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("mt5csv: header: %w", err)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("mt5csv: line %d: %w", line, err)
		}
		c, err := row(rec, cols, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("mt5csv: line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

type colIndex struct {
	time, open, high, low, close, volume int
}

func columns(header []string) (colIndex, error) {
	idx := colIndex{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, h := range header {
		switch strings.ToLower(strings.Trim(strings.TrimSpace(h), "<>")) {
		case "time", "date", "datetime":
			idx.time = i
		case "open":
			idx.open = i
		case "high":
			idx.high = i
		case "low":
			idx.low = i
		case "close":
			idx.close = i
		case "tick_volume", "tickvol", "volume":
			if idx.volume < 0 {
				idx.volume = i
			}
		}
	}
	if idx.time < 0 || idx.open < 0 || idx.high < 0 || idx.low < 0 || idx.close < 0 {
		return idx, fmt.Errorf("mt5csv: header %v lacks time/open/high/low/close", header)
	}
	return idx, nil
}

func row(rec []string, cols colIndex, symbol string, tf model.Timeframe) (model.Candle, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	ts, err := parseTime(field(cols.time))
	if err != nil {
		return model.Candle{}, err
	}
	c := model.Candle{Symbol: symbol, TF: tf, TS: ts}
	for _, f := range []struct {
		dst *float64
		col int
	}{{&c.Open, cols.open}, {&c.High, cols.high}, {&c.Low, cols.low}, {&c.Close, cols.close}} {
		if *f.dst, err = strconv.ParseFloat(field(f.col), 64); err != nil {
			return model.Candle{}, fmt.Errorf("%w: %v", model.ErrMalformedCandle, err)
		}
	}
	if v := field(cols.volume); v != "" {
		if c.Volume, err = strconv.ParseFloat(v, 64); err != nil {
			return model.Candle{}, fmt.Errorf("%w: volume: %v", model.ErrMalformedCandle, err)
		}
	}
	if !c.Valid() {
		return model.Candle{}, fmt.Errorf("%w: inconsistent ohlc at %s", model.ErrMalformedCandle, ts.Format(time.RFC3339))
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad time %q", model.ErrMalformedCandle, s)
}

var tfInName = regexp.MustCompile(`(?i)(?:^|[_\-.])([MHD]\d{1,2})(?:[_\-.]|$)`)

// TimeframeFromName extracts the timeframe label from an export name such
// as "step_index_M15_2023-09-01_to_2023-12-15.csv".
func TimeframeFromName(path string) (model.Timeframe, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := tfInName.FindStringSubmatch(base)
	if m == nil {
		return 0, fmt.Errorf("mt5csv: no timeframe in %q", base)
	}
	tf, err := model.ParseTimeframe(m[1])
	if err != nil {
		return 0, fmt.Errorf("mt5csv: %w", err)
	}
	return tf, nil
}
