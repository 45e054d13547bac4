package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pondem87/kraken/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for replay and warm-up.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles returns candles of one symbol and timeframe with
// from <= ts < to, ordered by timestamp. A zero bound is open.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	lo, hi := int64(0), int64(1<<62)
	if !from.IsZero() {
		lo = from.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, int(tf), lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tf, tsUnix int64
		var vol sql.NullFloat64
		if err := rows.Scan(&c.Symbol, &tf, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TF = model.Timeframe(tf)
		c.TS = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Timeframes lists the timeframes stored for a symbol, ascending.
func (r *Reader) Timeframes(ctx context.Context, symbol string) ([]model.Timeframe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT tf FROM candles WHERE symbol = ? ORDER BY tf`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query timeframes: %w", err)
	}
	defer rows.Close()

	var out []model.Timeframe
	for rows.Next() {
		var tf int64
		if err := rows.Scan(&tf); err != nil {
			return nil, err
		}
		out = append(out, model.Timeframe(tf))
	}
	return out, rows.Err()
}

// ReadSignals returns the journaled signals of a symbol ordered by candle
// time. An empty symbol returns every signal.
func (r *Reader) ReadSignals(ctx context.Context, symbol string) ([]model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM signals
		WHERE ? = '' OR symbol = ?
		ORDER BY ts ASC, id ASC
	`, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		var sig model.Signal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
