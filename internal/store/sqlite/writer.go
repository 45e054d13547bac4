// Package sqlite stores historical candles for replay and keeps a journal
// of emitted signals.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/pondem87/kraken/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/kraken.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol  TEXT    NOT NULL,
			tf      INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  REAL,
			PRIMARY KEY (symbol, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id          TEXT    PRIMARY KEY,
			strategy    TEXT    NOT NULL,
			symbol      TEXT    NOT NULL,
			tf          INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			direction   TEXT    NOT NULL,
			entry       REAL    NOT NULL,
			stop        REAL    NOT NULL,
			target      REAL    NOT NULL,
			confidence  REAL    NOT NULL,
			rationale   TEXT,
			data        TEXT    NOT NULL,
			recorded_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS signals_symbol_ts ON signals (symbol, ts);
	`)
	return err
}

// WriteCandles stores candles in one transaction. Rows with the same
// (symbol, tf, ts) are replaced.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, int(c.TF), c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", c.Key(), err)
		}
	}

	return tx.Commit()
}

// Start runs Run in a goroutine. The returned channel is closed once the
// final flush has committed, after which the writer may be closed.
func (w *Writer) Start(ctx context.Context, candleCh <-chan model.Candle) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, candleCh)
	}()
	return done
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed; on cancellation the
// candles already queued are written too.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// the run context may already be cancelled; the final flush still has to land
		if err := w.WriteCandles(context.Background(), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// keep what was already queued
		drain:
			for {
				select {
				case candle, ok := <-candleCh:
					if !ok {
						break drain
					}
					batch = append(batch, candle)
				default:
					break drain
				}
			}
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastTimestamp returns the last stored candle time of a symbol and
// timeframe, or the zero time when there is none.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string, tf model.Timeframe) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, int(tf),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// RecordSignal journals a signal. Recording the same signal twice keeps the
// first row, so replays over an existing journal do not duplicate entries.
func (w *Writer) RecordSignal(ctx context.Context, sig model.Signal) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, strategy, symbol, tf, ts, direction, entry, stop, target, confidence, rationale, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Strategy, sig.Symbol, int(sig.TF), sig.TS.Unix(), string(sig.Direction),
		sig.Entry, sig.Stop, sig.Target, sig.Confidence, sig.Rationale, string(sig.JSON()))
	if err != nil {
		return fmt.Errorf("sqlite record signal %s: %w", sig.ID, err)
	}
	return nil
}

// OnSignal lets the writer act as a signal sink.
func (w *Writer) OnSignal(ctx context.Context, sig model.Signal) error {
	return w.RecordSignal(ctx, sig)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
