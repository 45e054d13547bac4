package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pondem87/kraken/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// TradeRecorder persists closed positions.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, p Position) error
}

// Journal persists closed paper trades to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS paper_trades (
		id           TEXT PRIMARY KEY,
		signal_id    TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		volume       TEXT NOT NULL,
		entry        REAL NOT NULL,
		initial_stop REAL NOT NULL,
		stop         REAL NOT NULL,
		target       REAL NOT NULL,
		opened_at    INTEGER NOT NULL,
		exit         REAL NOT NULL,
		closed_at    INTEGER NOT NULL,
		reason       TEXT NOT NULL,
		pnl          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_paper_trades_strategy ON paper_trades(strategy);
	CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol ON paper_trades(symbol, closed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordTrade persists a closed position. Recording the same position twice
// keeps the latest copy.
func (j *Journal) RecordTrade(ctx context.Context, p Position) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paper_trades
		 (id, signal_id, strategy, symbol, direction, volume, entry, initial_stop, stop, target, opened_at, exit, closed_at, reason, pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SignalID, p.Strategy, p.Symbol, string(p.Direction), p.Volume.String(),
		p.Entry, p.InitialStop, p.Stop, p.Target, p.OpenedAt.Unix(),
		p.Exit, p.ClosedAt.Unix(), string(p.Reason), p.PnL.String(),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", p.ID, err)
	}
	return nil
}

// Trades returns the last N trades, newest first.
func (j *Journal) Trades(ctx context.Context, limit int) ([]Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, signal_id, strategy, symbol, direction, volume, entry, initial_stop, stop, target, opened_at, exit, closed_at, reason, pnl
		 FROM paper_trades ORDER BY closed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var trades []Position
	for rows.Next() {
		var (
			p                  Position
			dir, vol, why, pnl string
			opened, closed     int64
		)
		if err := rows.Scan(&p.ID, &p.SignalID, &p.Strategy, &p.Symbol, &dir, &vol,
			&p.Entry, &p.InitialStop, &p.Stop, &p.Target, &opened, &p.Exit, &closed, &why, &pnl); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		p.Direction = model.Direction(dir)
		p.Reason = ExitReason(why)
		p.OpenedAt = time.Unix(opened, 0).UTC()
		p.ClosedAt = time.Unix(closed, 0).UTC()
		p.Closed = true
		if p.Volume, err = decimal.NewFromString(vol); err != nil {
			return nil, fmt.Errorf("journal: volume of %s: %w", p.ID, err)
		}
		if p.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("journal: pnl of %s: %w", p.ID, err)
		}
		trades = append(trades, p)
	}
	return trades, rows.Err()
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
