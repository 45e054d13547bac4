// Package execution simulates a trading account that acts on signals.
//
// The paper account sizes positions from the risk per trade, checks stops
// and targets against each base candle's range, moves stops to break-even
// and trails them, and journals closed trades to SQLite.
package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pondem87/kraken/internal/model"
)

// ExitReason says why a position was closed.
type ExitReason string

const (
	ExitStop      ExitReason = "stop"
	ExitBreakEven ExitReason = "break_even"
	ExitTrailing  ExitReason = "trailing_stop"
	ExitTarget    ExitReason = "target"
	ExitOpposite  ExitReason = "opposite_signal"
	ExitStructure ExitReason = "structure_change"
	ExitEndOfRun  ExitReason = "end_of_session"
)

// Position is one paper trade.
type Position struct {
	ID          string          `json:"id"`
	SignalID    string          `json:"signal_id"`
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Direction   model.Direction `json:"direction"`
	Volume      decimal.Decimal `json:"volume"`
	Entry       float64         `json:"entry"`
	InitialStop float64         `json:"initial_stop"`
	Stop        float64         `json:"stop"`
	Target      float64         `json:"target"`
	OpenedAt    time.Time       `json:"opened_at"`

	// StructureStop is set while the stop sits on a swing moved to by a
	// break of structure.
	StructureStop bool `json:"structure_stop,omitempty"`

	Closed   bool            `json:"closed"`
	Exit     float64         `json:"exit,omitempty"`
	ClosedAt time.Time       `json:"closed_at,omitempty"`
	Reason   ExitReason      `json:"reason,omitempty"`
	PnL      decimal.Decimal `json:"pnl"`
}

// InitialRisk is the price distance between entry and the original stop.
func (p *Position) InitialRisk() float64 {
	if p.Direction == model.Long {
		return p.Entry - p.InitialStop
	}
	return p.InitialStop - p.Entry
}

// R returns the move to price in multiples of the initial risk.
func (p *Position) R(price float64) float64 {
	risk := p.InitialRisk()
	if risk <= 0 {
		return 0
	}
	if p.Direction == model.Long {
		return (price - p.Entry) / risk
	}
	return (p.Entry - price) / risk
}

// ValueAt returns the profit of the position if closed at price.
func (p *Position) ValueAt(price float64, contract decimal.Decimal) decimal.Decimal {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.Entry))
	if p.Direction == model.Short {
		move = move.Neg()
	}
	return move.Mul(p.Volume).Mul(contract)
}

// Outcome is "win", "loss" or "flat".
func (p *Position) Outcome() string {
	switch p.PnL.Sign() {
	case 1:
		return "win"
	case -1:
		return "loss"
	}
	return "flat"
}

// stopReason names a stop exit by where the stop sat.
func (p *Position) stopReason() ExitReason {
	switch {
	case p.Stop == p.InitialStop:
		return ExitStop
	case p.Stop == p.Entry:
		return ExitBreakEven
	case p.StructureStop:
		return ExitStop
	}
	return ExitTrailing
}

// Summary describes the account.
type Summary struct {
	InitialBalance float64 `json:"initial_balance"`
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	PeakEquity     float64 `json:"peak_equity"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	RealizedPnL    float64 `json:"realized_pnl"`
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	OpenPositions  int     `json:"open_positions"`
	Skipped        int     `json:"skipped_signals"`
}
