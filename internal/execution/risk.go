package execution

import (
	"log"

	"github.com/shopspring/decimal"
)

// RiskManager gates new positions and tracks equity and drawdown.
// The paper account calls it under its own lock.
type RiskManager struct {
	maxOpen        int
	maxDrawdownPct float64

	equity      decimal.Decimal
	peakEquity  decimal.Decimal
	maxDrawdown float64
	realized    decimal.Decimal
	halted      bool
}

// NewRiskManager creates a RiskManager with the given limits and starting equity.
func NewRiskManager(cfg Config, initialEquity decimal.Decimal) *RiskManager {
	return &RiskManager{
		maxOpen:        cfg.MaxConcurrent,
		maxDrawdownPct: cfg.MaxDrawdownPct,
		equity:         initialEquity,
		peakEquity:     initialEquity,
	}
}

// CanTrade checks if a new position would violate any risk limits.
// Returns true if the trade is allowed, false with a reason if not.
func (rm *RiskManager) CanTrade(open int) (bool, string) {
	if open >= rm.maxOpen {
		return false, "max open positions reached"
	}
	if rm.halted {
		return false, "max drawdown exceeded"
	}
	return true, ""
}

// RecordPnL books realized profit.
func (rm *RiskManager) RecordPnL(pnl decimal.Decimal) {
	rm.realized = rm.realized.Add(pnl)
}

// UpdateEquity tracks the peak and the drawdown from it. Crossing the
// drawdown limit halts new trades for the rest of the session.
func (rm *RiskManager) UpdateEquity(equity decimal.Decimal) {
	rm.equity = equity
	if equity.GreaterThan(rm.peakEquity) {
		rm.peakEquity = equity
	}
	dd := rm.drawdownPct()
	if dd > rm.maxDrawdown {
		rm.maxDrawdown = dd
	}
	if rm.maxDrawdownPct > 0 && !rm.halted && dd > rm.maxDrawdownPct {
		rm.halted = true
		log.Printf("[risk] drawdown %.2f%% over limit %.2f%%, no new trades", dd, rm.maxDrawdownPct)
	}
}

func (rm *RiskManager) drawdownPct() float64 {
	if !rm.peakEquity.IsPositive() {
		return 0
	}
	return rm.peakEquity.Sub(rm.equity).Div(rm.peakEquity).InexactFloat64() * 100
}

// Halted reports whether the drawdown limit stopped trading.
func (rm *RiskManager) Halted() bool { return rm.halted }
