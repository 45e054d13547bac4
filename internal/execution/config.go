package execution

import (
	"errors"
	"fmt"

	"github.com/pondem87/kraken/internal/model"
)

// Structure exits close positions when the base timeframe turns against
// them.
const (
	ExitOnNone           = ""
	ExitOnCHoCH          = "choch"           // on the change of character
	ExitOnCHoCHConfirmed = "choch_confirmed" // on the first break after it
)

// Config controls the paper account.
type Config struct {
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"`
	RiskPerTrade   float64 `yaml:"risk_per_trade" json:"risk_per_trade"` // fraction of the balance lost at the stop
	CompoundRisk   bool    `yaml:"compound_risk" json:"compound_risk"`   // size from the current balance instead of the initial one
	ContractSize   float64 `yaml:"contract_size" json:"contract_size"`
	VolumeMin      float64 `yaml:"volume_min" json:"volume_min"` // also the volume step
	VolumeMax      float64 `yaml:"volume_max" json:"volume_max"`
	MaxConcurrent  int     `yaml:"max_concurrent_trades" json:"max_concurrent_trades"`
	SlippageBps    int64   `yaml:"slippage_bps" json:"slippage_bps"`

	// Stop management, in multiples of the initial risk. Zero disables.
	BreakEvenAtR float64 `yaml:"break_even_at_r" json:"break_even_at_r"`
	TrailingAtR  float64 `yaml:"trailing_at_r" json:"trailing_at_r"`

	// ExitOn closes positions on a base timeframe change of character.
	// MoveStopOnBOS moves the stop of positions in the break direction to
	// the new protected swing.
	ExitOn        string `yaml:"exit" json:"exit"`
	MoveStopOnBOS bool   `yaml:"move_sl_on_bos" json:"move_sl_on_bos"`

	CloseOpposite  bool    `yaml:"close_opposite" json:"close_opposite"`
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"` // 0 = no limit
}

// DefaultConfig returns a 1000 unit account risking 2% per trade.
func DefaultConfig() Config {
	return Config{
		InitialBalance: 1000,
		RiskPerTrade:   0.02,
		ContractSize:   1,
		VolumeMin:      0.01,
		VolumeMax:      100,
		MaxConcurrent:  2,
		BreakEvenAtR:   1.0,
		TrailingAtR:    1.5,
		CloseOpposite:  true,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.InitialBalance <= 0 {
		errs = append(errs, fmt.Errorf("execution: initial_balance must be > 0, got %g", c.InitialBalance))
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade >= 1 {
		errs = append(errs, fmt.Errorf("execution: risk_per_trade must be in (0, 1), got %g", c.RiskPerTrade))
	}
	if c.ContractSize <= 0 {
		errs = append(errs, fmt.Errorf("execution: contract_size must be > 0, got %g", c.ContractSize))
	}
	if c.VolumeMin <= 0 || c.VolumeMax < c.VolumeMin {
		errs = append(errs, fmt.Errorf("execution: need 0 < volume_min <= volume_max, got %g, %g", c.VolumeMin, c.VolumeMax))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("execution: max_concurrent_trades must be >= 1, got %d", c.MaxConcurrent))
	}
	if c.SlippageBps < 0 {
		errs = append(errs, fmt.Errorf("execution: slippage_bps must be >= 0, got %d", c.SlippageBps))
	}
	if c.BreakEvenAtR < 0 || c.TrailingAtR < 0 {
		errs = append(errs, errors.New("execution: break_even_at_r and trailing_at_r must be >= 0"))
	}
	if c.BreakEvenAtR > 0 && c.TrailingAtR > 0 && c.TrailingAtR < c.BreakEvenAtR {
		errs = append(errs, fmt.Errorf("execution: trailing_at_r (%g) below break_even_at_r (%g)", c.TrailingAtR, c.BreakEvenAtR))
	}
	switch c.ExitOn {
	case ExitOnNone, ExitOnCHoCH, ExitOnCHoCHConfirmed:
	default:
		errs = append(errs, fmt.Errorf("execution: unknown exit %q", c.ExitOn))
	}
	if c.MaxDrawdownPct < 0 || c.MaxDrawdownPct > 100 {
		errs = append(errs, fmt.Errorf("execution: max_drawdown_pct must be in [0, 100], got %g", c.MaxDrawdownPct))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}
