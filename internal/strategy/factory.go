package strategy

import (
	"fmt"
	"strings"

	"github.com/pondem87/kraken/internal/model"
)

// Strategy ids.
const (
	NameTrendFollowing = "trend_following"
	NameStructureBreak = "structure_break"
	NamePriceAction    = "price_action"
)

// canonical maps configured names, including the legacy aliases, to ids.
func canonical(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "simple_trend":
		return NameTrendFollowing
	case "ict":
		return NameStructureBreak
	default:
		return n
	}
}

// Known reports whether name selects a strategy.
func Known(name string) bool {
	switch canonical(name) {
	case NameTrendFollowing, NameStructureBreak, NamePriceAction:
		return true
	}
	return false
}

// Build returns the strategy implementation matching name.
func Build(name string, cfg Config) (Strategy, error) {
	switch canonical(name) {
	case NameTrendFollowing:
		return NewTrendFollower(cfg), nil
	case NameStructureBreak:
		return NewStructureBreak(cfg), nil
	case NamePriceAction:
		return NewPriceAction(cfg), nil
	default:
		return nil, fmt.Errorf("strategy: build %q: %w", name, model.ErrInvalidConfiguration)
	}
}
