// Package strategy implements the volatility/inventory-adaptive market
// maker of spec §4.7: one canonical Strategy contract plus a priority-driven
// Coordinator. Grounded on internal/strategies/market_making.go's
// mutex-guarded per-symbol state and lifecycle (Initialize/Start/Stop)
// convention, and on internal/strategy/optimized/mean_reversion_strategy.go
// for gonum/stat-based volatility estimation. Per spec §9's resolution of
// the source's two overlapping quote-manager implementations, this package
// exposes exactly one Strategy, parameterized rather than duplicated.
package strategy

import (
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/risk"
)

// Action is the decision a Strategy emits each cycle (spec §4.7).
type Action int8

const (
	NoAction Action = iota
	UpdateQuotes
	CancelQuotes
)

func (a Action) String() string {
	switch a {
	case NoAction:
		return "NoAction"
	case UpdateQuotes:
		return "UpdateQuotes"
	case CancelQuotes:
		return "CancelQuotes"
	default:
		return "Unknown"
	}
}

// TradingDecision is a Strategy's per-cycle output (spec §4.7).
type TradingDecision struct {
	Action       Action
	Instrument   instrument.Kind
	BidPrice     price.Price32nd
	AskPrice     price.Price32nd
	BidSize      float64
	AskSize      float64
	Confidence   float64
	ExpectedPnL  float64
	DecisionTsNs int64
}

// InventoryState is a per-instrument position snapshot feeding skew/sizing.
type InventoryState struct {
	Position      float64
	PositionLimit float64
}

// Utilization returns |position| / limit, clipped to [0,1]; 0 if limit<=0.
func (i InventoryState) Utilization() float64 {
	if i.PositionLimit <= 0 {
		return 0
	}
	u := absf(i.Position) / i.PositionLimit
	if u > 1 {
		u = 1
	}
	return u
}

// MarketConditions is a per-instrument snapshot of realized vol and
// liquidity, refreshed from the recent tick/book history.
type MarketConditions struct {
	RealizedVol   float64 // rolling sample stddev of recent mid returns (σ̂); equal-weighted, not exponentially weighted
	LiquidityScore float64 // in [0,1]; 1 = deep/liquid, 0 = thin
	PanicThreshold float64 // volatility above which the strategy cancels quotes
}

// RiskSnapshot is the subset of risk-gate state the strategy consults when
// deciding to downgrade to CancelQuotes.
type RiskSnapshot struct {
	Severity         risk.Severity
	NearCapRiskScore float64
	CapRiskScore     float64
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
