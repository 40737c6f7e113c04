package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/risk"
)

// GateCheck is the naive-size Layer-1 probe a MarketMaker consults before
// finalizing its quote size (spec §4.7: "reduced further if Risk Gate Layer
// 1 would reject the naive size"). Kept as a function value rather than a
// direct *risk.Gate dependency so the strategy is testable without wiring a
// full gate.
type GateCheck func(qty float64) (approved bool)

// MarketMaker is the canonical per-instrument quoting strategy (spec §4.7).
// Grounded on internal/strategies/market_making.go's mutex-guarded
// per-symbol state and Initialize/Start/Stop lifecycle; the spread/size
// formula is (ADDED) per spec, and volatility estimation is grounded on
// internal/strategy/optimized/mean_reversion_strategy.go's gonum/stat.StdDev
// usage over a rolling price window.
type MarketMaker struct {
	Instrument instrument.Kind
	logger     *zap.Logger

	kVol                 float64
	kInv                 float64
	maxSkewTicks         float64 // in 32nds
	emergencyUtilization float64
	maxHistory           int

	mu         sync.RWMutex
	running    bool
	midHistory []float64
	conditions MarketConditions
}

// Params configures a MarketMaker's formula coefficients (spec §4.7).
type Params struct {
	KVol                 float64
	KInv                 float64
	MaxSkewTicks         float64
	EmergencyUtilization float64
	HistoryWindow        int
	PanicThreshold       float64
}

// NewMarketMaker constructs a MarketMaker for one instrument.
func NewMarketMaker(inst instrument.Kind, logger *zap.Logger, p Params) *MarketMaker {
	if p.HistoryWindow <= 1 {
		p.HistoryWindow = 64
	}
	return &MarketMaker{
		Instrument:           inst,
		logger:               logger,
		kVol:                 p.KVol,
		kInv:                 p.KInv,
		maxSkewTicks:         p.MaxSkewTicks,
		emergencyUtilization: p.EmergencyUtilization,
		maxHistory:           p.HistoryWindow,
		conditions:           MarketConditions{LiquidityScore: 1, PanicThreshold: p.PanicThreshold},
	}
}

// Initialize resets per-instrument state.
func (m *MarketMaker) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midHistory = m.midHistory[:0]
	return nil
}

// Start marks the strategy as active.
func (m *MarketMaker) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	if m.logger != nil {
		m.logger.Info("market maker started", zap.String("instrument", m.Instrument.String()))
	}
	return nil
}

// Stop marks the strategy as inactive.
func (m *MarketMaker) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// UpdateMid feeds one new mid-price observation, recomputing the realized
// volatility estimate over the rolling window via gonum/stat.StdDev of
// period returns.
func (m *MarketMaker) UpdateMid(mid float64, liquidityScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.midHistory = append(m.midHistory, mid)
	if len(m.midHistory) > m.maxHistory {
		m.midHistory = m.midHistory[len(m.midHistory)-m.maxHistory:]
	}
	m.conditions.LiquidityScore = liquidityScore

	if len(m.midHistory) < 3 {
		return
	}
	returns := make([]float64, 0, len(m.midHistory)-1)
	for i := 1; i < len(m.midHistory); i++ {
		prev := m.midHistory[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (m.midHistory[i]-prev)/prev)
	}
	if len(returns) >= 2 {
		m.conditions.RealizedVol = stat.StdDev(returns, nil)
	}
}

// Conditions returns a copy of the current market conditions snapshot.
func (m *MarketMaker) Conditions() MarketConditions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditions
}

// Decide computes this cycle's TradingDecision per spec §4.7's spread/size
// formula. confidence should reflect upstream signal quality; callers
// typically pass 1.0 absent a more refined estimator.
func (m *MarketMaker) Decide(bestBid, bestAsk price.Price32nd, confidence float64, inv InventoryState, riskSnap RiskSnapshot, gateCheck GateCheck, nowNs int64) TradingDecision {
	m.mu.RLock()
	cond := m.conditions
	running := m.running
	m.mu.RUnlock()

	base := TradingDecision{Instrument: m.Instrument, DecisionTsNs: nowNs}
	if !running {
		base.Action = NoAction
		return base
	}

	if riskSnap.Severity >= risk.PositionReduce ||
		inv.Utilization() >= m.emergencyUtilization ||
		(cond.PanicThreshold > 0 && cond.RealizedVol > cond.PanicThreshold) ||
		(riskSnap.CapRiskScore > 0 && riskSnap.NearCapRiskScore >= riskSnap.CapRiskScore) {
		base.Action = CancelQuotes
		return base
	}

	mid := price.SnapNearest((bestBid.ToDecimal() + bestAsk.ToDecimal()) / 2).ToDecimal()

	halfSpread := float64(m.Instrument.BaseHalfSpreadTicks()) / 32.0
	halfSpread *= 1 + m.kVol*cond.RealizedVol

	skew := m.kInv * (inv.Position / nonZero(inv.PositionLimit))
	maxSkew := m.maxSkewTicks / 32.0
	if skew > maxSkew {
		skew = maxSkew
	} else if skew < -maxSkew {
		skew = -maxSkew
	}

	halfSpread *= 1 + (1 - cond.LiquidityScore)

	bidDecimal := mid - halfSpread - skew
	askDecimal := mid + halfSpread - skew

	bidPrice := price.SnapNearest(bidDecimal)
	askPrice := price.SnapNearest(askDecimal)

	if !bidPrice.Less(askPrice) {
		base.Action = NoAction
		return base
	}

	size := m.Instrument.BaseSize() * clamp01(confidence)
	size *= 1 - inv.Utilization()
	if gateCheck != nil && !gateCheck(size) {
		size /= 2
		if gateCheck != nil && !gateCheck(size) {
			base.Action = NoAction
			return base
		}
	}

	base.Action = UpdateQuotes
	base.BidPrice = bidPrice
	base.AskPrice = askPrice
	base.BidSize = size
	base.AskSize = size
	base.Confidence = clamp01(confidence)
	base.ExpectedPnL = halfSpread * 2 * size
	return base
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func nonZero(x float64) float64 {
	if x == 0 {
		return 1
	}
	return x
}
