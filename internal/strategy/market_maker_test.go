package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/risk"
)

func newTestMaker(t *testing.T) *MarketMaker {
	mm := NewMarketMaker(instrument.Note10Y, zaptest.NewLogger(t), Params{
		KVol:                 2.0,
		KInv:                 0.5,
		MaxSkewTicks:         8,
		EmergencyUtilization: 0.95,
		HistoryWindow:        32,
		PanicThreshold:       0.05,
	})
	require.NoError(t, mm.Initialize(context.Background()))
	require.NoError(t, mm.Start(context.Background()))
	return mm
}

func bidAsk(mid, halfSpread float64) (price.Price32nd, price.Price32nd) {
	return price.SnapNearest(mid - halfSpread), price.SnapNearest(mid + halfSpread)
}

// Scenario 3: inventory skew.
func TestInventorySkewShiftsQuotesDown(t *testing.T) {
	mm := newTestMaker(t)
	bid, ask := bidAsk(102.5, 0.1)

	zeroPos := InventoryState{Position: 0, PositionLimit: 100_000_000}
	noRisk := RiskSnapshot{Severity: risk.Approved}

	symmetric := mm.Decide(bid, ask, 1.0, zeroPos, noRisk, nil, 1)
	require.Equal(t, UpdateQuotes, symmetric.Action)
	mid := (bid.ToDecimal() + ask.ToDecimal()) / 2
	baseHalfSpread := float64(instrument.Note10Y.BaseHalfSpreadTicks()) / 32.0

	// Symmetric around mid when flat.
	assert.InDelta(t, price.SnapNearest(mid-baseHalfSpread).ToDecimal(), symmetric.BidPrice.ToDecimal(), 1e-9)
	assert.InDelta(t, price.SnapNearest(mid+baseHalfSpread).ToDecimal(), symmetric.AskPrice.ToDecimal(), 1e-9)

	longPos := InventoryState{Position: 50_000_000, PositionLimit: 100_000_000}
	skewed := mm.Decide(bid, ask, 1.0, longPos, noRisk, nil, 2)
	require.Equal(t, UpdateQuotes, skewed.Action)

	assert.Less(t, skewed.BidPrice.ToDecimal(), mid-baseHalfSpread)
	assert.Less(t, skewed.AskPrice.ToDecimal(), mid+baseHalfSpread)
}

func TestCancelQuotesOnPanicVolatility(t *testing.T) {
	mm := newTestMaker(t)
	mm.UpdateMid(100, 1.0)
	mm.UpdateMid(110, 1.0) // large jump feeds a high realized-vol estimate
	mm.UpdateMid(90, 1.0)

	require.Greater(t, mm.Conditions().RealizedVol, mm.conditions.PanicThreshold)

	bid, ask := bidAsk(100, 0.1)
	d := mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 100}, RiskSnapshot{}, nil, 1)
	assert.Equal(t, CancelQuotes, d.Action)
}

func TestCancelQuotesOnHighRiskSeverity(t *testing.T) {
	mm := newTestMaker(t)
	bid, ask := bidAsk(100, 0.1)
	d := mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 100}, RiskSnapshot{Severity: risk.PositionReduce}, nil, 1)
	assert.Equal(t, CancelQuotes, d.Action)
}

func TestCancelQuotesOnEmergencyUtilization(t *testing.T) {
	mm := newTestMaker(t)
	bid, ask := bidAsk(100, 0.1)
	inv := InventoryState{Position: 96, PositionLimit: 100}
	d := mm.Decide(bid, ask, 1.0, inv, RiskSnapshot{Severity: risk.Approved}, nil, 1)
	assert.Equal(t, CancelQuotes, d.Action)
}

func TestGateRejectHalvesSizeThenNoAction(t *testing.T) {
	mm := newTestMaker(t)
	bid, ask := bidAsk(100, 0.1)
	calls := 0
	gateCheck := func(qty float64) bool {
		calls++
		return false
	}
	d := mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 100}, RiskSnapshot{}, gateCheck, 1)
	assert.Equal(t, NoAction, d.Action)
	assert.Equal(t, 2, calls)
}

func TestGateApprovesHalvedSize(t *testing.T) {
	mm := newTestMaker(t)
	bid, ask := bidAsk(100, 0.1)
	calls := 0
	gateCheck := func(qty float64) bool {
		calls++
		return calls == 2 // reject full size, approve half
	}
	d := mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 100}, RiskSnapshot{}, gateCheck, 1)
	require.Equal(t, UpdateQuotes, d.Action)
	assert.Equal(t, 2, calls)
}

func TestStoppedStrategyReturnsNoAction(t *testing.T) {
	mm := newTestMaker(t)
	require.NoError(t, mm.Stop(context.Background()))
	bid, ask := bidAsk(100, 0.1)
	d := mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 100}, RiskSnapshot{}, nil, 1)
	assert.Equal(t, NoAction, d.Action)
}
