package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
)

func TestCoordinatorOrdersByPriorityThenIndex(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c, err := NewCoordinator(logger, 4)
	require.NoError(t, err)
	defer c.Release()

	a := NewMarketMaker(instrument.Note5Y, logger, Params{EmergencyUtilization: 1})
	b := NewMarketMaker(instrument.Note10Y, logger, Params{EmergencyUtilization: 1})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	c.Register(a, 2, 1.0)
	c.Register(b, 1, 1.0)

	var order []instrument.Kind
	bid, ask := price.SnapNearest(99.9), price.SnapNearest(100.1)
	c.RunCycle(func(mm *MarketMaker) TradingDecision {
		order = append(order, mm.Instrument)
		return mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 1}, RiskSnapshot{}, nil, 1)
	})

	require.Len(t, order, 2)
	assert.Equal(t, instrument.Note10Y, order[0]) // priority 1 before priority 2
	assert.Equal(t, instrument.Note5Y, order[1])
}

func TestCoordinatorEmergencyStopSkipsCycle(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c, err := NewCoordinator(logger, 2)
	require.NoError(t, err)
	defer c.Release()

	mm := NewMarketMaker(instrument.Note10Y, logger, Params{EmergencyUtilization: 1})
	require.NoError(t, mm.Start(context.Background()))
	c.Register(mm, 1, 1.0)
	c.EmergencyStop()

	called := false
	decisions := c.RunCycle(func(mm *MarketMaker) TradingDecision {
		called = true
		return TradingDecision{}
	})

	assert.False(t, called)
	assert.Nil(t, decisions)
}

func TestCoordinatorScalesSizeByResourceShare(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c, err := NewCoordinator(logger, 2)
	require.NoError(t, err)
	defer c.Release()

	mm := NewMarketMaker(instrument.Note10Y, logger, Params{EmergencyUtilization: 1})
	require.NoError(t, mm.Start(context.Background()))
	c.Register(mm, 1, 0.5)

	bid, ask := price.SnapNearest(99.9), price.SnapNearest(100.1)
	decisions := c.RunCycle(func(mm *MarketMaker) TradingDecision {
		return mm.Decide(bid, ask, 1.0, InventoryState{PositionLimit: 1}, RiskSnapshot{}, nil, 1)
	})

	require.Len(t, decisions, 1)
	require.Equal(t, UpdateQuotes, decisions[0].Action)
	fullSize := instrument.Note10Y.BaseSize()
	assert.InDelta(t, fullSize*0.5, decisions[0].BidSize, 1e-6)
}

func TestCoordinatorRecomputeAllConditions(t *testing.T) {
	logger := zaptest.NewLogger(t)
	c, err := NewCoordinator(logger, 4)
	require.NoError(t, err)
	defer c.Release()

	mm := NewMarketMaker(instrument.Note10Y, logger, Params{EmergencyUtilization: 1, HistoryWindow: 8})
	require.NoError(t, mm.Initialize(context.Background()))
	c.Register(mm, 1, 1.0)

	err = c.RecomputeAllConditions(
		map[instrument.Kind]float64{instrument.Note10Y: 101.0},
		map[instrument.Kind]float64{instrument.Note10Y: 0.8},
	)
	require.NoError(t, err)
	assert.Equal(t, 0.8, mm.Conditions().LiquidityScore)
}
