package book

import (
	"testing"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBook() *Book {
	updates := ring.New[Update](256)
	return New(instrument.Note10Y, zap.NewNop(), nil, 1024, updates)
}

func p32(whole int64, thirty int32) price.Price32nd {
	return price.Price32nd{Whole: whole, ThirtySeconds: thirty}
}

// Scenario 1: BBO after bursts.
func TestScenarioBBOAfterBursts(t *testing.T) {
	b := newTestBook()

	res, err := b.Add(1, Bid, p32(100, 16), 5_000_000)
	require.NoError(t, err)
	require.Equal(t, AddOK, res)

	_, err = b.Add(2, Bid, p32(100, 15), 3_000_000)
	require.NoError(t, err)

	_, err = b.Add(3, Ask, p32(100, 17), 4_000_000)
	require.NoError(t, err)

	bidPrice, bidSize, ok := b.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 100.5, bidPrice.ToDecimal(), 1e-9)
	assert.Equal(t, 5_000_000.0, bidSize)

	askPrice, askSize, ok := b.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 100.53125, askPrice.ToDecimal(), 1e-9)
	assert.Equal(t, 4_000_000.0, askSize)

	cancelRes, err := b.Cancel(1)
	require.NoError(t, err)
	require.Equal(t, CancelOK, cancelRes)

	bidPrice, bidSize, ok = b.BestBid()
	require.True(t, ok)
	assert.InDelta(t, 100.46875, bidPrice.ToDecimal(), 1e-9)
	assert.Equal(t, 3_000_000.0, bidSize)
}

// Scenario 2: aggressive cross, continuing from scenario 1's post-cancel state.
func TestScenarioAggressiveCross(t *testing.T) {
	b := newTestBook()
	_, err := b.Add(2, Bid, p32(100, 15), 3_000_000)
	require.NoError(t, err)
	_, err = b.Add(3, Ask, p32(100, 17), 4_000_000)
	require.NoError(t, err)

	fills, err := b.Trade(p32(100, 17), 3_000_000, Bid)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, uint64(3), fills[0].OrderID)
	assert.Equal(t, 3_000_000.0, fills[0].FilledQty)
	assert.False(t, fills[0].FullyFilled)

	askPrice, askSize, ok := b.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 100.53125, askPrice.ToDecimal(), 1e-9)
	assert.Equal(t, 1_000_000.0, askSize)
}

func TestDuplicateOrderIDRejected(t *testing.T) {
	b := newTestBook()
	_, err := b.Add(1, Bid, p32(100, 0), 1_000_000)
	require.NoError(t, err)
	res, err := b.Add(1, Bid, p32(100, 1), 1_000_000)
	assert.Error(t, err)
	assert.Equal(t, AddDuplicateOrderID, res)
}

func TestCancelUnknownOrder(t *testing.T) {
	b := newTestBook()
	res, err := b.Cancel(999)
	assert.Error(t, err)
	assert.Equal(t, CancelNotFound, res)
}

func TestTradeAgainstEmptySideIsNoop(t *testing.T) {
	b := newTestBook()
	fills, err := b.Trade(p32(100, 0), 1_000_000, Bid)
	assert.NoError(t, err)
	assert.Empty(t, fills)
}

// P2: book conservation across add/cancel/trade sequences.
func TestConservationProperty(t *testing.T) {
	b := newTestBook()
	_, _ = b.Add(1, Bid, p32(100, 0), 1_000_000)
	_, _ = b.Add(2, Bid, p32(100, 0), 2_000_000)
	_, _ = b.Add(3, Bid, p32(99, 31), 3_000_000)
	_, _ = b.Add(4, Ask, p32(100, 2), 1_500_000)

	levelsSum, ordersSum := b.ConservationCheck(Bid)
	assert.Equal(t, ordersSum, levelsSum)

	_, _ = b.Cancel(2)
	levelsSum, ordersSum = b.ConservationCheck(Bid)
	assert.Equal(t, ordersSum, levelsSum)

	_, _ = b.Trade(p32(100, 2), 500_000, Ask)
	levelsSum, ordersSum = b.ConservationCheck(Bid)
	assert.Equal(t, ordersSum, levelsSum)
}

// P3: price-time priority within a level.
func TestPriceTimePriority(t *testing.T) {
	b := newTestBook()
	_, _ = b.Add(1, Bid, p32(100, 0), 1_000_000)
	_, _ = b.Add(2, Bid, p32(100, 0), 1_000_000)
	_, _ = b.Add(3, Bid, p32(100, 0), 1_000_000)

	fills, err := b.Trade(p32(100, 0), 2_000_000, Ask)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, uint64(1), fills[0].OrderID)
	assert.Equal(t, uint64(2), fills[1].OrderID)
}

func TestModifyDownwardKeepsPriority(t *testing.T) {
	b := newTestBook()
	_, _ = b.Add(1, Bid, p32(100, 0), 1_000_000)
	_, _ = b.Add(2, Bid, p32(100, 0), 1_000_000)

	_, err := b.Modify(1, p32(100, 0), 500_000)
	require.NoError(t, err)

	fills, err := b.Trade(p32(100, 0), 600_000, Ask)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, uint64(1), fills[0].OrderID)
	assert.Equal(t, 500_000.0, fills[0].FilledQty)
}

func TestModifyPriceChangeActsAsCancelAdd(t *testing.T) {
	b := newTestBook()
	_, _ = b.Add(1, Bid, p32(100, 0), 1_000_000)

	_, err := b.Modify(1, p32(100, 5), 1_000_000)
	require.NoError(t, err)

	bidPrice, _, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int32(5), bidPrice.ThirtySeconds)
}

func TestDepth(t *testing.T) {
	b := newTestBook()
	_, _ = b.Add(1, Bid, p32(100, 0), 1_000_000)
	_, _ = b.Add(2, Bid, p32(99, 31), 1_000_000)
	_, _ = b.Add(3, Bid, p32(99, 30), 1_000_000)

	levels := b.Depth(Bid, 2)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.ToDecimal() > levels[1].Price.ToDecimal())
}
