package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
)

func newTestGate(t *testing.T) *Gate {
	limits := map[instrument.Kind]Layer1Limits{
		instrument.Note10Y: {MaxPosition: 100_000_000, MaxDailyOrders: 1000, MaxOrderQty: 50_000_000},
	}
	l2 := Layer2Limits{
		MaxPortfolioDV01:       1_000_000,
		MaxConcentration:       0.5,
		MaxCorrelationExposure: 0.8,
		MaxVaR:                 5_000_000,
		MaxStressLoss:          10_000_000,
	}
	return NewGate(zaptest.NewLogger(t), limits, l2, 10*time.Second, time.Minute, 3)
}

// Scenario 4: Layer-1 position reject.
func TestLayer1PositionReject(t *testing.T) {
	g := newTestGate(t)
	sev, v := g.CheckLayer1(instrument.Note10Y, 10_000_000, 95_000_000)
	assert.Equal(t, TradeRejected, sev)
	assert.True(t, v.Has(ViolationPositionLimit))
}

func TestLayer1ApprovesWithinLimits(t *testing.T) {
	g := newTestGate(t)
	sev, v := g.CheckLayer1(instrument.Note10Y, 1_000_000, 0)
	assert.Equal(t, Approved, sev)
	assert.Equal(t, Violation(0), v)
}

func TestLayer1OrderSizeReject(t *testing.T) {
	g := newTestGate(t)
	sev, v := g.CheckLayer1(instrument.Note10Y, 60_000_000, 0)
	assert.Equal(t, TradeRejected, sev)
	assert.True(t, v.Has(ViolationOrderSizeLimit))
}

func TestEmergencyHaltShortCircuits(t *testing.T) {
	g := newTestGate(t)
	g.TripBreaker(instrument.Note10Y, 0)
	sev, v := g.CheckLayer1(instrument.Note10Y, 1, 0)
	assert.Equal(t, EmergencyHalt, sev)
	assert.True(t, v.Has(ViolationEmergencyHalt))
}

// P6: risk monotonicity — severity is non-decreasing in |position after|.
func TestLayer1MonotonicityInPosition(t *testing.T) {
	g := newTestGate(t)
	positions := []float64{0, 50_000_000, 90_000_000, 95_000_000, 99_000_000}
	var prev Severity
	for _, pos := range positions {
		sev, _ := g.CheckLayer1(instrument.Note10Y, 5_000_000, pos)
		assert.GreaterOrEqual(t, int(sev), int(prev))
		prev = sev
	}
}

func TestLayer1MonotonicityInOrderQty(t *testing.T) {
	g := newTestGate(t)
	qtys := []float64{1_000_000, 10_000_000, 40_000_000, 45_000_000, 49_000_000}
	var prev Severity
	for _, q := range qtys {
		sev, _ := g.CheckLayer1(instrument.Note10Y, q, 0)
		assert.GreaterOrEqual(t, int(sev), int(prev))
		prev = sev
	}
}

func TestLayer2AllChecksEvaluated(t *testing.T) {
	g := newTestGate(t)
	snap := Layer2Snapshot{
		PortfolioDV01AfterDelta: 2_000_000,
		ConcentrationRatio:      0.9,
		CorrelationExposure:     0.95,
		VaR:                     6_000_000,
		StressLoss:              1_000_000,
	}
	sev, v := g.CheckLayer2(snap)
	assert.Equal(t, TradeRejected, sev)
	assert.True(t, v.Has(ViolationDV01Limit))
	assert.True(t, v.Has(ViolationConcentrationLimit))
	assert.True(t, v.Has(ViolationCorrelationLimit))
	assert.True(t, v.Has(ViolationVaRLimit))
	assert.False(t, v.Has(ViolationStressLossLimit))
}

func TestComprehensiveCheckEmitsViolationEvent(t *testing.T) {
	g := newTestGate(t)
	snap := Layer2Snapshot{StressLoss: 11_000_000}
	sev, _, evt := g.Check(instrument.Note10Y, 1_000_000, 0, &snap, 42)
	require.Equal(t, EmergencyHalt, sev)
	require.NotNil(t, evt)
	assert.Equal(t, int64(42), evt.TsNs)
}

func TestRecordFillIsAdditive(t *testing.T) {
	g := newTestGate(t)
	g.RecordFill(instrument.Note10Y, 5_000_000)
	g.RecordFill(instrument.Note10Y, -2_000_000)
	assert.Equal(t, 3_000_000.0, g.Position(instrument.Note10Y))
}

func TestCircuitBreakerRecoveryFlow(t *testing.T) {
	g := newTestGate(t)
	g.TripBreaker(instrument.Note10Y, 0)
	assert.True(t, g.IsHalted(instrument.Note10Y))

	g.AttemptRecovery(instrument.Note10Y, int64(5*time.Second))
	assert.True(t, g.IsHalted(instrument.Note10Y)) // too soon

	g.AttemptRecovery(instrument.Note10Y, int64(11*time.Second))
	assert.False(t, g.IsHalted(instrument.Note10Y)) // HalfOpen, not Open

	assert.True(t, g.TestOrder(instrument.Note10Y))
	assert.True(t, g.TestOrder(instrument.Note10Y))
	assert.True(t, g.TestOrder(instrument.Note10Y)) // third passes closes it

	assert.True(t, g.TestOrder(instrument.Note10Y)) // now Closed, passes trivially
}

func TestCorrelationCacheRoundTrip(t *testing.T) {
	g := newTestGate(t)
	_, ok := g.Correlation(instrument.Note5Y, instrument.Note10Y)
	assert.False(t, ok)

	g.SetCorrelation(instrument.Note5Y, instrument.Note10Y, 0.87)
	rho, ok := g.Correlation(instrument.Note10Y, instrument.Note5Y) // order-independent
	require.True(t, ok)
	assert.InDelta(t, 0.87, rho, 1e-9)
}
