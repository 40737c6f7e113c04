// Package risk implements the two-layer risk gate of spec §4.6: a
// nanosecond-scale Layer 1 fast gate evaluated on every order, and an
// opt-in Layer 2 portfolio gate. Grounded structurally on
// internal/risk/limit_manager.go (CheckRiskLimits's per-check violation
// accumulation and logging convention) and internal/risk/circuit_breaker.go
// (the Closed/Open/HalfOpen state machine and its atomics-driven trigger
// path), but rewritten around lock-free atomic counters instead of
// sync.RWMutex + map, since both layers must be callable concurrently from
// the execution thread and the fill thread without blocking either.
package risk

import (
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
)

// Layer1Limits bounds one instrument's fast-path checks.
type Layer1Limits struct {
	MaxPosition    float64
	MaxDailyOrders uint64
	MaxOrderQty    float64
}

// Layer2Limits bounds the opt-in portfolio-wide checks.
type Layer2Limits struct {
	MaxPortfolioDV01      float64
	MaxConcentration      float64
	MaxCorrelationExposure float64
	MaxVaR                float64
	MaxStressLoss         float64
}

// Layer2Snapshot carries the portfolio-level figures a caller has already
// computed (DV01/VaR aggregation spans instruments, so it is not this
// package's job to recompute it inline on the hot path).
type Layer2Snapshot struct {
	PortfolioDV01AfterDelta float64
	ConcentrationRatio      float64
	CorrelationExposure     float64
	VaR                     float64
	StressLoss              float64
}

// breakerState is the three-state circuit breaker from the teacher's
// CircuitBreakerState, generalized per-instrument.
type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

type instrumentAccount struct {
	position        atomicF64
	dailyOrderCount atomic.Uint64
	limits          Layer1Limits

	breaker          atomic.Int32 // breakerState
	haltedAtUnixNs   atomic.Int64
	testOrdersPassed atomic.Uint64
	testOrdersNeeded int
}

// Gate evaluates risk for every instrument kind known to the engine.
type Gate struct {
	logger *zap.Logger

	accounts []*instrumentAccount // indexed by instrument.Kind
	l2       Layer2Limits

	correlationCache *cache.Cache // teacher's patrickmn/go-cache convention

	minRecoveryTime time.Duration
	maxRecoveryTime time.Duration
}

// NewGate constructs a Gate for every instrument in instrument.All(), each
// with its own Layer1Limits, sharing one Layer2Limits config.
func NewGate(logger *zap.Logger, perInstrument map[instrument.Kind]Layer1Limits, l2 Layer2Limits, minRecovery, maxRecovery time.Duration, recoveryTestOrders int) *Gate {
	kinds := instrument.All()
	g := &Gate{
		logger:           logger,
		accounts:         make([]*instrumentAccount, len(kinds)),
		l2:               l2,
		correlationCache: cache.New(5*time.Minute, 10*time.Minute),
		minRecoveryTime:  minRecovery,
		maxRecoveryTime:  maxRecovery,
	}
	for _, k := range kinds {
		lim := perInstrument[k]
		g.accounts[k] = &instrumentAccount{limits: lim, testOrdersNeeded: recoveryTestOrders}
	}
	return g
}

func (g *Gate) account(k instrument.Kind) *instrumentAccount {
	return g.accounts[k]
}

// CheckLayer1 is the fast gate (spec §4.6 target p50 ≤ 50ns): emergency
// halt, position-after-fill, daily order count, per-order quantity. It
// short-circuits on the first violation.
func (g *Gate) CheckLayer1(k instrument.Kind, orderQty float64, currentPosition float64) (Severity, Violation) {
	acc := g.account(k)

	if breakerState(acc.breaker.Load()) == breakerOpen {
		return EmergencyHalt, ViolationEmergencyHalt
	}

	newPosition := currentPosition + orderQty
	if abs64(newPosition) > acc.limits.MaxPosition {
		return TradeRejected, ViolationPositionLimit
	}

	if acc.limits.MaxDailyOrders > 0 && acc.dailyOrderCount.Load() >= acc.limits.MaxDailyOrders {
		return TradeRejected, ViolationOrderCountLimit
	}

	if acc.limits.MaxOrderQty > 0 && abs64(orderQty) > acc.limits.MaxOrderQty {
		return TradeRejected, ViolationOrderSizeLimit
	}

	return Approved, 0
}

// CheckLayer2 is the opt-in portfolio gate (spec §4.6 target p50 ≤ 400ns).
// Unlike Layer 1 it always evaluates every check so the bitmask returned is
// complete for monitoring purposes, even once a violation is found.
func (g *Gate) CheckLayer2(snap Layer2Snapshot) (Severity, Violation) {
	var v Violation
	sev := Approved

	if g.l2.MaxPortfolioDV01 > 0 && abs64(snap.PortfolioDV01AfterDelta) > g.l2.MaxPortfolioDV01 {
		v |= ViolationDV01Limit
		sev = maxSeverity(sev, TradeRejected)
	}
	if g.l2.MaxConcentration > 0 && snap.ConcentrationRatio > g.l2.MaxConcentration {
		v |= ViolationConcentrationLimit
		sev = maxSeverity(sev, TradeRejected)
	}
	if g.l2.MaxCorrelationExposure > 0 && snap.CorrelationExposure > g.l2.MaxCorrelationExposure {
		v |= ViolationCorrelationLimit
		sev = maxSeverity(sev, WarningIssued)
	}
	if g.l2.MaxVaR > 0 && snap.VaR > g.l2.MaxVaR {
		v |= ViolationVaRLimit
		sev = maxSeverity(sev, PositionReduce)
	}
	if g.l2.MaxStressLoss > 0 && snap.StressLoss > g.l2.MaxStressLoss {
		v |= ViolationStressLossLimit
		sev = maxSeverity(sev, EmergencyHalt)
	}

	return sev, v
}

// Check runs the comprehensive two-layer check (spec §4.6): Layer 1
// short-circuits, Layer 2 only runs if layer2 is non-nil (the caller's
// opt-in), and the result is the max severity plus the union bitmask. A
// ViolationEvent is returned (non-nil) whenever severity >= PositionReduce.
func (g *Gate) Check(k instrument.Kind, orderQty, currentPosition float64, layer2 *Layer2Snapshot, nowNs int64) (Severity, Violation, *ViolationEvent) {
	sev1, v1 := g.CheckLayer1(k, orderQty, currentPosition)
	if sev1 == EmergencyHalt {
		return sev1, v1, &ViolationEvent{Instrument: k.String(), Severity: sev1, Violations: v1, Message: "emergency halt active", TsNs: nowNs}
	}

	sev := sev1
	violations := v1
	if layer2 != nil {
		sev2, v2 := g.CheckLayer2(*layer2)
		sev = maxSeverity(sev, sev2)
		violations |= v2
	}

	g.account(k).dailyOrderCount.Add(1)

	var evt *ViolationEvent
	if sev >= PositionReduce {
		evt = &ViolationEvent{Instrument: k.String(), Severity: sev, Violations: violations, Message: sev.String(), TsNs: nowNs}
		if g.logger != nil {
			g.logger.Warn("risk violation", zap.String("instrument", k.String()), zap.String("severity", sev.String()))
		}
	}
	return sev, violations, evt
}

// RecordFill additively updates an instrument's tracked position. Safe to
// call concurrently with Check from the execution thread (spec §4.6: "State
// updates are additive atomics").
func (g *Gate) RecordFill(k instrument.Kind, signedQty float64) float64 {
	return g.account(k).position.Add(signedQty)
}

// Position returns the currently tracked position for k.
func (g *Gate) Position(k instrument.Kind) float64 {
	return g.account(k).position.Load()
}

// ResetDailyCounters zeroes the daily order counters, called once per
// trading-day rollover by the composition root.
func (g *Gate) ResetDailyCounters() {
	for _, acc := range g.accounts {
		acc.dailyOrderCount.Store(0)
	}
}

// TripBreaker transitions an instrument's circuit breaker to Open,
// activating the Layer-1 emergency halt for that instrument (spec §4.6,
// (ADDED) recovered from circuit_breaker.go's three-state machine).
func (g *Gate) TripBreaker(k instrument.Kind, nowNs int64) {
	acc := g.account(k)
	acc.breaker.Store(int32(breakerOpen))
	acc.haltedAtUnixNs.Store(nowNs)
	acc.testOrdersPassed.Store(0)
	if g.logger != nil {
		g.logger.Warn("circuit breaker tripped", zap.String("instrument", k.String()))
	}
}

// AttemptRecovery moves an Open breaker to HalfOpen once minRecoveryTime has
// elapsed. No-op if the breaker is not Open or the window hasn't passed.
func (g *Gate) AttemptRecovery(k instrument.Kind, nowNs int64) {
	acc := g.account(k)
	if breakerState(acc.breaker.Load()) != breakerOpen {
		return
	}
	if time.Duration(nowNs-acc.haltedAtUnixNs.Load()) < g.minRecoveryTime {
		return
	}
	acc.breaker.Store(int32(breakerHalfOpen))
	acc.testOrdersPassed.Store(0)
}

// TestOrder registers one successful order while HalfOpen; once
// testOrdersNeeded have passed, the breaker closes. Returns true if the
// order is allowed through (Closed, or HalfOpen under the test quota).
func (g *Gate) TestOrder(k instrument.Kind) bool {
	acc := g.account(k)
	switch breakerState(acc.breaker.Load()) {
	case breakerClosed:
		return true
	case breakerOpen:
		return false
	default: // HalfOpen
		n := acc.testOrdersPassed.Add(1)
		if int(n) >= acc.testOrdersNeeded {
			acc.breaker.Store(int32(breakerClosed))
		}
		return true
	}
}

// Recover forces an instrument's breaker back to Closed (manual override,
// mirrors the teacher's ManualResume).
func (g *Gate) Recover(k instrument.Kind) {
	acc := g.account(k)
	acc.breaker.Store(int32(breakerClosed))
	acc.testOrdersPassed.Store(0)
}

// IsHalted reports whether k's breaker is Open.
func (g *Gate) IsHalted(k instrument.Kind) bool {
	return breakerState(g.account(k).breaker.Load()) == breakerOpen
}

// SetCorrelation publishes a pairwise correlation into the off-hot-path
// cache; an entry expires after the cache's default expiration.
func (g *Gate) SetCorrelation(a, b instrument.Kind, rho float64) {
	g.correlationCache.Set(correlationKey(a, b), rho, cache.DefaultExpiration)
}

// Correlation reads a cached pairwise correlation, or ok=false if absent or
// expired.
func (g *Gate) Correlation(a, b instrument.Kind) (float64, bool) {
	v, found := g.correlationCache.Get(correlationKey(a, b))
	if !found {
		return 0, false
	}
	rho, ok := v.(float64)
	return rho, ok
}

func correlationKey(a, b instrument.Kind) string {
	if a > b {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
