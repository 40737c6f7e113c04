package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
)

// registeredStrategy pairs one MarketMaker with its coordinator metadata
// (spec §4.7: "a coordinator holds N strategy instances each with a
// (priority, enabled, resource_share)").
type registeredStrategy struct {
	index        int
	strategy     *MarketMaker
	priority     int
	enabled      bool
	resourceShare float64
}

// Coordinator runs the priority-ordered multi-strategy loop (spec §4.7).
// Grounded on internal/strategy/optimized_framework.go's
// ParallelStrategyManager (priority map, RWMutex-guarded registry,
// ants.Pool-backed parallel dispatch), narrowed to this repo's single
// canonical MarketMaker and used only for the batch/backfill recompute
// path — the per-tick Decide call is a direct loop, since ants's per-task
// dispatch overhead is unsuitable for the sub-2µs coordinator target spec
// §4.7 sets for the single-tick path.
type Coordinator struct {
	logger *zap.Logger

	mu         sync.RWMutex
	strategies []*registeredStrategy
	netPosition map[instrument.Kind]float64

	emergencyStopped bool

	pool *ants.Pool // used only by RecomputeAllConditions
}

// NewCoordinator constructs a Coordinator whose batch recompute path uses a
// worker pool capacity of maxWorkers.
func NewCoordinator(logger *zap.Logger, maxWorkers int) (*Coordinator, error) {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	pool, err := ants.NewPool(maxWorkers)
	if err != nil {
		return nil, fmt.Errorf("strategy: failed to create worker pool: %w", err)
	}
	return &Coordinator{
		logger:      logger,
		netPosition: make(map[instrument.Kind]float64),
		pool:        pool,
	}, nil
}

// Register adds a strategy at the given priority (lower runs first) and
// resource share in [0,1]. Ties break by registration index.
func (c *Coordinator) Register(s *MarketMaker, priority int, resourceShare float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies = append(c.strategies, &registeredStrategy{
		index:         len(c.strategies),
		strategy:      s,
		priority:      priority,
		enabled:       true,
		resourceShare: resourceShare,
	})
}

// SetEnabled toggles a registered strategy by instrument.
func (c *Coordinator) SetEnabled(inst instrument.Kind, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range c.strategies {
		if rs.strategy.Instrument == inst {
			rs.enabled = enabled
		}
	}
}

// EmergencyStop disables every registered strategy (spec §4.7).
func (c *Coordinator) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyStopped = true
	for _, rs := range c.strategies {
		rs.enabled = false
	}
}

// Resume clears the emergency-stop flag without re-enabling strategies
// individually; callers must SetEnabled each instrument back on.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emergencyStopped = false
}

// orderedEnabled returns enabled strategies sorted by (priority, index).
func (c *Coordinator) orderedEnabled() []*registeredStrategy {
	out := make([]*registeredStrategy, 0, len(c.strategies))
	for _, rs := range c.strategies {
		if rs.enabled {
			out = append(out, rs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].index < out[j].index
	})
	return out
}

// CycleFn is supplied by the composition root each coordinator tick: one
// closure that knows how to pull a strategy's current BBO/inventory/risk
// inputs (typically straight from its instrument's live order book and risk
// gate, without an intermediate allocation) and call its Decide.
type CycleFn func(mm *MarketMaker) TradingDecision

// RunCycle calls every enabled strategy in priority order, scales sizes by
// resource_share, and maintains the net-position view (spec §4.7). Emergency
// stop short-circuits to an empty result set.
func (c *Coordinator) RunCycle(decide CycleFn) []TradingDecision {
	c.mu.RLock()
	stopped := c.emergencyStopped
	ordered := c.orderedEnabled()
	c.mu.RUnlock()

	if stopped {
		return nil
	}

	decisions := make([]TradingDecision, 0, len(ordered))
	netDelta := make(map[instrument.Kind]float64, len(ordered))

	for _, rs := range ordered {
		d := decide(rs.strategy)
		if d.Action == UpdateQuotes {
			d.BidSize *= rs.resourceShare
			d.AskSize *= rs.resourceShare
		}
		decisions = append(decisions, d)
		netDelta[rs.strategy.Instrument] += d.BidSize - d.AskSize
	}

	c.mu.Lock()
	for k, v := range netDelta {
		c.netPosition[k] += v
	}
	c.mu.Unlock()

	return decisions
}

// NetPosition returns the coordinator's accumulated net-position view for
// an instrument across all strategies quoting it.
func (c *Coordinator) NetPosition(inst instrument.Kind) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.netPosition[inst]
}

// RecomputeAllConditions dispatches one UpdateMid call per registered
// strategy across the worker pool — used for batch backfill (e.g. after a
// venue reconnect), never on the single-tick decision path.
func (c *Coordinator) RecomputeAllConditions(mids map[instrument.Kind]float64, liquidity map[instrument.Kind]float64) error {
	c.mu.RLock()
	strategies := make([]*MarketMaker, 0, len(c.strategies))
	for _, rs := range c.strategies {
		strategies = append(strategies, rs.strategy)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range strategies {
		s := s
		mid, ok := mids[s.Instrument]
		if !ok {
			continue
		}
		liq := liquidity[s.Instrument]
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			s.UpdateMid(mid, liq)
		})
		if err != nil {
			wg.Done()
			if c.logger != nil {
				c.logger.Warn("strategy: worker pool submit failed", zap.Error(err))
			}
		}
	}
	wg.Wait()
	return nil
}

// Release tears down the coordinator's worker pool.
func (c *Coordinator) Release() {
	c.pool.Release()
}
