// Command engine is the composition root: it wires config, the object
// pools/rings, per-instrument order books, the risk gate, the strategy
// coordinator, the lifecycle manager, and an in-memory venue simulator, then
// runs three pinned goroutines for spec §5's Ingress, Engine and Venue I/O
// threads; the Telemetry role is served by the fx-managed Prometheus
// exporter, not a pinned goroutine. Grounded on the teacher's cmd/server/main.go for flag
// parsing and graceful-shutdown-on-signal conventions, and on
// internal/metrics/metrics_module.go for the fx-based telemetry subtree.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/treasurymm/internal/book"
	"github.com/abdoElHodaky/treasurymm/internal/config"
	"github.com/abdoElHodaky/treasurymm/internal/feed"
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/lifecycle"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/ring"
	"github.com/abdoElHodaky/treasurymm/internal/risk"
	"github.com/abdoElHodaky/treasurymm/internal/strategy"
	"github.com/abdoElHodaky/treasurymm/internal/telemetry"
	"github.com/abdoElHodaky/treasurymm/internal/timing"
	"github.com/abdoElHodaky/treasurymm/internal/venue"
)

const (
	minRecoveryTime    = 30 * time.Second
	maxRecoveryTime    = 5 * time.Minute
	recoveryTestOrders = 5

	// nearCapRiskThreshold is the soft position-utilization cap that triggers
	// CancelQuotes ahead of a MarketMaker's own hard emergencyUtilization stop
	// (spec §4.7's "risk score is near its cap" CancelQuotes trigger).
	nearCapRiskThreshold = 0.90
)

var defaultVenueID = lifecycle.VenueID(1)

func main() {
	var (
		configPath = flag.String("config", "", "Directory containing config.yaml")
		runFor     = flag.Duration("run-for", 0, "Optional demo duration (0 = run until signaled)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: config load failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	gcCfg := cfg.GCConfig()
	if err := config.ValidateGCConfig(gcCfg); err != nil {
		logger.Warn("engine: invalid gc config, skipping HFT GC tuning", zap.Error(err))
	} else if err := config.OptimizeGCForHFT(gcCfg); err != nil {
		logger.Warn("engine: gc tuning failed", zap.Error(err))
	}

	clock := timing.NewClock()
	if err := clock.Calibrate(200 * time.Millisecond); err != nil {
		logger.Fatal("engine: clock calibration failed", zap.Error(err))
	}
	defer clock.Stop()

	eng, err := newEngine(cfg, logger, clock)
	if err != nil {
		logger.Fatal("engine: initialization failed", zap.Error(err))
	}
	defer eng.coordinator.Release()

	telemetryApp := fx.New(
		telemetry.Module,
		fx.Supply(logger, telemetry.ServerAddr(cfg.Telemetry.PrometheusAddr)),
		fx.Populate(&eng.collector, &eng.latency),
		fx.NopLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := telemetryApp.Start(ctx); err != nil {
		logger.Fatal("engine: telemetry startup failed", zap.Error(err))
	}
	defer telemetryApp.Stop(context.Background())

	var wg sync.WaitGroup
	wg.Add(3)
	go eng.runIngress(ctx, &wg)
	go eng.runEngine(ctx, &wg)
	go eng.runVenueIO(ctx, &wg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if *runFor > 0 {
		select {
		case <-time.After(*runFor):
		case <-quit:
		}
	} else {
		<-quit
	}

	logger.Info("engine: shutting down")
	cancel()
	wg.Wait()
}

// restingOrder identifies the instrument/side an in-flight order belongs to,
// so a venue response (which only carries an order id) can be routed back to
// its book and risk-gate bookkeeping.
type restingOrder struct {
	instrument instrument.Kind
	side       book.Side
}

// engine holds every long-lived component the three pinned worker threads
// share. All cross-thread communication goes through SPSC rings per spec
// §5; engine itself is only ever touched by the Engine thread after
// construction, except for the atomics inside risk.Gate and lifecycle.Manager.
type engine struct {
	logger *zap.Logger
	clock  *timing.Clock
	cfg    *config.Config

	instruments  []instrument.Kind
	books        map[instrument.Kind]*book.Book
	marketMakers map[instrument.Kind]*strategy.MarketMaker
	latestTick   map[instrument.Kind]feed.Tick

	resting map[instrument.Kind][2]uint64 // [Bid, Ask] -> order id, 0 if none
	meta    map[uint64]restingOrder

	gate         *risk.Gate
	coordinator  *strategy.Coordinator
	lifecycleMgr *lifecycle.Manager
	router       *lifecycle.Router
	sim          *venue.Simulator

	tickRing    *ring.SPSC[feed.Tick]
	tradeRing   *ring.SPSC[feed.Trade]
	feedHandler *feed.Handler

	venueReq  *ring.SPSC[venue.Request]
	venueResp *ring.SPSC[venue.Response]

	collector *telemetry.Collector
	latency   *telemetry.LatencyTracker

	rng *rand.Rand
}

func newEngine(cfg *config.Config, logger *zap.Logger, clock *timing.Clock) (*engine, error) {
	instruments := instrument.All()

	tickRing := ring.New[feed.Tick](4096)
	tradeRing := ring.New[feed.Trade](4096)

	e := &engine{
		logger:       logger,
		clock:        clock,
		cfg:          cfg,
		instruments:  instruments,
		books:        make(map[instrument.Kind]*book.Book, len(instruments)),
		marketMakers: make(map[instrument.Kind]*strategy.MarketMaker, len(instruments)),
		latestTick:   make(map[instrument.Kind]feed.Tick, len(instruments)),
		resting:      make(map[instrument.Kind][2]uint64, len(instruments)),
		meta:         make(map[uint64]restingOrder),
		tickRing:     tickRing,
		tradeRing:    tradeRing,
		venueReq:     ring.New[venue.Request](4096),
		venueResp:    ring.New[venue.Response](4096),
		rng:          rand.New(rand.NewSource(cfg.Venue.Seed)),
	}
	e.feedHandler = feed.NewHandler(logger, tickRing, tradeRing)

	coordinator, err := strategy.NewCoordinator(logger, runtime.NumCPU())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.coordinator = coordinator

	perInstrument := make(map[instrument.Kind]risk.Layer1Limits, len(instruments))
	for _, inst := range instruments {
		perInstrument[inst] = risk.Layer1Limits{
			MaxPosition:    cfg.Risk.MaxPositionPerInstrument,
			MaxDailyOrders: uint64(cfg.Risk.MaxDailyOrders),
			MaxOrderQty:    cfg.Risk.MaxOrderQty,
		}
	}
	e.gate = risk.NewGate(logger, perInstrument, risk.Layer2Limits{
		MaxPortfolioDV01:       cfg.Risk.PortfolioDV01Limit,
		MaxConcentration:       cfg.Risk.ConcentrationLimit,
		MaxCorrelationExposure: 1,
		MaxVaR:                 cfg.Risk.VaRLimit,
		MaxStressLoss:          cfg.Risk.StressLossLimit,
	}, minRecoveryTime, maxRecoveryTime, recoveryTestOrders)

	e.router = lifecycle.NewRouter()
	e.router.AddVenue(lifecycle.VenueInfo{
		ID: defaultVenueID, Enabled: true, Priority: 1,
		FillRateEMA: cfg.Venue.FillProbability, AvgLatencyNsEMA: float64(cfg.Venue.LatencyNs),
	})
	e.lifecycleMgr = lifecycle.NewManager(cfg.Engine.MaxOrders, cfg.Engine.AuditRingSize, e.router, logger)
	e.sim = venue.NewSimulator(venue.SimulatorConfig{
		ID: uint32(defaultVenueID), FillProbability: cfg.Venue.FillProbability,
		LatencyNs: cfg.Venue.LatencyNs, Seed: cfg.Venue.Seed,
	})
	if err := e.sim.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("engine: venue init: %w", err)
	}

	resourceShare := 1.0 / float64(len(instruments))
	for i, inst := range instruments {
		updates := ring.New[book.Update](1024)
		e.books[inst] = book.New(inst, logger, clock, cfg.Engine.OrderPoolSize, updates)

		mm := strategy.NewMarketMaker(inst, logger, strategy.Params{
			KVol:                 cfg.Strategy.VolCoefficient,
			KInv:                 cfg.Strategy.InventoryCoefficient,
			MaxSkewTicks:         float64(cfg.Strategy.MaxSkewTicks),
			EmergencyUtilization: 0.95,
			HistoryWindow:        cfg.Strategy.VolWindow,
			PanicThreshold:       cfg.Strategy.PanicVolThreshold,
		})
		_ = mm.Initialize(context.Background())
		_ = mm.Start(context.Background())
		e.marketMakers[inst] = mm
		e.coordinator.Register(mm, i, resourceShare)
	}

	return e, nil
}

// runIngress synthesizes raw 64-byte venue frames and decodes them through
// feed.Handler, exercising the real ingress parse path end to end (spec
// §4.8) even though this binary has no live multicast feed to attach to.
func (e *engine) runIngress(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var seq uint64
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := make([]byte, 0, feed.FrameSize*len(e.instruments))
			for _, inst := range e.instruments {
				seq++
				batch = append(batch, e.syntheticTickFrame(inst, seq)...)
			}
			start := time.Now()
			e.feedHandler.ProcessBatch(batch)
			if e.latency != nil {
				e.latency.Record("ingress", start)
			}
		}
	}
}

func (e *engine) syntheticTickFrame(inst instrument.Kind, seq uint64) []byte {
	frame := make([]byte, feed.FrameSize)
	binary.LittleEndian.PutUint64(frame[0:8], seq)
	binary.LittleEndian.PutUint64(frame[8:16], uint64(e.clock.CyclesToNs(e.clock.Cycles())))
	binary.LittleEndian.PutUint32(frame[16:20], uint32(feed.MessageTick))
	binary.LittleEndian.PutUint32(frame[20:24], inst.WireID())

	base := 100 + float64(inst)*5
	jitter := (e.rng.Float64() - 0.5) * 0.05
	bid := base + jitter
	ask := bid + float64(inst.BaseHalfSpreadTicks())/16.0

	binary.LittleEndian.PutUint64(frame[24:32], math.Float64bits(bid))
	binary.LittleEndian.PutUint64(frame[32:40], math.Float64bits(ask))
	binary.LittleEndian.PutUint64(frame[40:48], 1_000_000)
	binary.LittleEndian.PutUint64(frame[48:56], 1_000_000)

	var c uint16
	for i := 0; i < 56; i++ {
		c ^= uint16(frame[i])
	}
	binary.LittleEndian.PutUint16(frame[56:58], c)
	return frame
}

// runEngine is the sole owner of book/strategy/lifecycle state (spec §5).
func (e *engine) runEngine(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainTicks()
			e.drainVenueResponses()
			e.runStrategyCycle()
		}
	}
}

func (e *engine) drainTicks() {
	for {
		tick, ok := e.tickRing.TryPop()
		if !ok {
			return
		}
		e.latestTick[tick.Instrument] = tick
		if tick.Quotable() {
			mid := (tick.BidPrice + tick.AskPrice) / 2
			liquidity := clampLiquidity(tick.BidSize, tick.AskSize)
			e.marketMakers[tick.Instrument].UpdateMid(mid, liquidity)
		}
	}
}

func clampLiquidity(bidSize, askSize uint64) float64 {
	total := float64(bidSize + askSize)
	score := total / 5_000_000
	if score > 1 {
		score = 1
	}
	return score
}

func (e *engine) runStrategyCycle() {
	start := time.Now()
	defer func() {
		if e.latency != nil {
			e.latency.Record("decision", start)
		}
	}()

	nowNs := int64(e.clock.CyclesToNs(e.clock.Cycles()))

	decisions := e.coordinator.RunCycle(func(mm *strategy.MarketMaker) strategy.TradingDecision {
		inst := mm.Instrument
		tick, ok := e.latestTick[inst]
		if !ok || !tick.Quotable() {
			return strategy.TradingDecision{Instrument: inst, Action: strategy.NoAction, DecisionTsNs: nowNs}
		}
		bestBid := price.SnapNearest(tick.BidPrice)
		bestAsk := price.SnapNearest(tick.AskPrice)

		position := e.gate.Position(inst)
		inv := strategy.InventoryState{Position: position, PositionLimit: e.cfg.Risk.MaxPositionPerInstrument}

		sev, _ := e.gate.CheckLayer1(inst, 0, position)
		riskSnap := strategy.RiskSnapshot{
			Severity:         sev,
			NearCapRiskScore: inv.Utilization(),
			CapRiskScore:     nearCapRiskThreshold,
		}

		gateCheck := func(qty float64) bool {
			s, _ := e.gate.CheckLayer1(inst, qty, position)
			return s == risk.Approved
		}

		return mm.Decide(bestBid, bestAsk, 1.0, inv, riskSnap, gateCheck, nowNs)
	})

	for _, d := range decisions {
		if e.collector != nil {
			e.collector.DecisionLatencyNs.Observe(float64(time.Since(start).Nanoseconds()))
		}
		e.applyDecision(d, nowNs)
	}
}

func (e *engine) applyDecision(d strategy.TradingDecision, nowNs int64) {
	switch d.Action {
	case strategy.UpdateQuotes:
		e.requote(d, nowNs)
	case strategy.CancelQuotes:
		e.cancelResting(d.Instrument, nowNs)
	}
}

func (e *engine) requote(d strategy.TradingDecision, nowNs int64) {
	e.cancelResting(d.Instrument, nowNs)

	bidID := e.lifecycleMgr.IssueOrderID()
	askID := e.lifecycleMgr.IssueOrderID()

	e.placeOne(d.Instrument, bidID, book.Bid, d.BidPrice, d.BidSize, nowNs)
	e.placeOne(d.Instrument, askID, book.Ask, d.AskPrice, d.AskSize, nowNs)

	e.resting[d.Instrument] = [2]uint64{bidID, askID}
}

func (e *engine) placeOne(inst instrument.Kind, orderID uint64, side book.Side, p price.Price32nd, qty float64, nowNs int64) {
	if qty <= 0 {
		return
	}
	bk := e.books[inst]
	if _, err := bk.Add(orderID, side, p, qty); err != nil {
		return
	}
	if err := e.lifecycleMgr.Create(orderID, inst, side, p, qty, nowNs); err != nil {
		bk.Cancel(orderID)
		return
	}
	_ = e.lifecycleMgr.Validate(orderID, nowNs)
	if _, err := e.lifecycleMgr.Route(orderID, nowNs); err != nil {
		_ = e.lifecycleMgr.Reject(orderID, "no_venue", nowNs)
		bk.Cancel(orderID)
		return
	}
	_ = e.lifecycleMgr.MarkPendingNew(orderID, nowNs)

	e.meta[orderID] = restingOrder{instrument: inst, side: side}

	if e.collector != nil {
		e.collector.OrdersSubmitted.Inc()
	}
	e.venueReq.TryPush(venue.Request{OrderID: orderID, Instrument: inst, Side: side, Price: p, Qty: qty})
}

func (e *engine) cancelResting(inst instrument.Kind, nowNs int64) {
	ids := e.resting[inst]
	bk := e.books[inst]
	for _, id := range ids {
		if id == 0 {
			continue
		}
		bk.Cancel(id)
		_ = e.lifecycleMgr.Cancel(id, "requoted", nowNs)
		delete(e.meta, id)
		if e.collector != nil {
			e.collector.OrdersCancelled.Inc()
		}
	}
	e.resting[inst] = [2]uint64{}
}

func (e *engine) drainVenueResponses() {
	nowNs := int64(e.clock.CyclesToNs(e.clock.Cycles()))
	start := time.Now()
	for {
		resp, ok := e.venueResp.TryPop()
		if !ok {
			break
		}
		m, known := e.meta[resp.OrderID]

		switch resp.Kind {
		case venue.RespAcknowledged:
			_ = e.lifecycleMgr.Acknowledge(resp.OrderID, nowNs)
		case venue.RespFilled, venue.RespPartiallyFilled:
			_ = e.lifecycleMgr.ApplyFill(resp.OrderID, resp.ExecutionID, resp.FillQty, resp.FillPrice, nowNs)
			if known {
				signed := resp.FillQty
				if m.side == book.Ask {
					signed = -signed
				}
				e.gate.RecordFill(m.instrument, signed)

				bk := e.books[m.instrument]
				if snap, ok := e.lifecycleMgr.Snapshot(resp.OrderID); ok {
					bk.Modify(resp.OrderID, snap.Price, snap.Remaining)
				} else {
					bk.Cancel(resp.OrderID)
					delete(e.meta, resp.OrderID)
				}
			}
			if e.collector != nil && resp.Kind == venue.RespFilled {
				e.collector.OrdersFilled.Inc()
			}
		case venue.RespRejected:
			_ = e.lifecycleMgr.Reject(resp.OrderID, resp.Reason, nowNs)
			if known {
				e.books[m.instrument].Cancel(resp.OrderID)
				delete(e.meta, resp.OrderID)
			}
			if e.collector != nil {
				e.collector.OrdersRejected.Inc()
			}
		case venue.RespCancelled:
			_ = e.lifecycleMgr.Cancel(resp.OrderID, "venue_cancelled", nowNs)
			if known {
				delete(e.meta, resp.OrderID)
			}
		}
	}
	if e.latency != nil {
		e.latency.Record("venue_io", start)
	}
}

// runVenueIO submits queued requests to the simulator and drains its
// responses onto the venue-response ring (spec §5's Venue I/O thread).
func (e *engine) runVenueIO(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				req, ok := e.venueReq.TryPop()
				if !ok {
					break
				}
				_ = e.sim.Submit(ctx, req)
			}
			for _, resp := range e.sim.PollResponses() {
				e.venueResp.TryPush(resp)
			}
		}
	}
}
