package venue

import (
	"context"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// SimulatorConfig controls the in-memory simulator's fill behavior. Not
// specified beyond the Venue interface (spec §1); exists so
// internal/lifecycle and cmd/engine are exercisable end-to-end.
type SimulatorConfig struct {
	ID              uint32
	FillProbability float64 // 0..1, checked once per Submit
	LatencyNs       int64   // fixed ack/fill latency reported in responses
	Seed            int64
}

// Simulator is a deterministic (given a seed), in-memory Venue used for
// local testing and as cmd/engine's default venue when no real connector is
// configured.
type Simulator struct {
	cfg SimulatorConfig
	rng *rand.Rand

	mu       sync.Mutex
	pending  map[uint64]Request
	outbox   []Response
	execSeq  uint64
}

// NewSimulator constructs a Simulator with the given config.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		pending: make(map[uint64]Request),
	}
}

// Initialize is a no-op for the in-memory simulator.
func (s *Simulator) Initialize(ctx context.Context) error {
	return nil
}

// Submit records the order and immediately synthesizes a response:
// acknowledged, then filled or rejected per FillProbability. Real venues
// would report asynchronously; the simulator collapses that into one
// PollResponses drain to keep cmd/engine's Venue I/O thread exercised
// without a live network dependency.
func (s *Simulator) Submit(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[req.OrderID] = req
	s.outbox = append(s.outbox, Response{OrderID: req.OrderID, Kind: RespAcknowledged, LatencyNs: s.cfg.LatencyNs})

	if s.rng.Float64() > s.cfg.FillProbability {
		s.outbox = append(s.outbox, Response{OrderID: req.OrderID, Kind: RespRejected, Reason: "sim_no_fill", LatencyNs: s.cfg.LatencyNs})
		delete(s.pending, req.OrderID)
		return nil
	}

	s.execSeq++
	s.outbox = append(s.outbox, Response{
		OrderID:     req.OrderID,
		Kind:        RespFilled,
		ExecutionID: s.execSeq,
		FillQty:     req.Qty,
		FillPrice:   req.Price,
		LatencyNs:   s.cfg.LatencyNs,
	})
	delete(s.pending, req.OrderID)
	return nil
}

// Cancel acknowledges cancellation of any still-pending order.
func (s *Simulator) Cancel(ctx context.Context, orderID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[orderID]; !ok {
		return nil
	}
	delete(s.pending, orderID)
	s.outbox = append(s.outbox, Response{OrderID: orderID, Kind: RespCancelled, LatencyNs: s.cfg.LatencyNs})
	return nil
}

// PollResponses drains and returns all responses synthesized since the last
// call.
func (s *Simulator) PollResponses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outbox) == 0 {
		return nil
	}
	out := s.outbox
	s.outbox = nil
	return out
}

// Close is a no-op for the in-memory simulator.
func (s *Simulator) Close() error {
	return nil
}

// NewTradeID mints a random trade identifier for use outside the execution
// id sequence above (e.g. venue-reported client trade references).
func NewTradeID() string {
	return uuid.NewString()
}
