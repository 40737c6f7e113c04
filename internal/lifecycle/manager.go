package lifecycle

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/treasurymm/internal/book"
	"github.com/abdoElHodaky/treasurymm/internal/errors"
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
)

// DefaultMaxOrders is spec §4.5's floor for the fixed order-slot table.
const DefaultMaxOrders = 64 * 1024

// Manager owns the order slot table, the state machine, venue routing, and
// the audit ring for one engine (spec §4.5). Grounded on the teacher's
// OrderLifecycle (mutex-guarded state map, zap logging on every
// transition), rebuilt around a fixed slot array addressed by
// order_id mod MAX_ORDERS with linear-probe collision resolution instead of
// a map, per spec §4.5 and §9's arena-with-indices design note.
type Manager struct {
	logger *zap.Logger
	router *Router
	audit  *AuditRing

	mu    sync.Mutex
	slots []Order

	nextOrderID     atomic.Uint64
	emergencyHalted atomic.Bool
}

// NewManager constructs a Manager with a fixed-capacity slot table.
func NewManager(maxOrders int, auditCapacity int, router *Router, logger *zap.Logger) *Manager {
	if maxOrders < 1 {
		maxOrders = DefaultMaxOrders
	}
	return &Manager{
		logger: logger,
		router: router,
		audit:  NewAuditRing(auditCapacity),
		slots:  make([]Order, maxOrders),
	}
}

// IssueOrderID returns the next monotonically increasing order id (spec
// §4.5: "Order IDs are monotonically issued").
func (m *Manager) IssueOrderID() uint64 {
	return m.nextOrderID.Add(1)
}

// allocate finds a free slot for orderID via mod + linear probing, or an
// existing slot already holding orderID (re-entrant Create is a bug but
// handled without corrupting the table). It probes past tombstoned slots
// rather than stopping at the first one, using the earliest tombstone or
// true-empty slot seen as the insertion point, so a duplicate orderID
// further down the chain is still found instead of masked by a released
// predecessor.
func (m *Manager) allocate(orderID uint64) (int, bool) {
	n := len(m.slots)
	base := int(orderID % uint64(n))
	insertAt := -1
	for i := 0; i < n; i++ {
		idx := (base + i) % n
		s := &m.slots[idx]
		if s.inUse && s.orderID == orderID {
			return idx, true
		}
		if !s.inUse {
			if insertAt == -1 {
				insertAt = idx
			}
			if !s.tombstone {
				return insertAt, true
			}
		}
	}
	if insertAt != -1 {
		return insertAt, true
	}
	return 0, false
}

// find locates the live slot for orderID via the same probe sequence
// allocate used. A released slot is left as a tombstone rather than a true
// empty, so the probe continues through it instead of terminating early and
// missing a later collider still live further down the chain; the chain
// only ends at a slot that was never occupied.
func (m *Manager) find(orderID uint64) (int, bool) {
	n := len(m.slots)
	base := int(orderID % uint64(n))
	for i := 0; i < n; i++ {
		idx := (base + i) % n
		s := &m.slots[idx]
		if !s.inUse && !s.tombstone {
			return 0, false
		}
		if s.inUse && s.orderID == orderID {
			return idx, true
		}
	}
	return 0, false
}

// release frees idx's slot for reuse while leaving a tombstone so find's
// probe sequence still passes through it for any collider allocated further
// along the same chain (spec §4.5/P5: released slots must not break lookup
// of other live orders that probed past them).
func (m *Manager) release(idx int) {
	m.slots[idx].inUse = false
	m.slots[idx].tombstone = true
}

// transition performs from->to if permitted, appending an audit entry
// either way. An impermissible request is itself recorded as a transition
// into ErrorState (spec §4.5: "any disallowed transition is an ERROR
// transition with an audit entry and returns failure to the caller").
func (m *Manager) transition(idx int, to State, reason string, p price.Price32nd, qty float64, nowNs int64) error {
	o := &m.slots[idx]
	from := o.state

	if !IsValidTransition(from, to) {
		o.state = ErrorState
		m.audit.Append(AuditEntry{OrderID: o.orderID, From: from, To: ErrorState, TsNs: nowNs, Reason: encodeReason(reason), Price: p, Qty: qty})
		m.release(idx)
		if m.logger != nil {
			m.logger.Warn("lifecycle: invalid transition",
				zap.Uint64("order_id", o.orderID), zap.String("from", from.String()), zap.String("to", to.String()))
		}
		return errors.New(errors.Validation, errors.CodeInvalidTransition, "lifecycle: invalid state transition")
	}

	o.state = to
	m.audit.Append(AuditEntry{OrderID: o.orderID, From: from, To: to, TsNs: nowNs, Reason: encodeReason(reason), Price: p, Qty: qty})
	if to.IsTerminal() {
		m.release(idx)
	}
	return nil
}

// Create allocates a slot and enters the Created state (spec §4.5).
func (m *Manager) Create(orderID uint64, inst instrument.Kind, side book.Side, p price.Price32nd, qty float64, nowNs int64) error {
	if m.emergencyHalted.Load() {
		return errors.New(errors.Risk, errors.CodeEmergencyHalt, "lifecycle: emergency halt active")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.allocate(orderID)
	if !ok {
		return errors.New(errors.Capacity, errors.CodeSlotTableFull, "lifecycle: order slot table full")
	}
	o := &m.slots[idx]
	o.reset()
	o.inUse = true
	o.orderID = orderID
	o.instrument = inst
	o.side = side
	o.price = p
	o.qty = qty
	o.remaining = qty
	o.state = Created

	m.audit.Append(AuditEntry{OrderID: orderID, From: Created, To: Created, TsNs: nowNs, Reason: encodeReason("created"), Price: p, Qty: qty})
	return nil
}

func (m *Manager) withSlot(orderID uint64, fn func(idx int) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.find(orderID)
	if !ok {
		return errors.New(errors.Validation, errors.CodeOrderNotFound, "lifecycle: order not found")
	}
	return fn(idx)
}

// Validate transitions Created -> Validated.
func (m *Manager) Validate(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Validated, "validated", o.price, o.qty, nowNs)
	})
}

// Route transitions Validated -> Routed and assigns a venue via the Router
// (spec §4.5).
func (m *Manager) Route(orderID uint64, nowNs int64) (VenueID, error) {
	var venue VenueID
	err := m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		if err := m.transition(idx, Routed, "routed", o.price, o.qty, nowNs); err != nil {
			return err
		}
		v, ok := m.router.Route()
		if !ok {
			return errors.New(errors.Venue, errors.CodeVenueReject, "lifecycle: no venue available")
		}
		o.venue = v
		o.hasVenue = true
		venue = v
		return nil
	})
	return venue, err
}

// MarkPendingNew transitions Routed -> PendingNew.
func (m *Manager) MarkPendingNew(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, PendingNew, "pending_new", o.price, o.qty, nowNs)
	})
}

// Acknowledge transitions PendingNew/PendingCancel/PendingReplace ->
// Acknowledged.
func (m *Manager) Acknowledge(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Acknowledged, "acknowledged", o.price, o.qty, nowNs)
	})
}

// ApplyFill applies one execution to an order (spec §4.5). Repeating the
// same executionID is a no-op (spec P7: idempotent fill).
func (m *Manager) ApplyFill(orderID uint64, executionID uint64, fillQty float64, fillPrice price.Price32nd, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		if o.sawExecution(executionID) {
			return nil
		}
		o.filled += fillQty
		if o.filled > o.qty {
			o.filled = o.qty
		}
		o.remaining = o.qty - o.filled

		to := PartiallyFilled
		if o.remaining <= 0 {
			to = Filled
		}
		if err := m.transition(idx, to, "fill", fillPrice, fillQty, nowNs); err != nil {
			return err
		}
		o.recordExecution(executionID)
		return nil
	})
}

// Cancel transitions an active order to Cancelled.
func (m *Manager) Cancel(orderID uint64, reason string, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Cancelled, reason, o.price, o.remaining, nowNs)
	})
}

// Reject transitions an order to Rejected.
func (m *Manager) Reject(orderID uint64, reason string, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Rejected, reason, o.price, o.qty, nowNs)
	})
}

// Expire transitions an order to Expired.
func (m *Manager) Expire(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Expired, "expired", o.price, o.remaining, nowNs)
	})
}

// RequestCancel transitions Acknowledged/PartiallyFilled -> PendingCancel.
func (m *Manager) RequestCancel(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, PendingCancel, "cancel_requested", o.price, o.remaining, nowNs)
	})
}

// RequestReplace transitions Acknowledged/PartiallyFilled -> PendingReplace.
func (m *Manager) RequestReplace(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, PendingReplace, "replace_requested", o.price, o.remaining, nowNs)
	})
}

// ConfirmReplace transitions PendingReplace -> Replaced, recording the new
// price/qty the replacement order would carry.
func (m *Manager) ConfirmReplace(orderID uint64, newPrice price.Price32nd, newQty float64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		return m.transition(idx, Replaced, "replaced", newPrice, newQty, nowNs)
	})
}

// Suspend transitions Acknowledged -> Suspended.
func (m *Manager) Suspend(orderID uint64, reason string, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Suspended, reason, o.price, o.remaining, nowNs)
	})
}

// Resume transitions Suspended -> Acknowledged.
func (m *Manager) Resume(orderID uint64, nowNs int64) error {
	return m.withSlot(orderID, func(idx int) error {
		o := &m.slots[idx]
		return m.transition(idx, Acknowledged, "resumed", o.price, o.remaining, nowNs)
	})
}

// EmergencyStop halts new submissions and cancels every active order (spec
// §4.5: "rejects all new orders" + "transitions all non-terminal active
// orders to Cancelled with reason 'Emergency stop'").
func (m *Manager) EmergencyStop(nowNs int64) {
	m.emergencyHalted.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		o := &m.slots[i]
		if o.inUse && !o.state.IsTerminal() {
			_ = m.transition(i, Cancelled, "Emergency stop", o.price, o.remaining, nowNs)
		}
	}
}

// ResumeFromEmergency clears the emergency-halt flag. Existing cancelled
// orders are not reinstated; new submissions are accepted again.
func (m *Manager) ResumeFromEmergency() {
	m.emergencyHalted.Store(false)
}

// IsEmergencyHalted reports the current halt flag.
func (m *Manager) IsEmergencyHalted() bool {
	return m.emergencyHalted.Load()
}

// Snapshot returns a read-only copy of orderID's current state.
func (m *Manager) Snapshot(orderID uint64) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.find(orderID)
	if !ok {
		return Snapshot{}, false
	}
	return m.slots[idx].snapshot(), true
}

// AuditTrail exposes the manager's audit ring for inspection/monitoring.
func (m *Manager) AuditTrail() *AuditRing {
	return m.audit
}
