// Package book implements the per-instrument, cache-aware, price-level
// limit order book described in spec §4.4. Grounded structurally on
// internal/core/matching/order_book.go (separate bid/ask sides, an
// orders-by-id index, the GetBestBid/GetBestAsk/GetSpread/GetMidPrice/
// GetDepth/GetSnapshot/GetStats naming and the zap debug-logging
// convention on mutating operations) but the level-storage algorithm is
// redesigned: the teacher uses container/heap, whose Remove is O(L) — too
// slow for spec §4.4's "cancel < 200ns median, O(1) via the index"
// contract. Here each side keeps orders in a fixed pool addressed by
// handle, linked into a FIFO per price level (O(1) cancel/modify-down via
// direct unlink), with levels discovered through a sorted slice (O(log L)
// binary search, L bounded and small per spec).
package book

import (
	"github.com/abdoElHodaky/treasurymm/internal/pool"
	"github.com/abdoElHodaky/treasurymm/internal/price"
)

// Side identifies which side of the book an order rests on.
type Side int8

const (
	Bid Side = iota
	Ask
)

// UpdateKind enumerates the kinds of OrderBookUpdate events (spec §6).
type UpdateKind int8

const (
	UpdateAdd UpdateKind = iota
	UpdateCancel
	UpdateModify
	UpdateTrade
	UpdateReset
)

// Update is the externally observable side effect of a state-changing book
// operation (spec §4.4, §6).
type Update struct {
	Side     Side
	Kind     UpdateKind
	Price    price.Price32nd
	QtyDelta float64
	TsNs     int64
	Seq      uint64
}

// Level is the public, read-only view of a single price level (spec §3).
type Level struct {
	Price        price.Price32nd
	AggregateQty float64
	OrderCount   int
}

// AddResult is the typed outcome of Add.
type AddResult int8

const (
	AddOK AddResult = iota
	AddDuplicateOrderID
	AddInvalidParams
)

// CancelResult is the typed outcome of Cancel.
type CancelResult int8

const (
	CancelOK CancelResult = iota
	CancelNotFound
)

// Fill describes one resting order's consumption during Trade (spec §4.4).
type Fill struct {
	OrderID     uint64
	Side        Side
	Price       price.Price32nd
	FilledQty   float64
	RemainingQty float64
	FullyFilled bool
}

// order is a pooled, slot-resident book entry. Linked into its price
// level's FIFO via prev/next handles (arena-with-indices pattern, spec §9).
type order struct {
	orderID   uint64
	side      Side
	remaining float64
	levelIdx  int // index of the owning level within its side's sorted slice, -1 if detached
	prev      pool.Handle
	next      pool.Handle
	valid     bool
}

func (o *order) Reset() {
	o.orderID = 0
	o.side = Bid
	o.remaining = 0
	o.levelIdx = -1
	o.prev = noHandle
	o.next = noHandle
	o.valid = false
}

const noHandle = pool.Handle(^uint32(0))

// priceLevel is one resting price level on a side: a FIFO (head/tail
// handles into the shared order pool) plus the running aggregate quantity
// invariant (spec §3: aggregate_qty = sum of remaining(order) in the FIFO).
type priceLevel struct {
	price price.Price32nd
	head  pool.Handle
	tail  pool.Handle
	count int
	qty   float64
}
