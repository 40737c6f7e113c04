package book

import (
	"sort"
	"sync/atomic"

	"github.com/abdoElHodaky/treasurymm/internal/errors"
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/pool"
	"github.com/abdoElHodaky/treasurymm/internal/price"
	"github.com/abdoElHodaky/treasurymm/internal/ring"
	"github.com/abdoElHodaky/treasurymm/internal/timing"
	"go.uber.org/zap"
)

// DefaultMaxOrders bounds the per-instrument order pool, mirroring the
// teacher's HFTEngineConfig.OrderPoolSize default of 10,000.
const DefaultMaxOrders = 10_000

// indexEntry locates a live order for O(1) cancel/modify (spec §4.4).
type indexEntry struct {
	handle pool.Handle
	side   Side
}

// Book is a single instrument's limit order book.
type Book struct {
	Instrument instrument.Kind
	logger     *zap.Logger
	clock      *timing.Clock

	orders *pool.Pool[order, *order]
	index  map[uint64]indexEntry

	bids []*priceLevel // sorted descending by price
	asks []*priceLevel // sorted ascending by price

	updates *ring.SPSC[Update]
	updatesDropped atomic.Uint64
	seq            atomic.Uint64

	lastTradePrice price.Price32nd
	hasLastTrade   bool
	totalTrades    uint64
	totalVolume    float64
}

// New constructs a Book for the given instrument. updates is an externally
// supplied ring that receives every state-changing operation's side effect
// (spec §4.4); if nil, updates are simply counted as dropped.
func New(inst instrument.Kind, logger *zap.Logger, clock *timing.Clock, maxOrders int, updates *ring.SPSC[Update]) *Book {
	if maxOrders <= 0 {
		maxOrders = DefaultMaxOrders
	}
	return &Book{
		Instrument: inst,
		logger:     logger,
		clock:      clock,
		orders:     pool.New[order, *order](maxOrders),
		index:      make(map[uint64]indexEntry, maxOrders),
		updates:    updates,
	}
}

func (b *Book) sideSlice(s Side) []*priceLevel {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

func (b *Book) setSideSlice(s Side, levels []*priceLevel) {
	if s == Bid {
		b.bids = levels
	} else {
		b.asks = levels
	}
}

// findLevel returns the index of the level at price p on side s via binary
// search (O(log L)), and whether it exists.
func (b *Book) findLevel(s Side, p price.Price32nd) (int, bool) {
	levels := b.sideSlice(s)
	target := p.ToDecimal()
	if s == Bid {
		// descending: first level with price <= target
		i := sort.Search(len(levels), func(i int) bool {
			return levels[i].price.ToDecimal() <= target
		})
		if i < len(levels) && levels[i].price.ToDecimal() == target {
			return i, true
		}
		return i, false
	}
	// ascending: first level with price >= target
	i := sort.Search(len(levels), func(i int) bool {
		return levels[i].price.ToDecimal() >= target
	})
	if i < len(levels) && levels[i].price.ToDecimal() == target {
		return i, true
	}
	return i, false
}

// insertLevel creates a new level at sorted position idx (O(L) shift, L
// bounded and small per spec §4.4's realistic-depth assumption).
func (b *Book) insertLevel(s Side, idx int, p price.Price32nd) *priceLevel {
	lvl := &priceLevel{price: p, head: noHandle, tail: noHandle}
	levels := b.sideSlice(s)
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = lvl
	b.setSideSlice(s, levels)
	b.reindexFrom(s, idx)
	return lvl
}

// removeLevel deletes an empty level at idx.
func (b *Book) removeLevel(s Side, idx int) {
	levels := b.sideSlice(s)
	levels = append(levels[:idx], levels[idx+1:]...)
	b.setSideSlice(s, levels)
	b.reindexFrom(s, idx)
}

// reindexFrom fixes up levelIdx on every order at and after idx, since
// insertion/removal shifts subsequent levels.
func (b *Book) reindexFrom(s Side, idx int) {
	levels := b.sideSlice(s)
	for i := idx; i < len(levels); i++ {
		for h := levels[i].head; h != noHandle; {
			o := b.orders.Get(h)
			o.levelIdx = i
			h = o.next
		}
	}
}

func (b *Book) nextSeq() uint64 {
	return b.seq.Add(1)
}

func (b *Book) emit(u Update) {
	if b.updates == nil || !b.updates.TryPush(u) {
		b.updatesDropped.Add(1)
	}
}

func (b *Book) now() int64 {
	if b.clock != nil {
		return int64(b.clock.Cycles())
	}
	return timing.NowNs()
}

// Add inserts order orderID at price p, quantity qty, on side s. Per spec
// §4.4: quantity>0, price positive, order_id unseen.
func (b *Book) Add(orderID uint64, s Side, p price.Price32nd, qty float64) (AddResult, error) {
	if qty <= 0 || p.ToDecimal() <= 0 {
		return AddInvalidParams, errors.New(errors.Validation, errors.CodeInvalidOrder, "book: quantity and price must be positive")
	}
	if _, exists := b.index[orderID]; exists {
		return AddDuplicateOrderID, errors.New(errors.Validation, errors.CodeDuplicateOrderID, "book: duplicate order id")
	}

	h, ok := b.orders.Acquire()
	if !ok {
		return AddInvalidParams, errors.New(errors.Capacity, errors.CodePoolExhausted, "book: order pool exhausted")
	}

	idx, found := b.findLevel(s, p)
	var lvl *priceLevel
	if found {
		lvl = b.sideSlice(s)[idx]
	} else {
		lvl = b.insertLevel(s, idx, p)
	}

	o := b.orders.Get(h)
	o.orderID = orderID
	o.side = s
	o.remaining = qty
	o.levelIdx = idx
	o.valid = true
	o.prev = lvl.tail
	o.next = noHandle

	if lvl.tail != noHandle {
		b.orders.Get(lvl.tail).next = h
	} else {
		lvl.head = h
	}
	lvl.tail = h
	lvl.count++
	lvl.qty += qty

	b.index[orderID] = indexEntry{handle: h, side: s}

	b.emit(Update{Side: s, Kind: UpdateAdd, Price: p, QtyDelta: qty, TsNs: b.now(), Seq: b.nextSeq()})

	if b.logger != nil {
		b.logger.Debug("order added to book",
			zap.Uint64("order_id", orderID),
			zap.String("instrument", b.Instrument.String()),
			zap.Float64("price", p.ToDecimal()),
			zap.Float64("qty", qty))
	}

	return AddOK, nil
}

// Cancel removes orderID from its level. O(1) via the index.
func (b *Book) Cancel(orderID uint64) (CancelResult, error) {
	entry, exists := b.index[orderID]
	if !exists {
		return CancelNotFound, errors.New(errors.Validation, errors.CodeOrderNotFound, "book: order not found")
	}

	o := b.orders.Get(entry.handle)
	lvl := b.sideSlice(entry.side)[o.levelIdx]

	b.unlink(lvl, entry.handle, o)
	lvl.qty -= o.remaining
	lvl.count--

	p := lvl.price
	qtyDelta := o.remaining

	delete(b.index, orderID)
	b.orders.Release(entry.handle)

	if lvl.count == 0 {
		b.removeLevel(entry.side, indexOfLevel(b.sideSlice(entry.side), lvl))
	}

	b.emit(Update{Side: entry.side, Kind: UpdateCancel, Price: p, QtyDelta: -qtyDelta, TsNs: b.now(), Seq: b.nextSeq()})

	if b.logger != nil {
		b.logger.Debug("order cancelled", zap.Uint64("order_id", orderID))
	}

	return CancelOK, nil
}

func indexOfLevel(levels []*priceLevel, target *priceLevel) int {
	for i, l := range levels {
		if l == target {
			return i
		}
	}
	return -1
}

// unlink removes h from lvl's FIFO without touching qty/count bookkeeping
// (its callers, Cancel and Trade, adjust those themselves; Modify's
// downward-qty in-place update keeps the node linked and never calls this).
func (b *Book) unlink(lvl *priceLevel, h pool.Handle, o *order) {
	if o.prev != noHandle {
		b.orders.Get(o.prev).next = o.next
	} else {
		lvl.head = o.next
	}
	if o.next != noHandle {
		b.orders.Get(o.next).prev = o.prev
	} else {
		lvl.tail = o.prev
	}
}

// Modify changes orderID's price and/or quantity (spec §4.4): a price
// change is equivalent to cancel+add (loses FIFO priority); a quantity-only
// decrease updates in place (keeps priority); a quantity-only increase
// updates in place but loses priority (moved to the back of the FIFO).
func (b *Book) Modify(orderID uint64, newPrice price.Price32nd, newQty float64) (AddResult, error) {
	entry, exists := b.index[orderID]
	if !exists {
		return AddInvalidParams, errors.New(errors.Validation, errors.CodeOrderNotFound, "book: order not found")
	}
	o := b.orders.Get(entry.handle)
	lvl := b.sideSlice(entry.side)[o.levelIdx]

	if !newPrice.Equal(lvl.price) {
		if _, err := b.Cancel(orderID); err != nil {
			return AddInvalidParams, err
		}
		return b.Add(orderID, entry.side, newPrice, newQty)
	}

	if newQty <= o.remaining {
		// Downward (or equal) size change: update in place, keep priority.
		delta := newQty - o.remaining
		lvl.qty += delta
		o.remaining = newQty
		b.emit(Update{Side: entry.side, Kind: UpdateModify, Price: newPrice, QtyDelta: delta, TsNs: b.now(), Seq: b.nextSeq()})
		return AddOK, nil
	}

	// Upward size change: loses priority, equivalent to cancel+add at the
	// same price but placed at the back of the FIFO.
	if _, err := b.Cancel(orderID); err != nil {
		return AddInvalidParams, err
	}
	return b.Add(orderID, entry.side, newPrice, newQty)
}

// Trade consumes resting orders on the side opposite aggressorSide in
// strict price-time priority until qty is exhausted or that side empties.
// Trades against an empty side are no-ops, not errors (spec §4.4).
func (b *Book) Trade(p price.Price32nd, qty float64, aggressorSide Side) ([]Fill, error) {
	if qty <= 0 {
		return nil, errors.New(errors.Validation, errors.CodeInvalidOrder, "book: trade quantity must be positive")
	}
	restingSide := Ask
	if aggressorSide == Ask {
		restingSide = Bid
	}

	var fills []Fill
	remaining := qty

	for remaining > 0 {
		levels := b.sideSlice(restingSide)
		if len(levels) == 0 {
			break
		}
		lvl := levels[0]
		if !priceCrosses(restingSide, lvl.price, p) {
			break
		}

		h := lvl.head
		for h != noHandle && remaining > 0 {
			o := b.orders.Get(h)
			next := o.next
			fillQty := min(remaining, o.remaining)
			o.remaining -= fillQty
			lvl.qty -= fillQty
			remaining -= fillQty

			fullyFilled := o.remaining <= 0
			fills = append(fills, Fill{
				OrderID:      o.orderID,
				Side:         restingSide,
				Price:        lvl.price,
				FilledQty:    fillQty,
				RemainingQty: o.remaining,
				FullyFilled:  fullyFilled,
			})

			if fullyFilled {
				b.unlink(lvl, h, o)
				lvl.count--
				delete(b.index, o.orderID)
				b.orders.Release(h)
			}
			h = next
		}

		if lvl.count == 0 {
			b.removeLevel(restingSide, 0)
		}
	}

	filled := qty - remaining
	if filled > 0 {
		b.totalTrades++
		b.totalVolume += filled
		b.lastTradePrice = p
		b.hasLastTrade = true
		b.emit(Update{Side: aggressorSide, Kind: UpdateTrade, Price: p, QtyDelta: filled, TsNs: b.now(), Seq: b.nextSeq()})
	}

	return fills, nil
}

func priceCrosses(restingSide Side, restingPrice, aggressorPrice price.Price32nd) bool {
	if restingSide == Ask {
		// resting ask crosses if its price <= aggressor's (buy) limit
		return restingPrice.ToDecimal() <= aggressorPrice.ToDecimal()
	}
	// resting bid crosses if its price >= aggressor's (sell) limit
	return restingPrice.ToDecimal() >= aggressorPrice.ToDecimal()
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// BestBid returns the top-of-book bid price and aggregate size, or ok=false
// if the bid side is empty.
func (b *Book) BestBid() (price.Price32nd, float64, bool) {
	if len(b.bids) == 0 {
		return price.Price32nd{}, 0, false
	}
	return b.bids[0].price, b.bids[0].qty, true
}

// BestAsk returns the top-of-book ask price and aggregate size, or ok=false
// if the ask side is empty.
func (b *Book) BestAsk() (price.Price32nd, float64, bool) {
	if len(b.asks) == 0 {
		return price.Price32nd{}, 0, false
	}
	return b.asks[0].price, b.asks[0].qty, true
}

// Depth returns up to n non-empty levels on side s, best-first.
func (b *Book) Depth(s Side, n int) []Level {
	if n < 1 {
		n = 1
	}
	levels := b.sideSlice(s)
	if n > len(levels) {
		n = len(levels)
	}
	out := make([]Level, n)
	for i := 0; i < n; i++ {
		out[i] = Level{Price: levels[i].price, AggregateQty: levels[i].qty, OrderCount: levels[i].count}
	}
	return out
}

// Mid returns the mid price rounded to the nearest 32nd, and ok=false if
// either side is empty.
func (b *Book) Mid() (price.Price32nd, bool) {
	bid, _, okBid := b.BestBid()
	ask, _, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return price.Price32nd{}, false
	}
	return price.SnapNearest((bid.ToDecimal() + ask.ToDecimal()) / 2), true
}

// Stats is a snapshot of book-wide counters for monitoring.
type Stats struct {
	BidLevels      int
	AskLevels      int
	TotalOrders    int
	TotalTrades    uint64
	TotalVolume    float64
	UpdatesDropped uint64
}

// Stats returns a best-effort snapshot of book statistics.
func (b *Book) Stats() Stats {
	return Stats{
		BidLevels:      len(b.bids),
		AskLevels:      len(b.asks),
		TotalOrders:    len(b.index),
		TotalTrades:    b.totalTrades,
		TotalVolume:    b.totalVolume,
		UpdatesDropped: b.updatesDropped.Load(),
	}
}

// ConservationCheck verifies spec P2: aggregate_qty across levels equals the
// sum of remaining quantities over the side's resting orders. Exposed for
// tests and property checks, not used on the hot path.
func (b *Book) ConservationCheck(s Side) (levelsSum, ordersSum float64) {
	for _, lvl := range b.sideSlice(s) {
		levelsSum += lvl.qty
		for h := lvl.head; h != noHandle; {
			o := b.orders.Get(h)
			ordersSum += o.remaining
			h = o.next
		}
	}
	return
}
