package lifecycle

import (
	"github.com/abdoElHodaky/treasurymm/internal/book"
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
)

const recentExecWindow = 8

// Order is one slot-resident order record (spec §4.5). Slots are addressed
// by order_id mod MAX_ORDERS with linear-probe collision resolution (spec
// §9's arena-with-indices pattern), not by a map, so lookup stays O(1) and
// allocation-free after construction.
type Order struct {
	inUse      bool
	tombstone  bool // slot was released but must stay in the probe chain; see Manager.release
	orderID    uint64
	instrument instrument.Kind
	side       book.Side
	price      price.Price32nd
	qty        float64
	filled     float64
	remaining  float64
	state      State
	venue      VenueID
	hasVenue   bool

	recentExecIDs [recentExecWindow]uint64
	recentValid   [recentExecWindow]bool
	recentNext    int
}

func (o *Order) reset() {
	*o = Order{}
}

func (o *Order) sawExecution(execID uint64) bool {
	for i, v := range o.recentValid {
		if v && o.recentExecIDs[i] == execID {
			return true
		}
	}
	return false
}

func (o *Order) recordExecution(execID uint64) {
	o.recentExecIDs[o.recentNext] = execID
	o.recentValid[o.recentNext] = true
	o.recentNext = (o.recentNext + 1) % recentExecWindow
}

// Snapshot is the read-only public view of an Order.
type Snapshot struct {
	OrderID    uint64
	Instrument instrument.Kind
	Side       book.Side
	Price      price.Price32nd
	Qty        float64
	Filled     float64
	Remaining  float64
	State      State
	Venue      VenueID
	HasVenue   bool
}

func (o *Order) snapshot() Snapshot {
	return Snapshot{
		OrderID: o.orderID, Instrument: o.instrument, Side: o.side,
		Price: o.price, Qty: o.qty, Filled: o.filled, Remaining: o.remaining,
		State: o.state, Venue: o.venue, HasVenue: o.hasVenue,
	}
}
