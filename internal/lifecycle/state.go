// Package lifecycle owns the order state machine, venue routing, and audit
// trail of spec §4.5. Grounded on internal/orders/order_lifecycle.go's
// OrderLifecycle (state map, isValidStatusTransition table, zap logging
// convention, emitStateChange) but rebuilt around spec §4.5's fixed-slot
// arena (order_id mod MAX_ORDERS with linear-probe collision resolution)
// instead of a map, and a wrap-around audit ring instead of buffered
// channels, since spec requires O(1)-addressable, bounded-memory state.
package lifecycle

// State is one node of the order state machine (spec §4.5).
type State uint8

const (
	Created State = iota
	Validated
	Routed
	PendingNew
	Acknowledged
	PartiallyFilled
	Filled
	Cancelled
	Rejected
	Expired
	ErrorState
	PendingCancel
	PendingReplace
	Replaced
	Suspended
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Validated:
		return "Validated"
	case Routed:
		return "Routed"
	case PendingNew:
		return "PendingNew"
	case Acknowledged:
		return "Acknowledged"
	case PartiallyFilled:
		return "PartiallyFilled"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	case Rejected:
		return "Rejected"
	case Expired:
		return "Expired"
	case ErrorState:
		return "Error"
	case PendingCancel:
		return "PendingCancel"
	case PendingReplace:
		return "PendingReplace"
	case Replaced:
		return "Replaced"
	case Suspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transition may leave s (spec §4.5,
// P5: "no order ever exits a terminal state").
func (s State) IsTerminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Expired, ErrorState, Replaced:
		return true
	default:
		return false
	}
}

// transitions is the fixed allowed-transition table, grounded on the
// teacher's isValidStatusTransition map-of-slices convention, generalized
// to spec §4.5's full state set.
var transitions = map[State][]State{
	Created:         {Validated, Rejected},
	Validated:       {Routed, Rejected},
	Routed:          {PendingNew, Rejected},
	PendingNew:      {Acknowledged, Rejected, Expired},
	Acknowledged:    {PartiallyFilled, Filled, PendingCancel, PendingReplace, Cancelled, Expired, Suspended},
	PartiallyFilled: {PartiallyFilled, Filled, PendingCancel, PendingReplace, Cancelled, Expired},
	PendingCancel:   {Cancelled, Acknowledged, PartiallyFilled},
	PendingReplace:  {Replaced, Acknowledged, PartiallyFilled},
	Suspended:       {Acknowledged, Cancelled},
}

// IsValidTransition reports whether from -> to is permitted. Any state may
// move to ErrorState (spec §4.5: "any disallowed transition is an ERROR
// transition"); that self-transition is handled by the caller, not listed
// here, since it is never itself a "requested" transition.
func IsValidTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
