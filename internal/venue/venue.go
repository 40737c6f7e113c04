// Package venue defines the pluggable execution-venue contract (spec §6)
// plus an in-memory simulator. Grounded on
// internal/exchange/connectors/exchange.go's ExchangeConnector interface
// (Initialize/PlaceOrder/CancelOrder/GetOrder), narrowed to the three
// operations spec §6 actually requires: submit, cancel, poll_responses.
package venue

import (
	"context"
	"time"

	"github.com/abdoElHodaky/treasurymm/internal/book"
	"github.com/abdoElHodaky/treasurymm/internal/instrument"
	"github.com/abdoElHodaky/treasurymm/internal/price"
)

// Request is one outbound order submission.
type Request struct {
	OrderID    uint64
	Instrument instrument.Kind
	Side       book.Side
	Price      price.Price32nd
	Qty        float64
}

// ResponseKind enumerates what a venue reported back for an order.
type ResponseKind uint8

const (
	RespAcknowledged ResponseKind = iota
	RespFilled
	RespPartiallyFilled
	RespRejected
	RespCancelled
)

// Response is one inbound execution report, polled by the Venue I/O thread
// (spec §5) and drained into internal/lifecycle.Manager.
type Response struct {
	OrderID     uint64
	Kind        ResponseKind
	ExecutionID uint64
	FillQty     float64
	FillPrice   price.Price32nd
	LatencyNs   int64
	Reason      string
}

// Venue is the minimal contract an execution destination must satisfy
// (spec §6: "submit, cancel, poll_responses").
type Venue interface {
	Initialize(ctx context.Context) error
	Submit(ctx context.Context, req Request) error
	Cancel(ctx context.Context, orderID uint64) error
	PollResponses() []Response
	Close() error
}
