// Package feed implements the ingress parser: checksum/sequence/dedup
// validation and fixed-offset decode of the 64-byte raw venue frame (spec
// §6) into normalized Tick/Trade records. The little-endian, fixed-offset
// decode convention is grounded on the pack's NimbleMarkets-dbn-go package
// (structs.go), which decodes DataBento's binary market-data records the
// same way; no teacher file parses a wire format directly since the teacher
// ingests market data over REST/WebSocket JSON instead.
package feed

import (
	"encoding/binary"
	"math"

	"github.com/abdoElHodaky/treasurymm/internal/instrument"
)

func bitsToFloat64(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// FrameSize is the fixed raw venue frame size in bytes (spec §6).
const FrameSize = 64

// MessageType identifies the frame's payload kind.
type MessageType uint32

const (
	MessageTick      MessageType = 1
	MessageTrade     MessageType = 2
	MessageHeartbeat MessageType = 3
)

// Tick is the normalized market data tick (spec §3).
type Tick struct {
	Instrument   instrument.Kind
	ExchangeTsNs int64
	BidPrice     float64
	AskPrice     float64
	BidSize      uint64
	AskSize      uint64
	BidYield     float64
	AskYield     float64
}

// Valid reports the spec §3 tick validity: bid_price>0, ask_price>0,
// bid_size>0, ask_size>0.
func (t Tick) Valid() bool {
	return t.BidPrice > 0 && t.AskPrice > 0 && t.BidSize > 0 && t.AskSize > 0
}

// Quotable additionally requires bid < ask, per spec §3 strategy quoting
// precondition.
func (t Tick) Quotable() bool {
	return t.Valid() && t.BidPrice < t.AskPrice
}

// Trade is the normalized trade record (spec §3).
type Trade struct {
	Instrument instrument.Kind
	TsNs       int64
	Price      float64
	Size       uint64
	Yield      float64
	TradeID    [16]byte
}

// frameHeader mirrors the first 24 bytes of the wire frame.
type frameHeader struct {
	SequenceNumber uint64
	TimestampNs    int64
	MessageType    MessageType
	InstrumentID   uint32
}

func parseHeader(b []byte) frameHeader {
	return frameHeader{
		SequenceNumber: binary.LittleEndian.Uint64(b[0:8]),
		TimestampNs:    int64(binary.LittleEndian.Uint64(b[8:16])),
		MessageType:    MessageType(binary.LittleEndian.Uint32(b[16:20])),
		InstrumentID:   binary.LittleEndian.Uint32(b[20:24]),
	}
}

// checksum computes the XOR over bytes [0,55] of the 64-byte frame.
func checksum(frame []byte) uint16 {
	var c uint16
	for i := 0; i < 56; i++ {
		c ^= uint16(frame[i])
	}
	return c
}

func wireChecksum(frame []byte) uint16 {
	return binary.LittleEndian.Uint16(frame[56:58])
}

func decodeTickPayload(h frameHeader, payload []byte) (Tick, error) {
	kind, err := instrument.ID(h.InstrumentID)
	if err != nil {
		return Tick{}, err
	}
	bidPrice := bitsToFloat64(binary.LittleEndian.Uint64(payload[0:8]))
	askPrice := bitsToFloat64(binary.LittleEndian.Uint64(payload[8:16]))
	bidSize := binary.LittleEndian.Uint64(payload[16:24])
	askSize := binary.LittleEndian.Uint64(payload[24:32])

	return Tick{
		Instrument:   kind,
		ExchangeTsNs: h.TimestampNs,
		BidPrice:     bidPrice,
		AskPrice:     askPrice,
		BidSize:      bidSize,
		AskSize:      askSize,
	}, nil
}

func decodeTradePayload(h frameHeader, payload []byte) (Trade, error) {
	kind, err := instrument.ID(h.InstrumentID)
	if err != nil {
		return Trade{}, err
	}
	price := bitsToFloat64(binary.LittleEndian.Uint64(payload[0:8]))
	size := binary.LittleEndian.Uint64(payload[8:16])

	var tradeID [16]byte
	copy(tradeID[:], payload[16:32])

	return Trade{
		Instrument: kind,
		TsNs:       h.TimestampNs,
		Price:      price,
		Size:       size,
		TradeID:    tradeID,
	}, nil
}
