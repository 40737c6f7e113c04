// Package instrument defines the six US Treasury instrument kinds and the
// per-kind constants (maturity, face value, DV01) referenced throughout the
// hot path. Grounded on the teacher's small constant-table convention, e.g.
// internal/risk/risk_manager.go's DefaultRiskConfig.
package instrument

import "fmt"

// Kind identifies one of the six treasury instrument kinds.
type Kind int32

const (
	Bill3M Kind = iota
	Bill6M
	Note2Y
	Note5Y
	Note10Y
	Bond30Y

	numKinds = int(Bond30Y) + 1
)

// ID maps the wire instrument_id (1..6) to a Kind, per spec §6.
func ID(wireID uint32) (Kind, error) {
	if wireID < 1 || wireID > uint32(numKinds) {
		return 0, fmt.Errorf("instrument: unknown wire id %d", wireID)
	}
	return Kind(wireID - 1), nil
}

// WireID returns the wire instrument_id for k.
func (k Kind) WireID() uint32 {
	return uint32(k) + 1
}

func (k Kind) String() string {
	switch k {
	case Bill3M:
		return "Bill3M"
	case Bill6M:
		return "Bill6M"
	case Note2Y:
		return "Note2Y"
	case Note5Y:
		return "Note5Y"
	case Note10Y:
		return "Note10Y"
	case Bond30Y:
		return "Bond30Y"
	default:
		return "Unknown"
	}
}

// Valid reports whether k is one of the six known kinds.
func (k Kind) Valid() bool {
	return k >= Bill3M && k <= Bond30Y
}

// constants holds the per-kind static data.
type constants struct {
	maturityDays int32
	faceValue    float64 // conventionally one million
	dv01         float64 // dollars per million face per basis point
	baseHalfSpreadTicks int32 // in 32nds, instrument-dependent (tighter short, wider long)
	baseSize     float64
}

var table = [numKinds]constants{
	Bill3M:  {maturityDays: 90, faceValue: 1_000_000, dv01: 25, baseHalfSpreadTicks: 1, baseSize: 25_000_000},
	Bill6M:  {maturityDays: 180, faceValue: 1_000_000, dv01: 50, baseHalfSpreadTicks: 1, baseSize: 20_000_000},
	Note2Y:  {maturityDays: 730, faceValue: 1_000_000, dv01: 190, baseHalfSpreadTicks: 1, baseSize: 15_000_000},
	Note5Y:  {maturityDays: 1826, faceValue: 1_000_000, dv01: 460, baseHalfSpreadTicks: 2, baseSize: 10_000_000},
	Note10Y: {maturityDays: 3653, faceValue: 1_000_000, dv01: 850, baseHalfSpreadTicks: 3, baseSize: 7_000_000},
	Bond30Y: {maturityDays: 10950, faceValue: 1_000_000, dv01: 1900, baseHalfSpreadTicks: 6, baseSize: 3_000_000},
}

// MaturityDays returns the conventional maturity in days.
func (k Kind) MaturityDays() int32 { return table[k].maturityDays }

// FaceValue returns the conventional per-contract face value.
func (k Kind) FaceValue() float64 { return table[k].faceValue }

// DV01 returns dollars per million face per basis point of yield.
func (k Kind) DV01() float64 { return table[k].dv01 }

// BaseHalfSpreadTicks returns the instrument's base half-spread in 32nds.
func (k Kind) BaseHalfSpreadTicks() int32 { return table[k].baseHalfSpreadTicks }

// BaseSize returns the strategy's base quoting size for this instrument.
func (k Kind) BaseSize() float64 { return table[k].baseSize }

// All returns every known instrument kind, in wire-id order.
func All() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}
