// Package price implements the 32nd fractional price representation used for
// US Treasury quoting: a whole-number part, a count of thirty-seconds, and an
// optional half-32nd (a 64th) bit.
package price

import (
	"fmt"
	"math"
)

// Price32nd is a treasury price in 32nd-fraction convention, e.g. "100-16+"
// (100 and 16.5 thirty-seconds) rendered as whole=100, thirtySeconds=16, half=1.
type Price32nd struct {
	Whole         int64
	ThirtySeconds int32
	Half          int32
}

// New constructs a Price32nd, validating the fractional components.
func New(whole int64, thirtySeconds int32, half int32) (Price32nd, error) {
	p := Price32nd{Whole: whole, ThirtySeconds: thirtySeconds, Half: half}
	if err := p.Validate(); err != nil {
		return Price32nd{}, err
	}
	return p, nil
}

// Validate checks the invariants: 0 <= thirtySeconds < 32, half in {0,1}.
func (p Price32nd) Validate() error {
	if p.ThirtySeconds < 0 || p.ThirtySeconds >= 32 {
		return fmt.Errorf("price32nd: thirty_seconds out of range: %d", p.ThirtySeconds)
	}
	if p.Half != 0 && p.Half != 1 {
		return fmt.Errorf("price32nd: half must be 0 or 1, got %d", p.Half)
	}
	return nil
}

// ToDecimal returns whole + thirtySeconds/32 + half/64.
func (p Price32nd) ToDecimal() float64 {
	sign := 1.0
	w := p.Whole
	if w < 0 {
		sign = -1.0
		w = -w
	}
	frac := float64(p.ThirtySeconds)/32.0 + float64(p.Half)/64.0
	return sign * (float64(w) + frac)
}

// FromDecimal rounds a decimal price to the nearest legal half-32nd.
func FromDecimal(d float64) Price32nd {
	sign := int64(1)
	if d < 0 {
		sign = -1
		d = -d
	}
	whole := int64(math.Floor(d))
	frac := d - float64(whole)

	// frac is in [0,1); express in 64ths and round to nearest.
	sixtyFourths := int64(math.Round(frac * 64))
	if sixtyFourths >= 64 {
		whole++
		sixtyFourths -= 64
	}
	thirtySeconds := int32(sixtyFourths / 2)
	half := int32(sixtyFourths % 2)

	return Price32nd{Whole: sign * whole, ThirtySeconds: thirtySeconds, Half: half}
}

// SnapNearest rounds a decimal price to the nearest legal 32nd (no half bit),
// used when a component requires whole-32nd granularity (e.g. quote snapping).
func SnapNearest(d float64) Price32nd {
	p := FromDecimal(d)
	if p.Half == 1 {
		// Round to nearest whole 32nd: bump up since half >= 0.5 of a 32nd.
		p.ThirtySeconds++
		p.Half = 0
		if p.ThirtySeconds >= 32 {
			p.ThirtySeconds = 0
			if p.Whole >= 0 {
				p.Whole++
			} else {
				p.Whole--
			}
		}
	}
	return p
}

// String renders the conventional "W-TT[+]" notation.
func (p Price32nd) String() string {
	if p.Half == 1 {
		return fmt.Sprintf("%d-%02d+", p.Whole, p.ThirtySeconds)
	}
	return fmt.Sprintf("%d-%02d", p.Whole, p.ThirtySeconds)
}

// Less reports whether p is strictly less than other, compared by decimal value.
func (p Price32nd) Less(other Price32nd) bool {
	return p.ToDecimal() < other.ToDecimal()
}

// Equal reports field-wise equality (the canonical representation of a given
// decimal value is unique given Validate, so this is also value equality).
func (p Price32nd) Equal(other Price32nd) bool {
	return p.Whole == other.Whole && p.ThirtySeconds == other.ThirtySeconds && p.Half == other.Half
}
