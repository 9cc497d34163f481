// Package ammmath provides the overflow-checked integer primitives shared by
// the AMM, oracle and escrow packages. All amounts are uint64; intermediate
// products are carried in 128 bits so that a*b/den never silently wraps.
package ammmath

import (
	"errors"
	"math/bits"
)

var (
	// ErrDivideByZero is returned when the denominator of a division is zero.
	ErrDivideByZero = errors.New("ammmath: divide by zero")
	// ErrOverflow is returned when a result does not fit in uint64.
	ErrOverflow = errors.New("ammmath: arithmetic overflow")
)

// MulDiv returns floor(a*b/den) computed with a 128-bit intermediate.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	// Div64 panics when the quotient does not fit; hi >= den is exactly
	// that condition.
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// MulDivUp returns ceil(a*b/den) computed with a 128-bit intermediate.
func MulDivUp(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, r := bits.Div64(hi, lo, den)
	if r > 0 {
		if q == ^uint64(0) {
			return 0, ErrOverflow
		}
		q++
	}
	return q, nil
}

// Sqrt returns floor(sqrt(x)) using Newton's method on integers.
func Sqrt(x uint64) uint64 {
	if x < 2 {
		return x
	}
	// Initial guess: 2^(ceil(bitlen/2)), always >= sqrt(x).
	z := uint64(1) << ((bits.Len64(x-1) + 1) / 2)
	for {
		y := (z + x/z) / 2
		if y >= z {
			return z
		}
		z = y
	}
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return s, nil
}

// CheckedSub returns a-b or ErrOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	d, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return d, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// SaturatingMul returns a*b, clamped to MaxUint64 on overflow. Used for
// advisory values (the cached reserve product) where aborting would be wrong.
func SaturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}
