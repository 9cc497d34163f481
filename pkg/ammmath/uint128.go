package ammmath

import "math/bits"

// Uint128 is an unsigned 128-bit accumulator. The oracle folds price×time
// products into one of these; individual products fit 128 bits by
// construction (uint64 × uint64).
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// AddProduct adds a*b to the accumulator. Overflow past 128 bits wraps; with
// uint64 prices and second-granularity timestamps that takes longer than the
// age of the universe, so the oracle treats the accumulator as exact.
func (u Uint128) AddProduct(a, b uint64) Uint128 {
	hi, lo := bits.Mul64(a, b)
	sumLo, carry := bits.Add64(u.Lo, lo, 0)
	sumHi, _ := bits.Add64(u.Hi, hi, carry)
	return Uint128{Hi: sumHi, Lo: sumLo}
}

// IsZero reports whether the accumulator is zero.
func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// MulDiv64 returns floor(u*m/den) if the result fits in uint64.
// Returns ErrOverflow when it does not, ErrDivideByZero for den == 0.
func (u Uint128) MulDiv64(m, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	// u*m is up to 192 bits: split into (carry, hi, lo).
	hi1, lo := bits.Mul64(u.Lo, m)
	carry, hi2 := bits.Mul64(u.Hi, m)
	hi, c := bits.Add64(hi1, hi2, 0)
	carry += c
	if carry != 0 {
		return 0, ErrOverflow
	}
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}
