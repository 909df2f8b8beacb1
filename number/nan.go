package number

import (
	"math"

	"github.com/chewxy/math32"
)

// CanonicalNaN32 and CanonicalNaN64 are the bit patterns of the
// specification's canonical NaN for each width: sign 0, exponent all
// ones, mantissa top bit set and all other bits zero (GLOSSARY).
const (
	CanonicalNaN32 uint32 = 0x7FC00000
	CanonicalNaN64 uint64 = 0x7FF8000000000000
)

// IsArithmeticNaN32 reports whether bits encode a NaN whose mantissa top
// bit is set -- the GLOSSARY's "Arithmetic NaN" -- using math32's
// float32-native NaN test rather than widening through float64.
func IsArithmeticNaN32(bits uint32) bool {
	f := math32.Float32frombits(bits)
	return math32.IsNaN(f) && bits&0x00400000 != 0
}

// IsArithmeticNaN64 is IsArithmeticNaN32's binary64 counterpart.
func IsArithmeticNaN64(bits uint64) bool {
	f := math.Float64frombits(bits)
	return math.IsNaN(f) && bits&0x0008000000000000 != 0
}

// PropagateNaN32 implements the `min`/`max` NaN-propagation rule of
// spec.md §4.7: if either operand is a NaN, the result is a NaN with
// the canonical payload for an arithmetic-NaN test. The sign of the two
// operands' NaN-ness does not matter; only that at least one is NaN.
func PropagateNaN32(a, b uint32) (uint32, bool) {
	af, bf := math32.Float32frombits(a), math32.Float32frombits(b)
	if math32.IsNaN(af) || math32.IsNaN(bf) {
		return CanonicalNaN32, true
	}
	return 0, false
}

// PropagateNaN64 is PropagateNaN32's binary64 counterpart.
func PropagateNaN64(a, b uint64) (uint64, bool) {
	af, bf := math.Float64frombits(a), math.Float64frombits(b)
	if math.IsNaN(af) || math.IsNaN(bf) {
		return CanonicalNaN64, true
	}
	return 0, false
}
