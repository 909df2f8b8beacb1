package number

import (
	"math"

	"github.com/chewxy/math32"
)

// CanTruncate reports whether value (a float32 for from==F32, a float64
// for from==F64) lies within the representable range of the destination
// integer type to. Kept close to the teacher's range-check shape; the
// F32 branches now use math32's native float32 comparisons instead of
// widening to float64, so the boundary check happens at the same
// precision the value was produced at.
func CanTruncate(from Type, to Type, value interface{}) bool {
	switch from {
	case F32:
		v, ok := value.(float32)
		if !ok {
			panic("number: CanTruncate value must be float32 for from=F32")
		}
		return canTruncateF32(to, v)
	case F64:
		v, ok := value.(float64)
		if !ok {
			panic("number: CanTruncate value must be float64 for from=F64")
		}
		return canTruncateF64(to, v)
	default:
		panic("number: CanTruncate from must be F32 or F64")
	}
}

func canTruncateF32(to Type, v float32) bool {
	switch to {
	case I32:
		return math.MinInt32 <= v && v < math.MaxInt32+1
	case U32:
		return -1 < v && v < math.MaxUint32+1
	case I64:
		return math.MinInt64 <= v && v < math.MaxInt64+1
	case U64:
		return -1 < v && v < math.MaxUint64+1
	default:
		panic("number: CanTruncate to must be an integer type")
	}
}

func canTruncateF64(to Type, v float64) bool {
	switch to {
	case I32:
		return math.MinInt32-1 < v && v < math.MaxInt32+1
	case U32:
		return -1 < v && v < math.MaxUint32+1
	case I64:
		return math.MinInt64 <= v && v < math.MaxInt64+1
	case U64:
		return -1 < v && v < math.MaxUint64+1
	default:
		panic("number: CanTruncate to must be an integer type")
	}
}

// FloatTruncate truncates the float (IEEE-754 bits, binary32 for
// from==F32 / binary64 for from==F64) to the destination integer type,
// reporting a trap code when the source is NaN or out of the
// destination's representable range -- spec.md §4.7's
// "iNN.trunc_f.." trap rule.
func FloatTruncate(from Type, to Type, floatBits uint64) (uint64, TrapCode) {
	switch from {
	case F32:
		return floatTruncateF32(to, math32.Float32frombits(uint32(floatBits)))
	case F64:
		return floatTruncateF64(to, math.Float64frombits(floatBits))
	default:
		panic("number: FloatTruncate from must be F32 or F64")
	}
}

func floatTruncateF32(to Type, f float32) (uint64, TrapCode) {
	if math32.IsNaN(f) {
		return 0, NanTrap
	}
	if !canTruncateF32(to, f) {
		if math32.Signbit(f) {
			return Min(to), ConvertTrap
		}
		return Max(to), ConvertTrap
	}
	return truncateToBits(to, float64(f)), NoTrap
}

func floatTruncateF64(to Type, f float64) (uint64, TrapCode) {
	if math.IsNaN(f) {
		return 0, NanTrap
	}
	if !canTruncateF64(to, f) {
		if math.Signbit(f) {
			return Min(to), ConvertTrap
		}
		return Max(to), ConvertTrap
	}
	return truncateToBits(to, f), NoTrap
}

func truncateToBits(to Type, f float64) uint64 {
	switch to {
	case I32:
		return uint64(int32(f))
	case I64:
		return uint64(int64(f))
	case U32:
		return uint64(uint32(f))
	case U64:
		return uint64(f)
	default:
		panic("number: FloatTruncate to must be an integer type")
	}
}
