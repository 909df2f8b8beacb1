package number

import (
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestFloatTruncateInRange(t *testing.T) {
	t.Parallel()

	bits, trap := FloatTruncate(F64, I32, math.Float64bits(3.9))
	assert.Equal(t, NoTrap, trap)
	assert.Equal(t, int32(3), int32(bits))
}

func TestFloatTruncateNaNTraps(t *testing.T) {
	t.Parallel()

	_, trap := FloatTruncate(F64, I32, math.Float64bits(math.NaN()))
	assert.Equal(t, NanTrap, trap)
}

func TestFloatTruncateOutOfRangeTraps(t *testing.T) {
	t.Parallel()

	_, trap := FloatTruncate(F64, I32, math.Float64bits(1e20))
	assert.Equal(t, ConvertTrap, trap)

	bits, trap := FloatTruncate(F64, I32, math.Float64bits(-1e20))
	assert.Equal(t, ConvertTrap, trap)
	assert.Equal(t, Min(I32), bits)
}

func TestFloatTruncateF32UsesNativePrecision(t *testing.T) {
	t.Parallel()

	bits, trap := FloatTruncate(F32, U32, uint64(math32.Float32bits(42.7)))
	assert.Equal(t, NoTrap, trap)
	assert.Equal(t, uint32(42), uint32(bits))
}

func TestMinMax(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(math.MaxInt32), Max(I32))
	assert.Equal(t, uint64(0), Min(U32))
	assert.Equal(t, uint64(math.MaxUint64), Max(U64))
}

func TestIsArithmeticNaN32(t *testing.T) {
	t.Parallel()

	assert.True(t, IsArithmeticNaN32(CanonicalNaN32))
	assert.False(t, IsArithmeticNaN32(math32.Float32bits(1.0)))
}

func TestPropagateNaN64(t *testing.T) {
	t.Parallel()

	_, ok := PropagateNaN64(math.Float64bits(1.0), math.Float64bits(2.0))
	assert.False(t, ok)

	bits, ok := PropagateNaN64(math.Float64bits(math.NaN()), math.Float64bits(2.0))
	assert.True(t, ok)
	assert.Equal(t, CanonicalNaN64, bits)
}

func TestCanTruncateBoundaries(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTruncate(F64, I32, float64(math.MaxInt32)))
	assert.False(t, CanTruncate(F64, I32, float64(math.MaxInt32)+2))
}
