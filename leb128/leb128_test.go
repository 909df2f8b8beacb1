package leb128

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripUint32(t *testing.T) {
	t.Parallel()

	for _, v := range []uint32{0, 1, 127, 128, 300, 1 << 20, 0xffffffff} {
		enc := EncodeUint32(v)
		got, err := ReadUint32(bytes.NewReader(enc))
		require.NoError(t, err)
		assert.Equal(t, v, got, "v=%d", v)
	}
}

func TestRoundTripInt32(t *testing.T) {
	t.Parallel()

	for _, v := range []int32{0, 1, -1, 63, -64, 64, -65, 1 << 20, -(1 << 20)} {
		enc := EncodeInt32(v)
		got, err := ReadInt32(bytes.NewReader(enc))
		require.NoError(t, err)
		assert.Equal(t, v, got, "v=%d", v)
	}
}

func TestRoundTripUint64(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0, 1, 1 << 40, 0xffffffffffffffff} {
		enc := EncodeUint64(v)
		got, err := ReadUint64(bytes.NewReader(enc))
		require.NoError(t, err)
		assert.Equal(t, v, got, "v=%d", v)
	}
}

func TestRoundTripInt64(t *testing.T) {
	t.Parallel()

	for _, v := range []int64{0, -1, 1 << 40, -(1 << 40)} {
		enc := EncodeInt64(v)
		got, err := ReadInt64(bytes.NewReader(enc))
		require.NoError(t, err)
		assert.Equal(t, v, got, "v=%d", v)
	}
}

func TestEncodeUint32Canonical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x00}, EncodeUint32(0))
	assert.Equal(t, []byte{0x7f}, EncodeUint32(127))
	assert.Equal(t, []byte{0x80, 0x01}, EncodeUint32(128))
}

func TestEncodeInt32Canonical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x00}, EncodeInt32(0))
	assert.Equal(t, []byte{0x7f}, EncodeInt32(-1))
	assert.Equal(t, []byte{0x3f}, EncodeInt32(63))
	assert.Equal(t, []byte{0x40}, EncodeInt32(-64))
}

func TestDecodeRejectsOverflow(t *testing.T) {
	t.Parallel()

	// Five continuation bytes then a sixth with low bits set: exceeds
	// the 5-byte limit for a 32-bit value.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, err := ReadUint32(bytes.NewReader(buf))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDecodeRejectsNonCanonicalUnsigned(t *testing.T) {
	t.Parallel()

	// 5-byte encoding of a 32-bit value where the final byte sets a bit
	// above bit 31.
	buf := []byte{0xff, 0xff, 0xff, 0xff, 0x1f}
	_, err := ReadUint32(bytes.NewReader(buf))
	assert.ErrorIs(t, err, ErrNonCanonical)
}

func TestDecodeTruncatedInput(t *testing.T) {
	t.Parallel()

	buf := []byte{0x80, 0x80}
	_, err := ReadUint32(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestReadVaruint7(t *testing.T) {
	t.Parallel()

	v, err := ReadVaruint7(bytes.NewReader([]byte{0x0b}))
	require.NoError(t, err)
	assert.Equal(t, byte(0x0b), v)
}
