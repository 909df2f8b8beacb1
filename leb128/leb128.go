// Package leb128 implements the variable-length integer encoding used
// throughout the WebAssembly binary format: LEB128, signed and unsigned,
// with canonical (shortest-form) encoding enforcement on decode.
package leb128

import (
	"errors"
	"fmt"
)

// ErrOverflow is returned when a decoded value's encoded width exceeds the
// declared bit bound (ceil(bits/7) bytes).
var ErrOverflow = errors.New("leb128: encoded value overflows declared width")

// ErrNonCanonical is returned when the final byte of an encoding carries
// unused high bits that are non-zero, violating the spec's canonical
// encoding requirement.
var ErrNonCanonical = errors.New("leb128: non-canonical encoding (unused bits set)")

// ByteSource is the minimal reader LEB128 decoding needs: a single-byte
// pull. *util.ByteReader, *bytes.Reader and *bufio.Reader all satisfy it.
type ByteSource interface {
	ReadByte() (byte, error)
}

// maxBytes returns ceil(bits/7), the maximum number of LEB128 bytes that
// can encode a value of the given bit width.
func maxBytes(bits uint32) uint32 {
	return (bits + 6) / 7
}

// decode reads a LEB128-encoded integer of at most `bits` bits from r.
// When signed is true the result is sign-extended per the final byte's
// bit 6 (0x40), as the WebAssembly specification requires -- not the
// `(b&0x40)==1` check that always evaluates false.
func decode(r ByteSource, bits uint32, signed bool) (result int64, n uint32, err error) {
	var shift uint32
	limit := maxBytes(bits)

	for {
		b, rerr := r.ReadByte()
		if rerr != nil {
			return 0, n, rerr
		}
		n++
		if n > limit {
			return 0, n, fmt.Errorf("%w: exceeded %d bytes for %d-bit value", ErrOverflow, limit, bits)
		}

		low7 := int64(b & 0x7f)
		result |= low7 << shift
		shift += 7

		if b&0x80 == 0 {
			// Final byte: check canonical encoding -- any bits beyond the
			// declared width in this last byte must be all sign-extension
			// (for signed) or all zero (for unsigned).
			if err := checkFinalByte(b, shift, bits, signed); err != nil {
				return 0, n, err
			}
			if signed && shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
	}

	return result, n, nil
}

// checkFinalByte validates that the high, unused bits of the terminating
// byte are canonical: zero for unsigned values, sign-extension of the
// value's sign bit for signed values.
func checkFinalByte(b byte, shiftAfter, bits uint32, signed bool) error {
	if shiftAfter <= bits {
		return nil
	}
	usedBitsInByte := 7 - (shiftAfter - bits)
	if usedBitsInByte >= 7 {
		return nil
	}
	mask := byte(0x7f) &^ ((1 << usedBitsInByte) - 1)
	extra := b & mask
	if !signed {
		if extra != 0 {
			return fmt.Errorf("%w: unsigned high bits %#x", ErrNonCanonical, extra)
		}
		return nil
	}
	signBit := (b >> (usedBitsInByte - 1)) & 1
	var want byte
	if signBit != 0 {
		want = mask
	}
	if extra != want {
		return fmt.Errorf("%w: signed high bits %#x", ErrNonCanonical, extra)
	}
	return nil
}

// ReadUint32 decodes an unsigned 32-bit LEB128 value from r.
func ReadUint32(r ByteSource) (uint32, error) {
	v, _, err := decode(r, 32, false)
	return uint32(v), err
}

// ReadInt32 decodes a signed 32-bit LEB128 value from r.
func ReadInt32(r ByteSource) (int32, error) {
	v, _, err := decode(r, 32, true)
	return int32(v), err
}

// ReadUint64 decodes an unsigned 64-bit LEB128 value from r.
func ReadUint64(r ByteSource) (uint64, error) {
	v, _, err := decode(r, 64, false)
	return uint64(v), err
}

// ReadInt64 decodes a signed 64-bit LEB128 value from r.
func ReadInt64(r ByteSource) (int64, error) {
	v, _, err := decode(r, 64, true)
	return v, err
}

// ReadVaruint7 decodes a 7-bit unsigned value, used for section ids.
func ReadVaruint7(r ByteSource) (byte, error) {
	v, _, err := decode(r, 7, false)
	return byte(v), err
}

// ReadWithSize decodes a LEB128 value of the given bit width (signed when
// signed is true, unsigned otherwise) and also returns how many bytes
// were consumed.
func ReadWithSize(r ByteSource, bits uint32, signed bool) (int64, uint32, error) {
	return decode(r, bits, signed)
}

// EncodeUint32 returns the canonical (shortest) LEB128 encoding of v.
func EncodeUint32(v uint32) []byte {
	return encodeUnsigned(uint64(v))
}

// EncodeUint64 returns the canonical (shortest) LEB128 encoding of v.
func EncodeUint64(v uint64) []byte {
	return encodeUnsigned(v)
}

func encodeUnsigned(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

// EncodeInt32 returns the canonical (shortest) signed LEB128 encoding of v.
func EncodeInt32(v int32) []byte {
	return encodeSigned(int64(v))
}

// EncodeInt64 returns the canonical (shortest) signed LEB128 encoding of v.
func EncodeInt64(v int64) []byte {
	return encodeSigned(v)
}

func encodeSigned(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
