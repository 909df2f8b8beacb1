package vm

import (
	"bytes"
	"encoding/binary"

	"github.com/tinywasm/tinywasm/leb128"
)

// Frame is a call frame: spec.md §4.7's "value stack, locals vector,
// and control stack of block labels" minus the value/control stacks
// themselves, which the VM keeps as single flat stacks shared across
// frames (basePointer/baseBlockIndex mark each frame's slice of them) --
// the same layout the teacher's draft VM used, generalized off a panic-
// based fetch loop onto one that returns a *Trap.
type Frame struct {
	instructions   []byte
	locals         []uint64
	ip             int
	basePointer    int // value-stack height when this frame was pushed
	baseBlockIndex int // block-stack height when this frame was pushed
}

// NewFrame initializes a call frame. ip starts at -1 so the first fetch
// (which pre-increments) reads instruction 0.
func NewFrame(instructions []byte, locals []uint64, basePointer, baseBlockIndex int) *Frame {
	return &Frame{
		instructions:   instructions,
		locals:         locals,
		ip:             -1,
		basePointer:    basePointer,
		baseBlockIndex: baseBlockIndex,
	}
}

func (f *Frame) hasEnded() bool {
	return f.ip >= len(f.instructions)-1
}

func (f *Frame) fetchOp() byte {
	f.ip++
	return f.instructions[f.ip]
}

// readLEB decodes a LEB128 immediate of at most maxbit bits (signed if
// hasSign) starting right after the current ip, advancing ip past it.
func (f *Frame) readLEB(maxbit uint32, hasSign bool) (int64, error) {
	r := bytes.NewReader(f.instructions[f.ip+1:])
	before := r.Len()
	v, _, err := leb128.ReadWithSize(r, maxbit, hasSign)
	if err != nil {
		return 0, err
	}
	f.ip += before - r.Len()
	return v, nil
}

func (f *Frame) readVaruint32() (uint32, error) {
	v, err := f.readLEB(32, false)
	return uint32(v), err
}

func (f *Frame) readVarint32() (int32, error) {
	v, err := f.readLEB(32, true)
	return int32(v), err
}

func (f *Frame) readVarint64() (int64, error) {
	return f.readLEB(64, true)
}

func (f *Frame) readByte() byte {
	f.ip++
	return f.instructions[f.ip]
}

func (f *Frame) readUint32Bits() uint32 {
	data := f.instructions[f.ip+1 : f.ip+5]
	f.ip += 4
	return binary.LittleEndian.Uint32(data)
}

func (f *Frame) readUint64Bits() uint64 {
	data := f.instructions[f.ip+1 : f.ip+9]
	f.ip += 8
	return binary.LittleEndian.Uint64(data)
}
