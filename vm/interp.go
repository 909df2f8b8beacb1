package vm

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/chewxy/math32"
	"github.com/tinywasm/tinywasm/number"
	"github.com/tinywasm/tinywasm/opcode"
	"github.com/tinywasm/tinywasm/wasm"
)

// run is the fetch-decode-execute loop: it steps frame one instruction
// at a time until either the frame's own implicit closing end is
// reached (normal return) or a trap fires. Control transfers (br,
// br_if, br_table, return, call, call_indirect, if/else) are delegated
// to doBranch and the call helpers below; everything else is decoded
// inline.
func (vm *Instance) run(frame *Frame) *Trap {
	for !frame.hasEnded() {
		if vm.Gas != nil {
			op := opcode.Opcode(frame.instructions[frame.ip+1])
			cost := vm.Policy.GasPolicy.GetCostForOp(op)
			if vm.Gas.Used+cost > vm.Gas.Limit {
				return newTrap(TrapUnreachable, ErrOutOfGas.Error())
			}
			vm.Gas.Used += cost
		}

		op := opcode.Opcode(frame.fetchOp())
		switch op {

		case opcode.Unreachable:
			return newTrap(TrapUnreachable, "")

		case opcode.Nop:
			// no-op

		case opcode.Block:
			frame.readByte()
			vm.blocks = append(vm.blocks, NewBlock(0, blockPlain, blockHasResult(frame), 0, len(vm.stack)))

		case opcode.Loop:
			frame.readByte()
			// labelPointer is the instruction right after the block-type
			// byte: doBranch resumes at labelPointer-1 so the next fetch
			// lands here, re-entering the loop body from its start.
			vm.blocks = append(vm.blocks, NewBlock(frame.ip+1, blockLoop, blockHasResult(frame), 0, len(vm.stack)))

		case opcode.If:
			frame.readByte()
			cond := vm.pop()
			blk := NewBlock(0, blockIf, blockHasResult(frame), 0, len(vm.stack))
			vm.blocks = append(vm.blocks, blk)
			if cond == 0 {
				hitElse, err := skipThenBranch(frame)
				if err != nil {
					return newTrap(TrapUnreachable, err.Error())
				}
				if !hitElse {
					vm.blocks = vm.blocks[:len(vm.blocks)-1]
				}
			}

		case opcode.Else:
			// Reached by falling through a true if-arm: skip the else-arm
			// entirely and pop the if-block, same as its matching end would.
			if err := skipNEnds(frame, 1); err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.blocks = vm.blocks[:len(vm.blocks)-1]

		case opcode.End:
			vm.blocks = vm.blocks[:len(vm.blocks)-1]

		case opcode.Br:
			n, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			if trap := vm.doBranch(frame, int(n)); trap != nil {
				return trap
			}

		case opcode.BrIf:
			n, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			if vm.pop() != 0 {
				if trap := vm.doBranch(frame, int(n)); trap != nil {
					return trap
				}
			}

		case opcode.BrTable:
			count, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			targets := make([]uint32, count)
			for i := range targets {
				targets[i], err = frame.readVaruint32()
				if err != nil {
					return newTrap(TrapUnreachable, err.Error())
				}
			}
			def, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			idx := uint32(vm.pop())
			target := def
			if idx < uint32(len(targets)) {
				target = targets[idx]
			}
			if trap := vm.doBranch(frame, int(target)); trap != nil {
				return trap
			}

		case opcode.Return:
			n := len(vm.blocks) - 1 - frame.baseBlockIndex
			if trap := vm.doBranch(frame, n); trap != nil {
				return trap
			}

		case opcode.Call:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			if trap := vm.invoke(int(idx)); trap != nil {
				return trap
			}

		case opcode.CallIndirect:
			typeIdx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			frame.readByte() // reserved
			tableIdx := uint32(vm.pop())
			if len(vm.Tables) == 0 {
				return newTrap(TrapUndefinedElement, "no table")
			}
			table := vm.Tables[0]
			if tableIdx >= uint32(len(table.elems)) {
				return newTrap(TrapUndefinedElement, "")
			}
			elem := table.elems[tableIdx]
			if elem == nil {
				return newTrap(TrapUninitializedElement, "")
			}
			if elem.TypeIndex != typeIdx {
				return newTrap(TrapIndirectCallMismatch, "")
			}
			ft := vm.Module.Types[typeIdx]
			args := make([]uint64, len(ft.Params))
			copy(args, vm.stack[len(vm.stack)-len(ft.Params):])
			vm.stack = vm.stack[:len(vm.stack)-len(ft.Params)]
			results, trap := elem.Fn(args)
			if trap != nil {
				return trap
			}
			vm.stack = append(vm.stack, results...)

		case opcode.Drop:
			vm.pop()

		case opcode.Select:
			cond := vm.pop()
			b := vm.pop()
			a := vm.pop()
			if cond != 0 {
				vm.push(a)
			} else {
				vm.push(b)
			}

		case opcode.LocalGet:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.push(frame.locals[idx])

		case opcode.LocalSet:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			frame.locals[idx] = vm.pop()

		case opcode.LocalTee:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			frame.locals[idx] = vm.peek()

		case opcode.GlobalGet:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.push(vm.Globals[idx].Value)

		case opcode.GlobalSet:
			idx, err := frame.readVaruint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.Globals[idx].Value = vm.pop()

		case opcode.I32Load, opcode.I64Load, opcode.F32Load, opcode.F64Load,
			opcode.I32Load8S, opcode.I32Load8U, opcode.I32Load16S, opcode.I32Load16U,
			opcode.I64Load8S, opcode.I64Load8U, opcode.I64Load16S, opcode.I64Load16U,
			opcode.I64Load32S, opcode.I64Load32U:
			v, trap := vm.execLoad(frame, op)
			if trap != nil {
				return trap
			}
			vm.push(v)

		case opcode.I32Store, opcode.I64Store, opcode.F32Store, opcode.F64Store,
			opcode.I32Store8, opcode.I32Store16, opcode.I64Store8, opcode.I64Store16, opcode.I64Store32:
			if trap := vm.execStore(frame, op); trap != nil {
				return trap
			}

		case opcode.MemorySize:
			vm.push(uint64(vm.Mems[0].Pages()))

		case opcode.MemoryGrow:
			n := uint32(vm.pop())
			vm.push(uint64(uint32(vm.Mems[0].Grow(n, vm.Policy.MaxMemoryPages))))

		case opcode.I32Const:
			v, err := frame.readVarint32()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.push(uint64(uint32(v)))

		case opcode.I64Const:
			v, err := frame.readVarint64()
			if err != nil {
				return newTrap(TrapUnreachable, err.Error())
			}
			vm.push(uint64(v))

		case opcode.F32Const:
			vm.push(uint64(frame.readUint32Bits()))

		case opcode.F64Const:
			vm.push(frame.readUint64Bits())

		default:
			if trap := vm.execNumeric(op); trap != nil {
				return trap
			}
		}
	}
	return nil
}

func blockHasResult(frame *Frame) bool {
	return wasm.ValueType(frame.instructions[frame.ip]) != wasm.ValueType(wasm.BlockTypeEmpty)
}

func (vm *Instance) push(v uint64)  { vm.stack = append(vm.stack, v) }
func (vm *Instance) pop() uint64 {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}
func (vm *Instance) peek() uint64 { return vm.stack[len(vm.stack)-1] }

// invoke pops a local/imported function's arguments off the stack by
// its declared signature, calls it, and pushes its results.
func (vm *Instance) invoke(idx int) *Trap {
	ft, ok := vm.Module.TypeOf(uint32(idx))
	if !ok {
		return newTrap(TrapUnreachable, ErrFuncNotFound.Error())
	}
	args := make([]uint64, len(ft.Params))
	copy(args, vm.stack[len(vm.stack)-len(ft.Params):])
	vm.stack = vm.stack[:len(vm.stack)-len(ft.Params)]
	results, trap := vm.Funcs[idx](args)
	if trap != nil {
		return trap
	}
	vm.stack = append(vm.stack, results...)
	return nil
}

// execLoad implements every i32/i64/f32/f64 load variant: a shared
// effective-address computation (widened to uint64 so address-space
// wraparound is caught as an out-of-bounds access rather than silently
// wrapping), a shared bounds check, and a per-opcode width/sign-extend.
func (vm *Instance) execLoad(frame *Frame, op opcode.Opcode) (uint64, *Trap) {
	align, err := frame.readVaruint32()
	if err != nil {
		return 0, newTrap(TrapUnreachable, err.Error())
	}
	_ = align
	offset, err := frame.readVaruint32()
	if err != nil {
		return 0, newTrap(TrapUnreachable, err.Error())
	}
	base := uint32(vm.pop())
	addr := uint64(offset) + uint64(base)
	mem := vm.Mems[0].data

	width := loadWidth(op)
	if addr+uint64(width) > uint64(len(mem)) {
		return 0, newTrap(TrapOutOfBoundsMemory, "")
	}
	raw := mem[addr : addr+uint64(width)]

	switch op {
	case opcode.I32Load:
		return uint64(binary.LittleEndian.Uint32(raw)), nil
	case opcode.I64Load:
		return binary.LittleEndian.Uint64(raw), nil
	case opcode.F32Load:
		return uint64(binary.LittleEndian.Uint32(raw)), nil
	case opcode.F64Load:
		return binary.LittleEndian.Uint64(raw), nil
	case opcode.I32Load8S:
		return uint64(uint32(int32(int8(raw[0])))), nil
	case opcode.I32Load8U:
		return uint64(raw[0]), nil
	case opcode.I32Load16S:
		return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(raw))))), nil
	case opcode.I32Load16U:
		return uint64(binary.LittleEndian.Uint16(raw)), nil
	case opcode.I64Load8S:
		return uint64(int64(int8(raw[0]))), nil
	case opcode.I64Load8U:
		return uint64(raw[0]), nil
	case opcode.I64Load16S:
		return uint64(int64(int16(binary.LittleEndian.Uint16(raw)))), nil
	case opcode.I64Load16U:
		return uint64(binary.LittleEndian.Uint16(raw)), nil
	case opcode.I64Load32S:
		return uint64(int64(int32(binary.LittleEndian.Uint32(raw)))), nil
	case opcode.I64Load32U:
		return uint64(binary.LittleEndian.Uint32(raw)), nil
	}
	return 0, newTrap(TrapUnreachable, "unreachable load opcode")
}

func (vm *Instance) execStore(frame *Frame, op opcode.Opcode) *Trap {
	_, err := frame.readVaruint32() // align
	if err != nil {
		return newTrap(TrapUnreachable, err.Error())
	}
	offset, err := frame.readVaruint32()
	if err != nil {
		return newTrap(TrapUnreachable, err.Error())
	}
	value := vm.pop()
	base := uint32(vm.pop())
	addr := uint64(offset) + uint64(base)
	mem := vm.Mems[0].data

	width := storeWidth(op)
	if addr+uint64(width) > uint64(len(mem)) {
		return newTrap(TrapOutOfBoundsMemory, "")
	}
	dst := mem[addr : addr+uint64(width)]
	switch op {
	case opcode.I32Store, opcode.F32Store:
		binary.LittleEndian.PutUint32(dst, uint32(value))
	case opcode.I64Store, opcode.F64Store:
		binary.LittleEndian.PutUint64(dst, value)
	case opcode.I32Store8, opcode.I64Store8:
		dst[0] = byte(value)
	case opcode.I32Store16, opcode.I64Store16:
		binary.LittleEndian.PutUint16(dst, uint16(value))
	case opcode.I64Store32:
		binary.LittleEndian.PutUint32(dst, uint32(value))
	}
	return nil
}

func loadWidth(op opcode.Opcode) int {
	switch op {
	case opcode.I32Load, opcode.F32Load, opcode.I64Load32S, opcode.I64Load32U:
		return 4
	case opcode.I64Load, opcode.F64Load:
		return 8
	case opcode.I32Load16S, opcode.I32Load16U, opcode.I64Load16S, opcode.I64Load16U:
		return 2
	default:
		return 1
	}
}

func storeWidth(op opcode.Opcode) int {
	switch op {
	case opcode.I32Store, opcode.F32Store, opcode.I64Store32:
		return 4
	case opcode.I64Store, opcode.F64Store:
		return 8
	case opcode.I32Store16, opcode.I64Store16:
		return 2
	default:
		return 1
	}
}

// execNumeric dispatches the remaining comparisons, arithmetic, and
// conversions: every operator not given bespoke control/memory handling
// above. Split out of run's switch purely to keep that loop's bulk of
// control transfers readable; this is still part of the same
// fetch-decode-execute step.
func (vm *Instance) execNumeric(op opcode.Opcode) *Trap {
	switch {
	case op == opcode.I32Eqz:
		vm.push(b2u(uint32(vm.pop()) == 0))
	case op == opcode.I64Eqz:
		vm.push(b2u(vm.pop() == 0))
	case isI32Cmp(op):
		b, a := uint32(vm.pop()), uint32(vm.pop())
		vm.push(i32Cmp(op, a, b))
	case isI64Cmp(op):
		b, a := vm.pop(), vm.pop()
		vm.push(i64Cmp(op, a, b))
	case isF32Cmp(op):
		b, a := math32.Float32frombits(uint32(vm.pop())), math32.Float32frombits(uint32(vm.pop()))
		vm.push(f32Cmp(op, a, b))
	case isF64Cmp(op):
		b, a := math.Float64frombits(vm.pop()), math.Float64frombits(vm.pop())
		vm.push(f64Cmp(op, a, b))
	case isI32Unary(op):
		a := uint32(vm.pop())
		v, trap := i32Unary(op, a)
		if trap != nil {
			return trap
		}
		vm.push(uint64(v))
	case isI32Binary(op):
		b, a := uint32(vm.pop()), uint32(vm.pop())
		v, trap := i32Binary(op, a, b)
		if trap != nil {
			return trap
		}
		vm.push(uint64(v))
	case isI64Unary(op):
		a := vm.pop()
		v, trap := i64Unary(op, a)
		if trap != nil {
			return trap
		}
		vm.push(v)
	case isI64Binary(op):
		b, a := vm.pop(), vm.pop()
		v, trap := i64Binary(op, a, b)
		if trap != nil {
			return trap
		}
		vm.push(v)
	case isF32Unary(op):
		a := math32.Float32frombits(uint32(vm.pop()))
		vm.push(uint64(math32.Float32bits(f32Unary(op, a))))
	case isF32Binary(op):
		bBits, aBits := uint32(vm.pop()), uint32(vm.pop())
		if v, isNaN := number.PropagateNaN32(aBits, bBits); isNaN && isF32MinMax(op) {
			vm.push(uint64(v))
			return nil
		}
		a, b := math32.Float32frombits(aBits), math32.Float32frombits(bBits)
		vm.push(uint64(math32.Float32bits(f32Binary(op, a, b))))
	case isF64Unary(op):
		a := math.Float64frombits(vm.pop())
		vm.push(math.Float64bits(f64Unary(op, a)))
	case isF64Binary(op):
		bBits, aBits := vm.pop(), vm.pop()
		if v, isNaN := number.PropagateNaN64(aBits, bBits); isNaN && isF64MinMax(op) {
			vm.push(v)
			return nil
		}
		a, b := math.Float64frombits(aBits), math.Float64frombits(bBits)
		vm.push(math.Float64bits(f64Binary(op, a, b)))
	default:
		return vm.execConversion(op)
	}
	return nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func isI32Cmp(op opcode.Opcode) bool { return op >= opcode.I32Eq && op <= opcode.I32GeU }
func isI64Cmp(op opcode.Opcode) bool { return op >= opcode.I64Eq && op <= opcode.I64GeU }
func isF32Cmp(op opcode.Opcode) bool { return op >= opcode.F32Eq && op <= opcode.F32Ge }
func isF64Cmp(op opcode.Opcode) bool { return op >= opcode.F64Eq && op <= opcode.F64Ge }

func i32Cmp(op opcode.Opcode, a, b uint32) uint64 {
	sa, sb := int32(a), int32(b)
	switch op {
	case opcode.I32Eq:
		return b2u(a == b)
	case opcode.I32Ne:
		return b2u(a != b)
	case opcode.I32LtS:
		return b2u(sa < sb)
	case opcode.I32LtU:
		return b2u(a < b)
	case opcode.I32GtS:
		return b2u(sa > sb)
	case opcode.I32GtU:
		return b2u(a > b)
	case opcode.I32LeS:
		return b2u(sa <= sb)
	case opcode.I32LeU:
		return b2u(a <= b)
	case opcode.I32GeS:
		return b2u(sa >= sb)
	case opcode.I32GeU:
		return b2u(a >= b)
	}
	return 0
}

func i64Cmp(op opcode.Opcode, a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	switch op {
	case opcode.I64Eq:
		return b2u(a == b)
	case opcode.I64Ne:
		return b2u(a != b)
	case opcode.I64LtS:
		return b2u(sa < sb)
	case opcode.I64LtU:
		return b2u(a < b)
	case opcode.I64GtS:
		return b2u(sa > sb)
	case opcode.I64GtU:
		return b2u(a > b)
	case opcode.I64LeS:
		return b2u(sa <= sb)
	case opcode.I64LeU:
		return b2u(a <= b)
	case opcode.I64GeS:
		return b2u(sa >= sb)
	case opcode.I64GeU:
		return b2u(a >= b)
	}
	return 0
}

func f32Cmp(op opcode.Opcode, a, b float32) uint64 {
	switch op {
	case opcode.F32Eq:
		return b2u(a == b)
	case opcode.F32Ne:
		return b2u(a != b)
	case opcode.F32Lt:
		return b2u(a < b)
	case opcode.F32Gt:
		return b2u(a > b)
	case opcode.F32Le:
		return b2u(a <= b)
	case opcode.F32Ge:
		return b2u(a >= b)
	}
	return 0
}

func f64Cmp(op opcode.Opcode, a, b float64) uint64 {
	switch op {
	case opcode.F64Eq:
		return b2u(a == b)
	case opcode.F64Ne:
		return b2u(a != b)
	case opcode.F64Lt:
		return b2u(a < b)
	case opcode.F64Gt:
		return b2u(a > b)
	case opcode.F64Le:
		return b2u(a <= b)
	case opcode.F64Ge:
		return b2u(a >= b)
	}
	return 0
}

func isI32Unary(op opcode.Opcode) bool {
	return op == opcode.I32Clz || op == opcode.I32Ctz || op == opcode.I32Popcnt
}
func isI64Unary(op opcode.Opcode) bool {
	return op == opcode.I64Clz || op == opcode.I64Ctz || op == opcode.I64Popcnt
}
func isI32Binary(op opcode.Opcode) bool { return op >= opcode.I32Add && op <= opcode.I32Rotr }
func isI64Binary(op opcode.Opcode) bool { return op >= opcode.I64Add && op <= opcode.I64Rotr }

func i32Unary(op opcode.Opcode, a uint32) (uint32, *Trap) {
	switch op {
	case opcode.I32Clz:
		return uint32(bits.LeadingZeros32(a)), nil
	case opcode.I32Ctz:
		return uint32(bits.TrailingZeros32(a)), nil
	case opcode.I32Popcnt:
		return uint32(bits.OnesCount32(a)), nil
	}
	return 0, newTrap(TrapUnreachable, "unknown i32 unary")
}

func i64Unary(op opcode.Opcode, a uint64) (uint64, *Trap) {
	switch op {
	case opcode.I64Clz:
		return uint64(bits.LeadingZeros64(a)), nil
	case opcode.I64Ctz:
		return uint64(bits.TrailingZeros64(a)), nil
	case opcode.I64Popcnt:
		return uint64(bits.OnesCount64(a)), nil
	}
	return 0, newTrap(TrapUnreachable, "unknown i64 unary")
}

func i32Binary(op opcode.Opcode, a, b uint32) (uint32, *Trap) {
	sa, sb := int32(a), int32(b)
	switch op {
	case opcode.I32Add:
		return a + b, nil
	case opcode.I32Sub:
		return a - b, nil
	case opcode.I32Mul:
		return a * b, nil
	case opcode.I32DivS:
		if sb == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if sa == math.MinInt32 && sb == -1 {
			return 0, newTrap(TrapIntegerOverflow, "")
		}
		return uint32(sa / sb), nil
	case opcode.I32DivU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a / b, nil
	case opcode.I32RemS:
		if sb == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if sa == math.MinInt32 && sb == -1 {
			return 0, nil
		}
		return uint32(sa % sb), nil
	case opcode.I32RemU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a % b, nil
	case opcode.I32And:
		return a & b, nil
	case opcode.I32Or:
		return a | b, nil
	case opcode.I32Xor:
		return a ^ b, nil
	case opcode.I32Shl:
		return a << (b & 31), nil
	case opcode.I32ShrS:
		return uint32(sa >> (b & 31)), nil
	case opcode.I32ShrU:
		return a >> (b & 31), nil
	case opcode.I32Rotl:
		return bits.RotateLeft32(a, int(b&31)), nil
	case opcode.I32Rotr:
		return bits.RotateLeft32(a, -int(b&31)), nil
	}
	return 0, newTrap(TrapUnreachable, "unknown i32 binary")
}

func i64Binary(op opcode.Opcode, a, b uint64) (uint64, *Trap) {
	sa, sb := int64(a), int64(b)
	switch op {
	case opcode.I64Add:
		return a + b, nil
	case opcode.I64Sub:
		return a - b, nil
	case opcode.I64Mul:
		return a * b, nil
	case opcode.I64DivS:
		if sb == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if sa == math.MinInt64 && sb == -1 {
			return 0, newTrap(TrapIntegerOverflow, "")
		}
		return uint64(sa / sb), nil
	case opcode.I64DivU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a / b, nil
	case opcode.I64RemS:
		if sb == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		if sa == math.MinInt64 && sb == -1 {
			return 0, nil
		}
		return uint64(sa % sb), nil
	case opcode.I64RemU:
		if b == 0 {
			return 0, newTrap(TrapIntegerDivideByZero, "")
		}
		return a % b, nil
	case opcode.I64And:
		return a & b, nil
	case opcode.I64Or:
		return a | b, nil
	case opcode.I64Xor:
		return a ^ b, nil
	case opcode.I64Shl:
		return a << (b & 63), nil
	case opcode.I64ShrS:
		return uint64(sa >> (b & 63)), nil
	case opcode.I64ShrU:
		return a >> (b & 63), nil
	case opcode.I64Rotl:
		return bits.RotateLeft64(a, int(b&63)), nil
	case opcode.I64Rotr:
		return bits.RotateLeft64(a, -int(b&63)), nil
	}
	return 0, newTrap(TrapUnreachable, "unknown i64 binary")
}

func isF32Unary(op opcode.Opcode) bool {
	return op == opcode.F32Abs || op == opcode.F32Neg || op == opcode.F32Ceil || op == opcode.F32Floor ||
		op == opcode.F32Trunc || op == opcode.F32Nearest || op == opcode.F32Sqrt
}
func isF64Unary(op opcode.Opcode) bool {
	return op == opcode.F64Abs || op == opcode.F64Neg || op == opcode.F64Ceil || op == opcode.F64Floor ||
		op == opcode.F64Trunc || op == opcode.F64Nearest || op == opcode.F64Sqrt
}
func isF32Binary(op opcode.Opcode) bool { return op >= opcode.F32Add && op <= opcode.F32Copysign }
func isF64Binary(op opcode.Opcode) bool { return op >= opcode.F64Add && op <= opcode.F64Copysign }
func isF32MinMax(op opcode.Opcode) bool { return op == opcode.F32Min || op == opcode.F32Max }
func isF64MinMax(op opcode.Opcode) bool { return op == opcode.F64Min || op == opcode.F64Max }

func f32Unary(op opcode.Opcode, a float32) float32 {
	switch op {
	case opcode.F32Abs:
		return math32.Abs(a)
	case opcode.F32Neg:
		return -a
	case opcode.F32Ceil:
		return math32.Ceil(a)
	case opcode.F32Floor:
		return math32.Floor(a)
	case opcode.F32Trunc:
		return math32.Trunc(a)
	case opcode.F32Nearest:
		return math32.RoundToEven(a)
	case opcode.F32Sqrt:
		return math32.Sqrt(a)
	}
	return a
}

func f64Unary(op opcode.Opcode, a float64) float64 {
	switch op {
	case opcode.F64Abs:
		return math.Abs(a)
	case opcode.F64Neg:
		return -a
	case opcode.F64Ceil:
		return math.Ceil(a)
	case opcode.F64Floor:
		return math.Floor(a)
	case opcode.F64Trunc:
		return math.Trunc(a)
	case opcode.F64Nearest:
		return math.RoundToEven(a)
	case opcode.F64Sqrt:
		return math.Sqrt(a)
	}
	return a
}

func f32Binary(op opcode.Opcode, a, b float32) float32 {
	switch op {
	case opcode.F32Add:
		return a + b
	case opcode.F32Sub:
		return a - b
	case opcode.F32Mul:
		return a * b
	case opcode.F32Div:
		return a / b
	case opcode.F32Min:
		return math32.Min(a, b)
	case opcode.F32Max:
		return math32.Max(a, b)
	case opcode.F32Copysign:
		return math32.Copysign(a, b)
	}
	return a
}

func f64Binary(op opcode.Opcode, a, b float64) float64 {
	switch op {
	case opcode.F64Add:
		return a + b
	case opcode.F64Sub:
		return a - b
	case opcode.F64Mul:
		return a * b
	case opcode.F64Div:
		return a / b
	case opcode.F64Min:
		return math.Min(a, b)
	case opcode.F64Max:
		return math.Max(a, b)
	case opcode.F64Copysign:
		return math.Copysign(a, b)
	}
	return a
}

// execConversion implements every wrap/trunc/extend/convert/demote/
// promote/reinterpret operator. reinterpret_* are true no-ops: the
// stack already stores every value as a raw bit pattern, so changing
// the "declared type" changes nothing about the bits in flight.
func (vm *Instance) execConversion(op opcode.Opcode) *Trap {
	switch op {
	case opcode.I32WrapI64:
		vm.push(uint64(uint32(vm.pop())))
	case opcode.I32TruncF32S, opcode.I32TruncF32U, opcode.I32TruncF64S, opcode.I32TruncF64U,
		opcode.I64TruncF32S, opcode.I64TruncF32U, opcode.I64TruncF64S, opcode.I64TruncF64U:
		from, to := truncFrom(op), truncTo(op)
		bitsIn := vm.pop()
		if !number.CanTruncate(from, to, truncFloatValue(from, bitsIn)) {
			return newTrap(TrapInvalidConversion, "")
		}
		result, code := number.FloatTruncate(from, to, bitsIn)
		if code != number.NoTrap {
			return newTrap(TrapInvalidConversion, "")
		}
		vm.push(result)
	case opcode.I64ExtendI32S:
		vm.push(uint64(int64(int32(uint32(vm.pop())))))
	case opcode.I64ExtendI32U:
		vm.push(uint64(uint32(vm.pop())))
	case opcode.F32ConvertI32S:
		vm.push(uint64(math32.Float32bits(float32(int32(uint32(vm.pop()))))))
	case opcode.F32ConvertI32U:
		vm.push(uint64(math32.Float32bits(float32(uint32(vm.pop())))))
	case opcode.F32ConvertI64S:
		vm.push(uint64(math32.Float32bits(float32(int64(vm.pop())))))
	case opcode.F32ConvertI64U:
		vm.push(uint64(math32.Float32bits(float32(vm.pop()))))
	case opcode.F32DemoteF64:
		vm.push(uint64(math32.Float32bits(float32(math.Float64frombits(vm.pop())))))
	case opcode.F64ConvertI32S:
		vm.push(math.Float64bits(float64(int32(uint32(vm.pop())))))
	case opcode.F64ConvertI32U:
		vm.push(math.Float64bits(float64(uint32(vm.pop()))))
	case opcode.F64ConvertI64S:
		vm.push(math.Float64bits(float64(int64(vm.pop()))))
	case opcode.F64ConvertI64U:
		vm.push(math.Float64bits(float64(vm.pop())))
	case opcode.F64PromoteF32:
		vm.push(math.Float64bits(float64(math32.Float32frombits(uint32(vm.pop())))))
	case opcode.I32ReinterpretF32, opcode.I64ReinterpretF64, opcode.F32ReinterpretI32, opcode.F64ReinterpretI64:
		// no-op: bits already on the stack unchanged
	default:
		return newTrap(TrapUnreachable, "unknown opcode")
	}
	return nil
}

func truncFrom(op opcode.Opcode) number.Type {
	switch op {
	case opcode.I32TruncF32S, opcode.I32TruncF32U, opcode.I64TruncF32S, opcode.I64TruncF32U:
		return number.F32
	default:
		return number.F64
	}
}

func truncTo(op opcode.Opcode) number.Type {
	switch op {
	case opcode.I32TruncF32S, opcode.I32TruncF64S:
		return number.I32
	case opcode.I32TruncF32U, opcode.I32TruncF64U:
		return number.U32
	case opcode.I64TruncF32S, opcode.I64TruncF64S:
		return number.I64
	default:
		return number.U64
	}
}

func truncFloatValue(from number.Type, bits uint64) interface{} {
	if from == number.F32 {
		return math32.Float32frombits(uint32(bits))
	}
	return math.Float64frombits(bits)
}
