package vm

import "github.com/tinywasm/tinywasm/opcode"

// skipImmediateFrame advances frame past op's immediate bytes without
// interpreting them, mirroring wasm/read.go's skipImmediate but driven
// off a Frame's ip rather than a util.ByteReader -- used while scanning
// forward over instructions that are not being executed (an untaken if
// arm, or the tail of a block being exited by branch).
func skipImmediateFrame(frame *Frame, op opcode.Opcode) error {
	info, ok := opcode.Lookup(op)
	if !ok {
		return errUnknownOpcode
	}
	switch info.Shape {
	case opcode.ShapeNone:
		return nil
	case opcode.ShapeBlockType:
		frame.readByte()
		return nil
	case opcode.ShapeVaruint32:
		_, err := frame.readVaruint32()
		return err
	case opcode.ShapeVarint32:
		_, err := frame.readVarint32()
		return err
	case opcode.ShapeVarint64:
		_, err := frame.readVarint64()
		return err
	case opcode.ShapeF32:
		frame.readUint32Bits()
		return nil
	case opcode.ShapeF64:
		frame.readUint64Bits()
		return nil
	case opcode.ShapeMemArg:
		if _, err := frame.readVaruint32(); err != nil {
			return err
		}
		_, err := frame.readVaruint32()
		return err
	case opcode.ShapeBrTable:
		n, err := frame.readVaruint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := frame.readVaruint32(); err != nil {
				return err
			}
		}
		_, err = frame.readVaruint32()
		return err
	case opcode.ShapeCallIndirect:
		if _, err := frame.readVaruint32(); err != nil {
			return err
		}
		frame.readByte() // reserved
		return nil
	default:
		return errUnknownOpcode
	}
}

// skipThenBranch is called right after an `if` with a false condition:
// it scans forward from the current ip (positioned at the block-type
// byte already consumed) to either the matching `else` (stopping with
// it consumed, so normal execution continues into the else-arm) or the
// matching `end` (stopping with it consumed, no else-arm to run).
func skipThenBranch(frame *Frame) (hitElse bool, err error) {
	depth := 0
	for {
		peek := opcode.Opcode(frame.instructions[frame.ip+1])
		if depth == 0 && peek == opcode.Else {
			frame.ip++
			return true, nil
		}
		if depth == 0 && peek == opcode.End {
			frame.ip++
			return false, nil
		}
		op := opcode.Opcode(frame.fetchOp())
		switch op {
		case opcode.Block, opcode.Loop, opcode.If:
			depth++
			frame.readByte()
		case opcode.End:
			depth--
		case opcode.Else:
			// Else nested inside a deeper if: inert while scanning past it.
		default:
			if err := skipImmediateFrame(frame, op); err != nil {
				return false, err
			}
		}
	}
}

// skipNEnds scans forward from the current ip, consuming nested
// block/loop/if/end/else markers, until it has consumed toClose `end`
// tokens that are not themselves closing a block opened after the scan
// began. It leaves ip positioned at the last such `end` (so the next
// fetch reads the instruction right after it). Used both when an `else`
// is reached via normal fallthrough (toClose=1, skipping the unplayed
// else-arm) and when branching out of one or more enclosing non-loop
// blocks (toClose=n+1 relative blocks).
func skipNEnds(frame *Frame, toClose int) error {
	depth := 0
	for {
		op := opcode.Opcode(frame.fetchOp())
		switch op {
		case opcode.Block, opcode.Loop, opcode.If:
			depth++
			frame.readByte()
		case opcode.End:
			if depth == 0 {
				toClose--
				if toClose == 0 {
					return nil
				}
			} else {
				depth--
			}
		case opcode.Else:
			// Inert: we're abandoning this arm's normal control flow.
		default:
			if err := skipImmediateFrame(frame, op); err != nil {
				return err
			}
		}
	}
}

// doBranch implements spec.md §4.7's `br n`: pop n+1 control entries,
// truncate the value stack to the target's height, push the top arity
// values back, and resume at the target continuation (the loop's start
// for a loop target, or just after the end for a block/if target -- or,
// when the target is the frame's own synthetic outer block, function
// return).
func (vm *Instance) doBranch(frame *Frame, n int) *Trap {
	available := len(vm.blocks) - 1 - frame.baseBlockIndex
	if n > available {
		return newTrap(TrapUnreachable, errInvalidBreakDepth.Error())
	}
	targetIdx := len(vm.blocks) - (n + 1)
	target := vm.blocks[targetIdx]
	arity := target.branchArity()

	results := make([]uint64, arity)
	copy(results, vm.stack[len(vm.stack)-arity:])
	vm.stack = vm.stack[:target.basePointer]
	vm.stack = append(vm.stack, results...)

	if target.isLoop() {
		vm.blocks = vm.blocks[:targetIdx+1]
		frame.ip = target.labelPointer - 1
		return nil
	}

	vm.blocks = vm.blocks[:targetIdx]
	if targetIdx == frame.baseBlockIndex {
		// Branching to the function's own outer block: equivalent to
		// `return`. Scanning to its end just positions ip at the
		// function's terminating `end`; the run loop will see
		// frame.hasEnded() next and stop.
	}
	if err := skipNEnds(frame, n+1); err != nil {
		return newTrap(TrapUnreachable, err.Error())
	}
	return nil
}
