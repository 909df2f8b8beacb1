package vm

import "github.com/tinywasm/tinywasm/wasm"

// BlockType distinguishes the three structured control constructs.
// blockElse is declared but no control-stack entry is ever given it.
type BlockType int

const (
	blockPlain BlockType = iota + 1
	blockLoop
	blockIf
	blockElse
)

// Block is one entry of the control stack: spec.md §4.7's "control
// stack of block labels", carrying (arity, continuation_kind) plus
// enough bookkeeping to restore the value stack on branch. labelPointer
// is the instruction-pointer a `loop` branch resumes at (its own start);
// block/if branches resume after the block, which the interpreter
// reaches simply by falling through once skipping completes.
type Block struct {
	labelPointer int // loop: ip of the instruction right after `loop`'s block-type byte
	blockType    BlockType
	hasResult    bool
	resultType   wasm.ValueType
	basePointer  int // value-stack height at block entry, for branch truncation
}

// NewBlock initializes a Block.
func NewBlock(labelPointer int, blockType BlockType, hasResult bool, resultType wasm.ValueType, basePointer int) *Block {
	return &Block{
		labelPointer: labelPointer,
		blockType:    blockType,
		hasResult:    hasResult,
		resultType:   resultType,
		basePointer:  basePointer,
	}
}

// arity is the number of values control falls through this block's own
// `end` with: 0 or 1 in the MVP baseline (spec.md §3's function-type
// length note applies identically to block types).
func (b *Block) arity() int {
	if b.hasResult {
		return 1
	}
	return 0
}

// branchArity is the number of values a branch *targeting* this block
// carries across, which is distinct from arity() for a loop: branching
// to a loop label jumps back to its start, so it carries the loop's
// parameter count (0 in the MVP baseline, which has no multi-value
// blocks) rather than its declared result type -- the result type only
// applies when the loop falls off its own end normally. Branching to a
// block/if target, by contrast, jumps to just after its `end`, so it
// does carry the declared result.
func (b *Block) branchArity() int {
	if b.isLoop() {
		return 0
	}
	return b.arity()
}

// isLoop reports whether a branch to this block resumes at its start
// (loop) rather than after its end (block/if).
func (b *Block) isLoop() bool {
	return b.blockType == blockLoop
}
