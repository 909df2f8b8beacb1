package vm

import "github.com/tinywasm/tinywasm/wasm"

// Callable is the "ordered argument list of boxed values ... ordered
// list of boxed results or traps" contract of spec.md §6: every
// function value the interpreter can invoke -- local wasm functions and
// host-imported functions alike -- has this shape. Boxed values here are
// raw 64-bit bit patterns tagged by the companion wasm.ValueType the
// caller already knows from the function's signature, per design note
// §9 ("operator dispatch is by opcode, not by value-variant
// discrimination at runtime").
type Callable func(args []uint64) ([]uint64, *Trap)

// Memory is a linear memory instance: a contiguous byte array whose
// length is always current pages * wasm.PageSize.
type Memory struct {
	data   []byte
	limits wasm.Limits
}

// NewMemory allocates a zero-filled memory of limits.Initial pages.
func NewMemory(limits wasm.Limits) *Memory {
	return &Memory{data: make([]byte, uint64(limits.Initial)*wasm.PageSize), limits: limits}
}

// Pages reports the current size in pages.
func (m *Memory) Pages() uint32 {
	return uint32(len(m.data) / wasm.PageSize)
}

// Grow adds n pages, returning the previous page count, or -1 if the
// new size would exceed the memory's own maximum or the host cap.
func (m *Memory) Grow(n uint32, hostCapPages uint32) int32 {
	prev := m.Pages()
	newPages := prev + n
	if m.limits.HasMax && newPages > m.limits.Maximum {
		return -1
	}
	if hostCapPages != 0 && newPages > hostCapPages {
		return -1
	}
	grown := make([]byte, uint64(newPages)*wasm.PageSize)
	copy(grown, m.data)
	m.data = grown
	return int32(prev)
}

// TableElem is one occupied table slot: the callable plus the type
// index of its nominal signature, needed by call_indirect's runtime
// type check against the caller's expected type.
type TableElem struct {
	Fn        Callable
	TypeIndex uint32
}

// Table is a table instance: a slice of nullable function values. A nil
// slot is "uninitialized" per spec.md §4.7's distinct trap for that case.
type Table struct {
	elems  []*TableElem
	limits wasm.Limits
}

// NewTable allocates a table of limits.Initial null slots.
func NewTable(limits wasm.Limits) *Table {
	return &Table{elems: make([]*TableElem, limits.Initial), limits: limits}
}

func (t *Table) Size() uint32 {
	return uint32(len(t.elems))
}

// Global is a global instance: its current value and declared type.
type Global struct {
	Value   uint64
	Type    wasm.GlobalType
}
