// Package wasm is the module data model and binary codec: the typed
// in-memory representation of a WebAssembly module (§3 of the design)
// plus a reader and writer for the MVP binary format (§4.2). Adapted
// from the teacher's flat `Module` struct with nil-checked accessors
// (`GetFunction`, `GetGlobal`, ...), generalized with a mutation API
// the teacher never needed (it only ever read modules, never wrote
// them) and a name-section facade.
package wasm

import "fmt"

// ValueType is one of the four runtime value types.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7F
	ValueTypeI64 ValueType = 0x7E
	ValueTypeF32 ValueType = 0x7D
	ValueTypeF64 ValueType = 0x7C
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("valuetype(%#x)", byte(v))
	}
}

// Binary format constants.
const (
	Magic          uint32    = 0x6d736100
	Version        uint32    = 0x1
	FuncTypeForm   byte      = 0x60
	ElemTypeFuncRef byte     = 0x70
	BlockTypeEmpty byte      = 0x40
)

// ExternalKind distinguishes the four import/export kinds.
type ExternalKind byte

const (
	ExternalFunction ExternalKind = 0
	ExternalTable    ExternalKind = 1
	ExternalMemory   ExternalKind = 2
	ExternalGlobal   ExternalKind = 3
)

func (k ExternalKind) String() string {
	switch k {
	case ExternalFunction:
		return "func"
	case ExternalTable:
		return "table"
	case ExternalMemory:
		return "memory"
	case ExternalGlobal:
		return "global"
	default:
		return fmt.Sprintf("externalkind(%d)", byte(k))
	}
}

// SectionID identifies a known section; custom sections always use id 0.
type SectionID byte

const (
	SectionCustom SectionID = iota
	SectionType
	SectionImport
	SectionFunction
	SectionTable
	SectionMemory
	SectionGlobal
	SectionExport
	SectionStart
	SectionElement
	SectionCode
	SectionData
)

// Limits is a pair (initial, maximum?) of unsigned 32-bit counts.
type Limits struct {
	Initial uint32
	Maximum uint32
	HasMax  bool
}

// FuncType is an ordered list of parameter types and an ordered list of
// result types.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Equal reports structural equality, used by the assembler's type-use
// consistency check (inline params/results vs. a referenced `(type $id)`).
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// MemoryType is Limits measured in 64 KiB pages.
type MemoryType struct {
	Limits Limits
}

// PageSize is the number of bytes in one linear-memory page.
const PageSize = 65536

// TableType is an element kind (MVP: funcref) plus Limits measured in
// elements.
type TableType struct {
	ElementType byte // always ElemTypeFuncRef in the MVP baseline
	Limits      Limits
}

// GlobalType is a value type plus a mutability flag.
type GlobalType struct {
	Type    ValueType
	Mutable bool
}

// ImportDesc is the descriptor carried by an Import: exactly one of the
// four fields is meaningful, selected by Kind.
type ImportDesc struct {
	Kind       ExternalKind
	TypeIndex  uint32// ExternalFunction
	Table      TableType
	Memory     MemoryType
	Global     GlobalType
}

// Import is (module_name, field_name, kind, descriptor).
type Import struct {
	Module string
	Field  string
	Desc   ImportDesc
}

// Export is (name, kind, index) addressing the unified index space for
// that kind.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// LocalGroup is a run of `count` locals sharing `Type`, as encoded in a
// function body's local declarations.
type LocalGroup struct {
	Count uint32
	Type  ValueType
}

// Code is a local function's body: its local groups and its raw
// instruction stream (terminated by an implicit `end`). The stream is
// kept as raw bytes -- both the interpreter's fetch-decode-execute loop
// and the (rare) disassembly path decode lazily via the opcode catalog,
// mirroring the teacher's choice to never eagerly materialize a typed
// instruction tree for function bodies.
type Code struct {
	Locals       []LocalGroup
	Instructions []byte
}

// Function is a local function: an index into the type section plus its
// Code. Imported functions do not have a Function entry; they occupy
// the front of the function index space implicitly via the import
// section (see Module.FunctionIndexSpace).
type Function struct {
	TypeIndex uint32
	Body      Code
}

// Global is a local global: its type and its constant initializer
// expression (raw instruction bytes, evaluated by ExecInitExpr).
type Global struct {
	Type InitType
	Init []byte
}

// InitType is GlobalType renamed at the point of use for readability;
// kept as an alias rather than a second type to avoid a needless
// conversion at every call site.
type InitType = GlobalType

// Table is a local table: its type. Tables are populated by element
// segments at instantiation time, not by the data model.
type Table struct {
	Type TableType
}

// Memory is a local memory: its type.
type Memory struct {
	Type MemoryType
}

// ElementSegment copies function indices into a table at instantiation.
type ElementSegment struct {
	TableIndex uint32
	Offset     []byte // initializer expression, raw instruction bytes
	Functions  []uint32
}

// DataSegment copies bytes into a memory at instantiation.
type DataSegment struct {
	MemoryIndex uint32
	Offset      []byte // initializer expression, raw instruction bytes
	Bytes       []byte
}

// CustomSection is a named, opaque payload outside the known section
// set. The `name` section is recognized specially (see name.go) but is
// still stored here in raw form for round-tripping.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the in-memory representation of a WasmFile: an ordered set
// of typed sections plus any custom sections, and the derived index
// spaces used to resolve references during instantiation and execution.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []Function // local functions, parallel to the tail of FunctionIndexSpace
	Tables   []Table
	Mems     []Memory
	Globals  []Global
	Exports  []Export
	HasStart bool
	Start    uint32
	Elements []ElementSegment
	Data     []DataSegment
	Customs  []CustomSection

	// FunctionIndexSpace concatenates imported function type indices
	// (front) with local function type indices (tail), in declaration
	// order, per spec.md's index-space definition.
	FunctionIndexSpace []uint32
	// TableIndexSpace and MemoryIndexSpace concatenate imported and
	// local table/memory types the same way.
	TableIndexSpace  []TableType
	MemoryIndexSpace []MemoryType
	GlobalIndexSpace []GlobalType
}

// NumImportedFuncs reports how many entries at the front of
// FunctionIndexSpace are imports (as opposed to local Funcs).
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == ExternalFunction {
			n++
		}
	}
	return n
}

// LocalFuncIndex converts an index into FunctionIndexSpace to an index
// into Funcs, reporting false if the index names an imported function.
func (m *Module) LocalFuncIndex(idx uint32) (int, bool) {
	imported := m.NumImportedFuncs()
	if int(idx) < imported {
		return 0, false
	}
	local := int(idx) - imported
	if local >= len(m.Funcs) {
		return 0, false
	}
	return local, true
}

// TypeOf returns the function type of the function at index idx in the
// function index space, or false if idx is out of range.
func (m *Module) TypeOf(idx uint32) (FuncType, bool) {
	if int(idx) >= len(m.FunctionIndexSpace) {
		return FuncType{}, false
	}
	typeIdx := m.FunctionIndexSpace[idx]
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}
