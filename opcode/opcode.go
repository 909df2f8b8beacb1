// Package opcode is the instruction catalog shared by the binary codec,
// the text assembler, and the interpreter: one table mapping every MVP
// WebAssembly opcode to its mnemonic, immediate shape, and declaring
// value type. Grounded on the contiguous opcode-range dispatch the
// teacher's draft interpreter used inline (`I32Add <= op && op <=
// I32Rotr`, ...) turned into an explicit, queryable table.
package opcode

// Opcode is a single WebAssembly instruction byte. The 0xFC-prefixed
// extended table (saturating truncation, bulk-memory) is reserved but
// unpopulated: out of scope per the MVP baseline.
type Opcode byte

// Control instructions.
const (
	Unreachable  Opcode = 0x00
	Nop          Opcode = 0x01
	Block        Opcode = 0x02
	Loop         Opcode = 0x03
	If           Opcode = 0x04
	Else         Opcode = 0x05
	End          Opcode = 0x0B
	Br           Opcode = 0x0C
	BrIf         Opcode = 0x0D
	BrTable      Opcode = 0x0E
	Return       Opcode = 0x0F
	Call         Opcode = 0x10
	CallIndirect Opcode = 0x11
)

// Parametric instructions.
const (
	Drop   Opcode = 0x1A
	Select Opcode = 0x1B
)

// Variable instructions.
const (
	LocalGet  Opcode = 0x20
	LocalSet  Opcode = 0x21
	LocalTee  Opcode = 0x22
	GlobalGet Opcode = 0x23
	GlobalSet Opcode = 0x24
)

// Memory instructions.
const (
	I32Load    Opcode = 0x28
	I64Load    Opcode = 0x29
	F32Load    Opcode = 0x2A
	F64Load    Opcode = 0x2B
	I32Load8S  Opcode = 0x2C
	I32Load8U  Opcode = 0x2D
	I32Load16S Opcode = 0x2E
	I32Load16U Opcode = 0x2F
	I64Load8S  Opcode = 0x30
	I64Load8U  Opcode = 0x31
	I64Load16S Opcode = 0x32
	I64Load16U Opcode = 0x33
	I64Load32S Opcode = 0x34
	I64Load32U Opcode = 0x35
	I32Store   Opcode = 0x36
	I64Store   Opcode = 0x37
	F32Store   Opcode = 0x38
	F64Store   Opcode = 0x39
	I32Store8  Opcode = 0x3A
	I32Store16 Opcode = 0x3B
	I64Store8  Opcode = 0x3C
	I64Store16 Opcode = 0x3D
	I64Store32 Opcode = 0x3E
	MemorySize Opcode = 0x3F
	MemoryGrow Opcode = 0x40
)

// Numeric const instructions.
const (
	I32Const Opcode = 0x41
	I64Const Opcode = 0x42
	F32Const Opcode = 0x43
	F64Const Opcode = 0x44
)

// i32 comparisons.
const (
	I32Eqz Opcode = 0x45
	I32Eq  Opcode = 0x46
	I32Ne  Opcode = 0x47
	I32LtS Opcode = 0x48
	I32LtU Opcode = 0x49
	I32GtS Opcode = 0x4A
	I32GtU Opcode = 0x4B
	I32LeS Opcode = 0x4C
	I32LeU Opcode = 0x4D
	I32GeS Opcode = 0x4E
	I32GeU Opcode = 0x4F
)

// i64 comparisons.
const (
	I64Eqz Opcode = 0x50
	I64Eq  Opcode = 0x51
	I64Ne  Opcode = 0x52
	I64LtS Opcode = 0x53
	I64LtU Opcode = 0x54
	I64GtS Opcode = 0x55
	I64GtU Opcode = 0x56
	I64LeS Opcode = 0x57
	I64LeU Opcode = 0x58
	I64GeS Opcode = 0x59
	I64GeU Opcode = 0x5A
)

// f32/f64 comparisons.
const (
	F32Eq Opcode = 0x5B
	F32Ne Opcode = 0x5C
	F32Lt Opcode = 0x5D
	F32Gt Opcode = 0x5E
	F32Le Opcode = 0x5F
	F32Ge Opcode = 0x60
	F64Eq Opcode = 0x61
	F64Ne Opcode = 0x62
	F64Lt Opcode = 0x63
	F64Gt Opcode = 0x64
	F64Le Opcode = 0x65
	F64Ge Opcode = 0x66
)

// i32 arithmetic.
const (
	I32Clz    Opcode = 0x67
	I32Ctz    Opcode = 0x68
	I32Popcnt Opcode = 0x69
	I32Add    Opcode = 0x6A
	I32Sub    Opcode = 0x6B
	I32Mul    Opcode = 0x6C
	I32DivS   Opcode = 0x6D
	I32DivU   Opcode = 0x6E
	I32RemS   Opcode = 0x6F
	I32RemU   Opcode = 0x70
	I32And    Opcode = 0x71
	I32Or     Opcode = 0x72
	I32Xor    Opcode = 0x73
	I32Shl    Opcode = 0x74
	I32ShrS   Opcode = 0x75
	I32ShrU   Opcode = 0x76
	I32Rotl   Opcode = 0x77
	I32Rotr   Opcode = 0x78
)

// i64 arithmetic.
const (
	I64Clz    Opcode = 0x79
	I64Ctz    Opcode = 0x7A
	I64Popcnt Opcode = 0x7B
	I64Add    Opcode = 0x7C
	I64Sub    Opcode = 0x7D
	I64Mul    Opcode = 0x7E
	I64DivS   Opcode = 0x7F
	I64DivU   Opcode = 0x80
	I64RemS   Opcode = 0x81
	I64RemU   Opcode = 0x82
	I64And    Opcode = 0x83
	I64Or     Opcode = 0x84
	I64Xor    Opcode = 0x85
	I64Shl    Opcode = 0x86
	I64ShrS   Opcode = 0x87
	I64ShrU   Opcode = 0x88
	I64Rotl   Opcode = 0x89
	I64Rotr   Opcode = 0x8A
)

// f32 arithmetic.
const (
	F32Abs      Opcode = 0x8B
	F32Neg      Opcode = 0x8C
	F32Ceil     Opcode = 0x8D
	F32Floor    Opcode = 0x8E
	F32Trunc    Opcode = 0x8F
	F32Nearest  Opcode = 0x90
	F32Sqrt     Opcode = 0x91
	F32Add      Opcode = 0x92
	F32Sub      Opcode = 0x93
	F32Mul      Opcode = 0x94
	F32Div      Opcode = 0x95
	F32Min      Opcode = 0x96
	F32Max      Opcode = 0x97
	F32Copysign Opcode = 0x98
)

// f64 arithmetic.
const (
	F64Abs      Opcode = 0x99
	F64Neg      Opcode = 0x9A
	F64Ceil     Opcode = 0x9B
	F64Floor    Opcode = 0x9C
	F64Trunc    Opcode = 0x9D
	F64Nearest  Opcode = 0x9E
	F64Sqrt     Opcode = 0x9F
	F64Add      Opcode = 0xA0
	F64Sub      Opcode = 0xA1
	F64Mul      Opcode = 0xA2
	F64Div      Opcode = 0xA3
	F64Min      Opcode = 0xA4
	F64Max      Opcode = 0xA5
	F64Copysign Opcode = 0xA6
)

// Conversions.
const (
	I32WrapI64      Opcode = 0xA7
	I32TruncF32S    Opcode = 0xA8
	I32TruncF32U    Opcode = 0xA9
	I32TruncF64S    Opcode = 0xAA
	I32TruncF64U    Opcode = 0xAB
	I64ExtendI32S   Opcode = 0xAC
	I64ExtendI32U   Opcode = 0xAD
	I64TruncF32S    Opcode = 0xAE
	I64TruncF32U    Opcode = 0xAF
	I64TruncF64S    Opcode = 0xB0
	I64TruncF64U    Opcode = 0xB1
	F32ConvertI32S  Opcode = 0xB2
	F32ConvertI32U  Opcode = 0xB3
	F32ConvertI64S  Opcode = 0xB4
	F32ConvertI64U  Opcode = 0xB5
	F32DemoteF64    Opcode = 0xB6
	F64ConvertI32S  Opcode = 0xB7
	F64ConvertI32U  Opcode = 0xB8
	F64ConvertI64S  Opcode = 0xB9
	F64ConvertI64U  Opcode = 0xBA
	F64PromoteF32   Opcode = 0xBB
	I32ReinterpretF32 Opcode = 0xBC
	I64ReinterpretF64 Opcode = 0xBD
	F32ReinterpretI32 Opcode = 0xBE
	F64ReinterpretI64 Opcode = 0xBF
)

// ImmediateShape classifies the binary immediate layout an opcode carries.
type ImmediateShape int

const (
	ShapeNone ImmediateShape = iota
	ShapeBlockType
	ShapeVaruint32       // local/global/function/type/label index
	ShapeVarint32        // i32.const
	ShapeVarint64        // i64.const
	ShapeF32             // f32.const, little-endian bits
	ShapeF64             // f64.const, little-endian bits
	ShapeMemArg          // align:varuint32, offset:varuint32
	ShapeBrTable         // targets:vec<varuint32>, default:varuint32
	ShapeCallIndirect    // type_index:varuint32, reserved:varuint1
)

// ValType mirrors wasm.ValueType without importing the wasm package
// (which itself depends on opcode for instruction decoding), avoiding an
// import cycle. 0 means "no declaring value type" (control/parametric/
// variable/memory-size ops per spec.md §4.4).
type ValType int8

const (
	NoType ValType = 0
	I32    ValType = 0x7F
	I64    ValType = 0x7E
	F32    ValType = 0x7D
	F64    ValType = 0x7C
)

// Info describes one operator: its text mnemonic, immediate shape, and
// declaring value type.
type Info struct {
	Mnemonic string
	Shape    ImmediateShape
	Type     ValType
}

// table is the instruction catalog, keyed by opcode byte.
var table = map[Opcode]Info{
	Unreachable:  {"unreachable", ShapeNone, NoType},
	Nop:          {"nop", ShapeNone, NoType},
	Block:        {"block", ShapeBlockType, NoType},
	Loop:         {"loop", ShapeBlockType, NoType},
	If:           {"if", ShapeBlockType, NoType},
	Else:         {"else", ShapeNone, NoType},
	End:          {"end", ShapeNone, NoType},
	Br:           {"br", ShapeVaruint32, NoType},
	BrIf:         {"br_if", ShapeVaruint32, NoType},
	BrTable:      {"br_table", ShapeBrTable, NoType},
	Return:       {"return", ShapeNone, NoType},
	Call:         {"call", ShapeVaruint32, NoType},
	CallIndirect: {"call_indirect", ShapeCallIndirect, NoType},

	Drop:   {"drop", ShapeNone, NoType},
	Select: {"select", ShapeNone, NoType},

	LocalGet:  {"local.get", ShapeVaruint32, NoType},
	LocalSet:  {"local.set", ShapeVaruint32, NoType},
	LocalTee:  {"local.tee", ShapeVaruint32, NoType},
	GlobalGet: {"global.get", ShapeVaruint32, NoType},
	GlobalSet: {"global.set", ShapeVaruint32, NoType},

	I32Load:    {"i32.load", ShapeMemArg, I32},
	I64Load:    {"i64.load", ShapeMemArg, I64},
	F32Load:    {"f32.load", ShapeMemArg, F32},
	F64Load:    {"f64.load", ShapeMemArg, F64},
	I32Load8S:  {"i32.load8_s", ShapeMemArg, I32},
	I32Load8U:  {"i32.load8_u", ShapeMemArg, I32},
	I32Load16S: {"i32.load16_s", ShapeMemArg, I32},
	I32Load16U: {"i32.load16_u", ShapeMemArg, I32},
	I64Load8S:  {"i64.load8_s", ShapeMemArg, I64},
	I64Load8U:  {"i64.load8_u", ShapeMemArg, I64},
	I64Load16S: {"i64.load16_s", ShapeMemArg, I64},
	I64Load16U: {"i64.load16_u", ShapeMemArg, I64},
	I64Load32S: {"i64.load32_s", ShapeMemArg, I64},
	I64Load32U: {"i64.load32_u", ShapeMemArg, I64},
	I32Store:   {"i32.store", ShapeMemArg, I32},
	I64Store:   {"i64.store", ShapeMemArg, I64},
	F32Store:   {"f32.store", ShapeMemArg, F32},
	F64Store:   {"f64.store", ShapeMemArg, F64},
	I32Store8:  {"i32.store8", ShapeMemArg, I32},
	I32Store16: {"i32.store16", ShapeMemArg, I32},
	I64Store8:  {"i64.store8", ShapeMemArg, I64},
	I64Store16: {"i64.store16", ShapeMemArg, I64},
	I64Store32: {"i64.store32", ShapeMemArg, I64},
	MemorySize: {"memory.size", ShapeNone, NoType},
	MemoryGrow: {"memory.grow", ShapeNone, NoType},

	I32Const: {"i32.const", ShapeVarint32, I32},
	I64Const: {"i64.const", ShapeVarint64, I64},
	F32Const: {"f32.const", ShapeF32, F32},
	F64Const: {"f64.const", ShapeF64, F64},

	I32Eqz: {"i32.eqz", ShapeNone, I32}, I32Eq: {"i32.eq", ShapeNone, I32}, I32Ne: {"i32.ne", ShapeNone, I32},
	I32LtS: {"i32.lt_s", ShapeNone, I32}, I32LtU: {"i32.lt_u", ShapeNone, I32},
	I32GtS: {"i32.gt_s", ShapeNone, I32}, I32GtU: {"i32.gt_u", ShapeNone, I32},
	I32LeS: {"i32.le_s", ShapeNone, I32}, I32LeU: {"i32.le_u", ShapeNone, I32},
	I32GeS: {"i32.ge_s", ShapeNone, I32}, I32GeU: {"i32.ge_u", ShapeNone, I32},

	I64Eqz: {"i64.eqz", ShapeNone, I64}, I64Eq: {"i64.eq", ShapeNone, I64}, I64Ne: {"i64.ne", ShapeNone, I64},
	I64LtS: {"i64.lt_s", ShapeNone, I64}, I64LtU: {"i64.lt_u", ShapeNone, I64},
	I64GtS: {"i64.gt_s", ShapeNone, I64}, I64GtU: {"i64.gt_u", ShapeNone, I64},
	I64LeS: {"i64.le_s", ShapeNone, I64}, I64LeU: {"i64.le_u", ShapeNone, I64},
	I64GeS: {"i64.ge_s", ShapeNone, I64}, I64GeU: {"i64.ge_u", ShapeNone, I64},

	F32Eq: {"f32.eq", ShapeNone, F32}, F32Ne: {"f32.ne", ShapeNone, F32},
	F32Lt: {"f32.lt", ShapeNone, F32}, F32Gt: {"f32.gt", ShapeNone, F32},
	F32Le: {"f32.le", ShapeNone, F32}, F32Ge: {"f32.ge", ShapeNone, F32},
	F64Eq: {"f64.eq", ShapeNone, F64}, F64Ne: {"f64.ne", ShapeNone, F64},
	F64Lt: {"f64.lt", ShapeNone, F64}, F64Gt: {"f64.gt", ShapeNone, F64},
	F64Le: {"f64.le", ShapeNone, F64}, F64Ge: {"f64.ge", ShapeNone, F64},

	I32Clz: {"i32.clz", ShapeNone, I32}, I32Ctz: {"i32.ctz", ShapeNone, I32}, I32Popcnt: {"i32.popcnt", ShapeNone, I32},
	I32Add: {"i32.add", ShapeNone, I32}, I32Sub: {"i32.sub", ShapeNone, I32}, I32Mul: {"i32.mul", ShapeNone, I32},
	I32DivS: {"i32.div_s", ShapeNone, I32}, I32DivU: {"i32.div_u", ShapeNone, I32},
	I32RemS: {"i32.rem_s", ShapeNone, I32}, I32RemU: {"i32.rem_u", ShapeNone, I32},
	I32And: {"i32.and", ShapeNone, I32}, I32Or: {"i32.or", ShapeNone, I32}, I32Xor: {"i32.xor", ShapeNone, I32},
	I32Shl: {"i32.shl", ShapeNone, I32}, I32ShrS: {"i32.shr_s", ShapeNone, I32}, I32ShrU: {"i32.shr_u", ShapeNone, I32},
	I32Rotl: {"i32.rotl", ShapeNone, I32}, I32Rotr: {"i32.rotr", ShapeNone, I32},

	I64Clz: {"i64.clz", ShapeNone, I64}, I64Ctz: {"i64.ctz", ShapeNone, I64}, I64Popcnt: {"i64.popcnt", ShapeNone, I64},
	I64Add: {"i64.add", ShapeNone, I64}, I64Sub: {"i64.sub", ShapeNone, I64}, I64Mul: {"i64.mul", ShapeNone, I64},
	I64DivS: {"i64.div_s", ShapeNone, I64}, I64DivU: {"i64.div_u", ShapeNone, I64},
	I64RemS: {"i64.rem_s", ShapeNone, I64}, I64RemU: {"i64.rem_u", ShapeNone, I64},
	I64And: {"i64.and", ShapeNone, I64}, I64Or: {"i64.or", ShapeNone, I64}, I64Xor: {"i64.xor", ShapeNone, I64},
	I64Shl: {"i64.shl", ShapeNone, I64}, I64ShrS: {"i64.shr_s", ShapeNone, I64}, I64ShrU: {"i64.shr_u", ShapeNone, I64},
	I64Rotl: {"i64.rotl", ShapeNone, I64}, I64Rotr: {"i64.rotr", ShapeNone, I64},

	F32Abs: {"f32.abs", ShapeNone, F32}, F32Neg: {"f32.neg", ShapeNone, F32}, F32Ceil: {"f32.ceil", ShapeNone, F32},
	F32Floor: {"f32.floor", ShapeNone, F32}, F32Trunc: {"f32.trunc", ShapeNone, F32}, F32Nearest: {"f32.nearest", ShapeNone, F32},
	F32Sqrt: {"f32.sqrt", ShapeNone, F32}, F32Add: {"f32.add", ShapeNone, F32}, F32Sub: {"f32.sub", ShapeNone, F32},
	F32Mul: {"f32.mul", ShapeNone, F32}, F32Div: {"f32.div", ShapeNone, F32}, F32Min: {"f32.min", ShapeNone, F32},
	F32Max: {"f32.max", ShapeNone, F32}, F32Copysign: {"f32.copysign", ShapeNone, F32},

	F64Abs: {"f64.abs", ShapeNone, F64}, F64Neg: {"f64.neg", ShapeNone, F64}, F64Ceil: {"f64.ceil", ShapeNone, F64},
	F64Floor: {"f64.floor", ShapeNone, F64}, F64Trunc: {"f64.trunc", ShapeNone, F64}, F64Nearest: {"f64.nearest", ShapeNone, F64},
	F64Sqrt: {"f64.sqrt", ShapeNone, F64}, F64Add: {"f64.add", ShapeNone, F64}, F64Sub: {"f64.sub", ShapeNone, F64},
	F64Mul: {"f64.mul", ShapeNone, F64}, F64Div: {"f64.div", ShapeNone, F64}, F64Min: {"f64.min", ShapeNone, F64},
	F64Max: {"f64.max", ShapeNone, F64}, F64Copysign: {"f64.copysign", ShapeNone, F64},

	I32WrapI64:     {"i32.wrap_i64", ShapeNone, I32},
	I32TruncF32S:   {"i32.trunc_f32_s", ShapeNone, I32},
	I32TruncF32U:   {"i32.trunc_f32_u", ShapeNone, I32},
	I32TruncF64S:   {"i32.trunc_f64_s", ShapeNone, I32},
	I32TruncF64U:   {"i32.trunc_f64_u", ShapeNone, I32},
	I64ExtendI32S:  {"i64.extend_i32_s", ShapeNone, I64},
	I64ExtendI32U:  {"i64.extend_i32_u", ShapeNone, I64},
	I64TruncF32S:   {"i64.trunc_f32_s", ShapeNone, I64},
	I64TruncF32U:   {"i64.trunc_f32_u", ShapeNone, I64},
	I64TruncF64S:   {"i64.trunc_f64_s", ShapeNone, I64},
	I64TruncF64U:   {"i64.trunc_f64_u", ShapeNone, I64},
	F32ConvertI32S: {"f32.convert_i32_s", ShapeNone, F32},
	F32ConvertI32U: {"f32.convert_i32_u", ShapeNone, F32},
	F32ConvertI64S: {"f32.convert_i64_s", ShapeNone, F32},
	F32ConvertI64U: {"f32.convert_i64_u", ShapeNone, F32},
	F32DemoteF64:   {"f32.demote_f64", ShapeNone, F32},
	F64ConvertI32S: {"f64.convert_i32_s", ShapeNone, F64},
	F64ConvertI32U: {"f64.convert_i32_u", ShapeNone, F64},
	F64ConvertI64S: {"f64.convert_i64_s", ShapeNone, F64},
	F64ConvertI64U: {"f64.convert_i64_u", ShapeNone, F64},
	F64PromoteF32:  {"f64.promote_f32", ShapeNone, F64},

	I32ReinterpretF32: {"i32.reinterpret_f32", ShapeNone, I32},
	I64ReinterpretF64: {"i64.reinterpret_f64", ShapeNone, I64},
	F32ReinterpretI32: {"f32.reinterpret_i32", ShapeNone, F32},
	F64ReinterpretI64: {"f64.reinterpret_i64", ShapeNone, F64},
}

// Lookup returns the catalog entry for op, and whether it is known.
func Lookup(op Opcode) (Info, bool) {
	info, ok := table[op]
	return info, ok
}

// byMnemonic is built lazily from table for the text assembler's
// mnemonic -> opcode resolution.
var byMnemonic map[string]Opcode

// FromMnemonic resolves a text mnemonic (e.g. "i32.add") to its opcode.
// Legacy binary mnemonics with a trailing signedness-before-type form
// (e.g. the historical "f32.convert_u/i64") are not accepted here: the
// text format only ever uses the canonical text mnemonic produced by
// CanonicalTextMnemonic.
func FromMnemonic(name string) (Opcode, bool) {
	if byMnemonic == nil {
		byMnemonic = make(map[string]Opcode, len(table))
		for op, info := range table {
			byMnemonic[info.Mnemonic] = op
		}
	}
	op, ok := byMnemonic[name]
	return op, ok
}

// CanonicalTextMnemonic is the total binary-mnemonic -> text-mnemonic
// transform from spec.md §4.4: legacy forms like "f32.convert_u/i64" map
// to "f32.convert_i64_u" (the trailing type slot is substituted before
// the signedness suffix). Since this catalog's mnemonics are already
// stored in canonical text form, this is the identity function for
// every nullary operator in the table. Nothing in this module calls it;
// it converts legacy-style names a caller supplies (e.g. the pre-MVP
// "convert_u/i64" form). Legacy names without a signedness suffix, like
// "i32.wrap/i64", map to "i32.wrap_i64".
func CanonicalTextMnemonic(legacy string) string {
	slashIdx := indexByte(legacy, '/')
	if slashIdx < 0 {
		return legacy
	}
	// "f32.convert_u/i64" -> prefix="f32.convert_u" suffix="i64"
	prefix := legacy[:slashIdx]
	suffix := legacy[slashIdx+1:]
	underscoreIdx := lastIndexByte(prefix, '_')
	if underscoreIdx < 0 {
		return prefix + "_" + suffix
	}
	base := prefix[:underscoreIdx]   // "f32.convert"
	signedness := prefix[underscoreIdx+1:] // "u" or "s"
	return base + "_" + suffix + "_" + signedness
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
