// Package number implements the scalar arithmetic support the
// interpreter leans on for trapping float-to-int conversions and
// integer range limits: the teacher's own `number` package kept this
// logic separate from `vm` so it could be unit-tested without a whole
// VM, and tinywasm keeps that separation.
package number

// Type tags the source/destination of a truncating conversion. It is
// deliberately wider than wasm.ValueType (distinguishing signed I32/I64
// from unsigned U32/U64) because `trunc_f.._u` and `trunc_f.._s` have
// different valid ranges over the same bit width.
type Type int

const (
	I32 Type = iota
	I64
	U32
	U64
	F32
	F64
)

// TrapCode distinguishes the two ways a truncating conversion can fail,
// matching spec.md §4.7's "trap on NaN and on values outside the
// destination range".
type TrapCode int

const (
	NoTrap TrapCode = iota
	NanTrap
	ConvertTrap
)
