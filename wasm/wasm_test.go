package wasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAddModule constructs, via the mutation API, a module exporting a
// single function `add` of type (i32, i32) -> i32 whose body is
// local.get 0; local.get 1; i32.add; end.
func buildAddModule(t *testing.T) *Module {
	t.Helper()
	m := &Module{}
	typeIdx := m.EnsureType(FuncType{
		Params:  []ValueType{ValueTypeI32, ValueTypeI32},
		Results: []ValueType{ValueTypeI32},
	})
	body := Code{
		Instructions: []byte{
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a,       // i32.add
			0x0b,       // end
		},
	}
	fnIdx := m.AddFunction(typeIdx, body)
	require.NoError(t, m.AddExport(Export{Name: "add", Kind: ExternalFunction, Index: fnIdx}))
	return m
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()

	m := buildAddModule(t)
	encoded := Write(m)

	got, err := ReadModule(bytes.NewReader(encoded))
	require.NoError(t, err)

	require.Len(t, got.Types, 1)
	assert.Equal(t, []ValueType{ValueTypeI32, ValueTypeI32}, got.Types[0].Params)
	assert.Equal(t, []ValueType{ValueTypeI32}, got.Types[0].Results)
	require.Len(t, got.Funcs, 1)
	assert.Equal(t, m.Funcs[0].Body.Instructions, got.Funcs[0].Body.Instructions)
	require.Len(t, got.Exports, 1)
	assert.Equal(t, "add", got.Exports[0].Name)
	assert.Equal(t, uint32(0), got.Exports[0].Index)
	require.Len(t, got.FunctionIndexSpace, 1)
}

func TestReadModuleRejectsBadMagic(t *testing.T) {
	t.Parallel()

	_, err := ReadModule(bytes.NewReader([]byte{0, 1, 2, 3, 1, 0, 0, 0}))
	require.Error(t, err)
}

func TestReadModuleRejectsBadVersion(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}
	_, err := ReadModule(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestEnsureTypeDedups(t *testing.T) {
	t.Parallel()

	m := &Module{}
	a := m.EnsureType(FuncType{Params: []ValueType{ValueTypeI32}})
	b := m.EnsureType(FuncType{Params: []ValueType{ValueTypeI32}})
	c := m.EnsureType(FuncType{Params: []ValueType{ValueTypeI64}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, m.Types, 2)
}

func TestAddExportRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	m := &Module{}
	require.NoError(t, m.AddExport(Export{Name: "f", Kind: ExternalFunction, Index: 0}))
	err := m.AddExport(Export{Name: "f", Kind: ExternalFunction, Index: 1})
	assert.Error(t, err)
}

func TestImportsPrecedeLocalsInIndexSpace(t *testing.T) {
	t.Parallel()

	m := &Module{}
	typeIdx := m.EnsureType(FuncType{})
	impIdx := m.AddImport(Import{Module: "env", Field: "log", Desc: ImportDesc{Kind: ExternalFunction, TypeIndex: typeIdx}})
	localIdx := m.AddFunction(typeIdx, Code{Instructions: []byte{0x0b}})

	assert.Equal(t, uint32(0), impIdx)
	assert.Equal(t, uint32(1), localIdx)
	assert.Equal(t, 1, m.NumImportedFuncs())

	local, ok := m.LocalFuncIndex(localIdx)
	require.True(t, ok)
	assert.Equal(t, 0, local)

	_, ok = m.LocalFuncIndex(impIdx)
	assert.False(t, ok)
}

func TestExecInitExprI32Const(t *testing.T) {
	t.Parallel()

	m := &Module{}
	expr := []byte{0x41, 0x7b, 0x0b} // i32.const -5; end
	v, err := m.ExecInitExpr(expr, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-5), v)
}

func TestExecInitExprRejectsNonConstOpcode(t *testing.T) {
	t.Parallel()

	m := &Module{}
	_, err := m.ExecInitExpr([]byte{0x20, 0x00, 0x0b}, nil)
	assert.Error(t, err)
}

func TestValueTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "i32", ValueTypeI32.String())
	assert.Equal(t, "f64", ValueTypeF64.String())
}

func TestFuncTypeEqual(t *testing.T) {
	t.Parallel()

	a := FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	b := FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	c := FuncType{Params: []ValueType{ValueTypeI64}, Results: []ValueType{ValueTypeI32}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
