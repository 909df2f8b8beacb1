package spectest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywasm/tinywasm/wasm"
)

func TestImportGlobals(t *testing.T) {
	t.Parallel()

	s := New(nil)
	g, err := s.ImportGlobal("spectest", "global_i32", wasm.GlobalType{Type: wasm.ValueTypeI32})
	require.NoError(t, err)
	assert.Equal(t, uint64(666), g.Value)

	_, err = s.ImportGlobal("spectest", "nope", wasm.GlobalType{})
	assert.ErrorIs(t, err, ErrUnknownImport)
}

func TestImportMemoryAndTable(t *testing.T) {
	t.Parallel()

	s := New(nil)
	mem, err := s.ImportMemory("spectest", "memory", wasm.MemoryType{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mem.Pages())

	tbl, err := s.ImportTable("spectest", "table", wasm.TableType{})
	require.NoError(t, err)
	assert.Equal(t, uint32(10), tbl.Size())
}

func TestImportPrintFunctions(t *testing.T) {
	t.Parallel()

	s := New(nil)
	fn, err := s.ImportFunction("spectest", "print_i32", wasm.FuncType{})
	require.NoError(t, err)
	results, trap := fn([]uint64{42})
	assert.Nil(t, trap)
	assert.Empty(t, results)
}

func TestImportRejectsOtherModules(t *testing.T) {
	t.Parallel()

	s := New(nil)
	_, err := s.ImportFunction("env", "whatever", wasm.FuncType{})
	assert.ErrorIs(t, err, ErrUnknownImport)
}
