package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywasm/tinywasm/vm"
	"github.com/tinywasm/tinywasm/wasm"
	"github.com/tinywasm/tinywasm/wat"
)

func mustInstantiate(t *testing.T, src string, importer vm.Importer) *vm.Instance {
	t.Helper()
	mod, err := wat.Assemble(src)
	require.NoError(t, err)
	inst, err := vm.Instantiate(mod, vm.DefaultPolicy(), &vm.Gas{}, importer)
	require.NoError(t, err)
	return inst
}

func TestInvokeAdd(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $add (export "add") (param $a i32) (param $b i32) (result i32)
	    local.get $a
	    local.get $b
	    i32.add))`
	inst := mustInstantiate(t, src, nil)

	result, err := inst.Invoke("add", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), result)
}

func TestInvokeCountdownLoop(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $countdown (export "countdown") (param $n i32) (result i32)
	    (local $i i32)
	    local.get $n
	    local.set $i
	    block $done
	      loop $again
	        local.get $i
	        i32.eqz
	        br_if $done
	        local.get $i
	        i32.const 1
	        i32.sub
	        local.set $i
	        br $again
	      end
	    end
	    local.get $i))`
	inst := mustInstantiate(t, src, nil)

	result, err := inst.Invoke("countdown", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result)
}

func TestInvokeLoopWithResultDiscardsValueAcrossBranch(t *testing.T) {
	t.Parallel()

	// A (loop (result i32) ...) that branches back to its own label with
	// br_if. At the br_if, the value stack holds only the branch
	// condition (already popped by br_if, leaving the stack exactly at
	// the loop's basePointer) -- a branch *to* a loop must use arity 0
	// (its parameter count), not its declared result arity 1, since
	// branching to a loop resumes at its start, before any result could
	// exist. Using the declared result arity here would try to take one
	// value off an already-empty stack. The declared i32 result is only
	// produced when the loop falls off its own `end` normally, on the
	// final, non-branching iteration.
	src := `
	(module
	  (func $countdown3 (export "countdown3") (result i32)
	    (local $i i32)
	    i32.const 3
	    local.set $i
	    loop $again (result i32)
	      local.get $i
	      i32.const 1
	      i32.sub
	      local.tee $i
	      i32.const 0
	      i32.gt_s
	      br_if $again
	      local.get $i
	    end))`
	inst := mustInstantiate(t, src, nil)

	result, err := inst.Invoke("countdown3")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result)
}

func TestInvokeIfElse(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $abs (export "abs") (param $x i32) (result i32)
	    local.get $x
	    i32.const 0
	    i32.lt_s
	    if (result i32)
	      i32.const 0
	      local.get $x
	      i32.sub
	    else
	      local.get $x
	    end))`
	inst := mustInstantiate(t, src, nil)

	result, err := inst.Invoke("abs", uint64(int32(-9)))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), result)

	result, err = inst.Invoke("abs", 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), result)
}

func TestInvokeDivideByZeroTraps(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $div (export "div") (param $a i32) (param $b i32) (result i32)
	    local.get $a
	    local.get $b
	    i32.div_s))`
	inst := mustInstantiate(t, src, nil)

	_, err := inst.Invoke("div", 10, 0)
	require.Error(t, err)
	assert.Equal(t, vm.TrapIntegerDivideByZero, err.Error())
}

func TestMemoryStoreThenLoad(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (memory (export "mem") 1)
	  (func $poke (export "poke") (param $addr i32) (param $val i32)
	    local.get $addr
	    local.get $val
	    i32.store)
	  (func $peek (export "peek") (param $addr i32) (result i32)
	    local.get $addr
	    i32.load))`
	inst := mustInstantiate(t, src, nil)

	_, err := inst.Invoke("poke", 8, 123)
	require.NoError(t, err)
	result, err := inst.Invoke("peek", 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(123), result)
}

func TestMemoryLoadOutOfBoundsTraps(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (memory 1)
	  (func $peek (export "peek") (param $addr i32) (result i32)
	    local.get $addr
	    i32.load))`
	inst := mustInstantiate(t, src, nil)

	_, err := inst.Invoke("peek", 1<<20)
	require.Error(t, err)
	assert.Equal(t, vm.TrapOutOfBoundsMemory, err.Error())
}

func TestGlobalGetSet(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (global $counter (export "counter") (mut i32) (i32.const 10))
	  (func $bump (export "bump") (result i32)
	    global.get $counter
	    i32.const 1
	    i32.add
	    global.set $counter
	    global.get $counter))`
	inst := mustInstantiate(t, src, nil)

	result, err := inst.Invoke("bump")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), result)
	result, err = inst.Invoke("bump")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), result)
}

// stubImporter satisfies vm.Importer with a single host function that
// increments its argument by one.
type stubImporter struct{}

func (stubImporter) ImportFunction(module, name string, expected wasm.FuncType) (vm.Callable, error) {
	if module == "env" && name == "bump" {
		return func(args []uint64) ([]uint64, *vm.Trap) {
			return []uint64{args[0] + 1}, nil
		}, nil
	}
	return nil, vm.ErrImport
}

func (stubImporter) ImportGlobal(module, name string, expected wasm.GlobalType) (*vm.Global, error) {
	return nil, vm.ErrImport
}

func (stubImporter) ImportMemory(module, name string, expected wasm.MemoryType) (*vm.Memory, error) {
	return nil, vm.ErrImport
}

func (stubImporter) ImportTable(module, name string, expected wasm.TableType) (*vm.Table, error) {
	return nil, vm.ErrImport
}

func TestImportedHostFunction(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (import "env" "bump" (func $bump (param i32) (result i32)))
	  (func $callBump (export "callBump") (param $x i32) (result i32)
	    local.get $x
	    call $bump))`
	inst := mustInstantiate(t, src, stubImporter{})

	result, err := inst.Invoke("callBump", 41)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result)
}

func TestInstantiateFailsOnMissingImport(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (import "env" "missing" (func $m (param i32))))`
	mod, err := wat.Assemble(src)
	require.NoError(t, err)

	_, err = vm.Instantiate(mod, vm.DefaultPolicy(), &vm.Gas{}, vm.EmptyImporter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, vm.ErrImport)
}

func TestGasLimitExhaustsExecution(t *testing.T) {
	t.Parallel()

	src := `
	(module
	  (func $spin (export "spin") (result i32)
	    (local $i i32)
	    i32.const 0
	    local.set $i
	    block $done
	      loop $again
	        local.get $i
	        i32.const 1000
	        i32.ge_s
	        br_if $done
	        local.get $i
	        i32.const 1
	        i32.add
	        local.set $i
	        br $again
	      end
	    end
	    local.get $i))`
	mod, err := wat.Assemble(src)
	require.NoError(t, err)

	policy := vm.DefaultPolicy()
	policy.GasPolicy = &vm.SimpleGasPolicy{}
	inst, err := vm.Instantiate(mod, policy, &vm.Gas{Limit: 10}, nil)
	require.NoError(t, err)

	_, err = inst.Invoke("spin")
	require.Error(t, err)
}

func TestMemoryGrow(t *testing.T) {
	t.Parallel()

	m := vm.NewMemory(wasm.Limits{Initial: 1, Maximum: 2, HasMax: true})
	assert.Equal(t, uint32(1), m.Pages())

	prev := m.Grow(1, 0)
	assert.Equal(t, int32(1), prev)
	assert.Equal(t, uint32(2), m.Pages())

	assert.Equal(t, int32(-1), m.Grow(1, 0))
}

func TestTableSize(t *testing.T) {
	t.Parallel()

	tbl := vm.NewTable(wasm.Limits{Initial: 4})
	assert.Equal(t, uint32(4), tbl.Size())
}
