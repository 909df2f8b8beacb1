// Package vm is the stack-machine interpreter: instantiation (import
// resolution, memory/table/global allocation, data/element segment
// initialization, start-function invocation) and execution (the
// fetch-decode-execute loop over a module's function bodies), per §4.7
// and §6 of the design. Adapted from the teacher's `vertexvm` package --
// same shared value-stack/block-stack layout, same Frame/Block/Gas
// shapes -- generalized onto tinywasm's own wasm.Module instead of
// wagon's, and onto a pluggable Importer instead of a single host-map.
package vm

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/tinywasm/tinywasm/wasm"
)

// Log is the narrowed logging interface the instance writes diagnostics
// through -- a subset of logrus.FieldLogger, so any *logrus.Logger or
// *logrus.Entry satisfies it without adapter code. A nil Log is valid
// and silently drops diagnostics.
type Log interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// Instance is an instantiated module: its allocated memories, tables,
// globals and functions (imported and local alike, addressed through
// the same index spaces wasm.Module computed), plus the shared
// execution state the interpreter mutates as it runs.
type Instance struct {
	Module *wasm.Module
	Funcs  []Callable
	Tables []*Table
	Mems   []*Memory
	Globals []*Global

	Policy Policy
	Gas    *Gas
	Log    Log

	stack     []uint64
	blocks    []*Block
	callDepth int
}

// NewVM parses a binary module and instantiates it in one step.
func NewVM(data []byte, policy Policy, gas *Gas, importer Importer) (*Instance, error) {
	module, err := wasm.ReadModule(bytesReader(data))
	if err != nil {
		return nil, err
	}
	return Instantiate(module, policy, gas, importer)
}

// bytesReader avoids importing bytes just for this one call site's
// io.Reader conversion.
func bytesReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// Instantiate implements spec.md §4.7's fixed instantiation order:
// resolve imports (each importer is handed the declared type; Instantiate
// itself does not check the returned function, global, memory or table
// against it), allocate local memories/tables/globals, evaluate global
// initializers (which may
// only reference already-imported globals), copy element and data
// segments (aborting atomically on any out-of-bounds offset, per the
// edge case the spec calls out), and finally invoke the start function
// if one is declared.
func Instantiate(module *wasm.Module, policy Policy, gas *Gas, importer Importer) (*Instance, error) {
	inst := &Instance{
		Module: module,
		Policy: policy,
		Gas:    gas,
		Log:    logrus.StandardLogger(),
	}
	if importer == nil {
		importer = EmptyImporter{}
	}

	var importedGlobalBits []interface{}
	for _, imp := range module.Imports {
		switch imp.Desc.Kind {
		case wasm.ExternalFunction:
			ft, _ := module.Types[imp.Desc.TypeIndex], true
			fn, err := importer.ImportFunction(imp.Module, imp.Field, ft)
			if err != nil {
				return nil, err
			}
			inst.Funcs = append(inst.Funcs, fn)
		case wasm.ExternalTable:
			t, err := importer.ImportTable(imp.Module, imp.Field, imp.Desc.Table)
			if err != nil {
				return nil, err
			}
			inst.Tables = append(inst.Tables, t)
		case wasm.ExternalMemory:
			m, err := importer.ImportMemory(imp.Module, imp.Field, imp.Desc.Memory)
			if err != nil {
				return nil, err
			}
			inst.Mems = append(inst.Mems, m)
		case wasm.ExternalGlobal:
			g, err := importer.ImportGlobal(imp.Module, imp.Field, imp.Desc.Global)
			if err != nil {
				return nil, err
			}
			inst.Globals = append(inst.Globals, g)
			importedGlobalBits = append(importedGlobalBits, g.Value)
		}
	}

	for _, t := range module.Tables {
		inst.Tables = append(inst.Tables, NewTable(t.Type.Limits))
	}
	for _, m := range module.Mems {
		inst.Mems = append(inst.Mems, NewMemory(m.Type.Limits))
	}
	for _, g := range module.Globals {
		v, err := module.ExecInitExpr(g.Init, importedGlobalBits)
		if err != nil {
			return nil, err
		}
		inst.Globals = append(inst.Globals, &Global{Value: toBits(v), Type: g.Type})
	}

	// Local functions become Callables last, once inst.Funcs/Tables/Mems/
	// Globals all have their final addresses -- every closure below
	// captures inst by pointer, not by value, so later mutation (growing
	// a table, say) is visible to already-built closures.
	for i, fn := range module.Funcs {
		localIdx := module.NumImportedFuncs() + i
		ft, _ := module.TypeOf(uint32(localIdx))
		inst.Funcs = append(inst.Funcs, inst.makeLocalCallable(ft, fn.Body))
	}

	for _, seg := range module.Elements {
		offsetV, err := module.ExecInitExpr(seg.Offset, importedGlobalBits)
		if err != nil {
			return nil, err
		}
		offset := uint32(toBits(offsetV))
		if int(seg.TableIndex) >= len(inst.Tables) {
			return nil, fmt.Errorf("vm: element segment references unknown table %d", seg.TableIndex)
		}
		table := inst.Tables[seg.TableIndex]
		if uint64(offset)+uint64(len(seg.Functions)) > uint64(len(table.elems)) {
			return nil, fmt.Errorf("vm: element segment out of bounds")
		}
		for i, funcIdx := range seg.Functions {
			ft, _ := module.TypeOf(funcIdx)
			typeIdx := module.FunctionIndexSpace[funcIdx]
			_ = ft
			table.elems[int(offset)+i] = &TableElem{Fn: inst.Funcs[funcIdx], TypeIndex: typeIdx}
		}
	}

	for _, seg := range module.Data {
		offsetV, err := module.ExecInitExpr(seg.Offset, importedGlobalBits)
		if err != nil {
			return nil, err
		}
		offset := uint32(toBits(offsetV))
		if int(seg.MemoryIndex) >= len(inst.Mems) {
			return nil, fmt.Errorf("vm: data segment references unknown memory %d", seg.MemoryIndex)
		}
		mem := inst.Mems[seg.MemoryIndex]
		if uint64(offset)+uint64(len(seg.Bytes)) > uint64(len(mem.data)) {
			return nil, fmt.Errorf("vm: data segment out of bounds")
		}
		copy(mem.data[offset:], seg.Bytes)
	}

	if module.HasStart {
		if int(module.Start) >= len(inst.Funcs) {
			return nil, fmt.Errorf("vm: start function index %d out of range", module.Start)
		}
		if _, trap := inst.Funcs[module.Start](nil); trap != nil {
			return nil, trap
		}
	}

	return inst, nil
}

// toBits reinterprets an ExecInitExpr result (int32/int64/uint32/uint64,
// per the constant-producing opcode that evaluated it) as the raw bit
// pattern the interpreter's stack represents every value with.
func toBits(v interface{}) uint64 {
	switch x := v.(type) {
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	default:
		return 0
	}
}

// makeLocalCallable closes over a local function's body, producing the
// Callable the rest of the interpreter (calls, element segments, exports,
// the start function) invokes uniformly alongside host-imported
// Callables.
func (inst *Instance) makeLocalCallable(ft wasm.FuncType, body wasm.Code) Callable {
	return func(args []uint64) ([]uint64, *Trap) {
		if len(args) != len(ft.Params) {
			return nil, newTrap(TrapUnreachable, ErrWrongNumberOfArgs.Error())
		}
		if inst.callDepth >= inst.Policy.MaxCallStackDepth {
			return nil, newTrap(TrapCallStackExhausted, "max call depth exceeded")
		}
		inst.callDepth++
		defer func() { inst.callDepth-- }()

		locals := make([]uint64, len(args))
		copy(locals, args)
		for _, grp := range body.Locals {
			for i := uint32(0); i < grp.Count; i++ {
				locals = append(locals, 0)
			}
		}

		basePointer := len(inst.stack)
		baseBlockIndex := len(inst.blocks)
		frame := NewFrame(body.Instructions, locals, basePointer, baseBlockIndex)
		inst.blocks = append(inst.blocks, NewBlock(len(body.Instructions), blockPlain, len(ft.Results) == 1, resultTypeOf(ft), basePointer))

		trap := inst.run(frame)

		inst.blocks = inst.blocks[:baseBlockIndex]

		results := make([]uint64, len(ft.Results))
		if trap == nil {
			copy(results, inst.stack[len(inst.stack)-len(ft.Results):])
		}
		inst.stack = inst.stack[:basePointer]
		if trap != nil {
			return nil, trap
		}
		return results, nil
	}
}

func resultTypeOf(ft wasm.FuncType) wasm.ValueType {
	if len(ft.Results) == 0 {
		return 0
	}
	return ft.Results[0]
}

// Invoke calls the named exported function with the given raw-bit
// arguments, returning its single raw-bit result (0 if the function
// declares no result, per the MVP's at-most-one-result restriction).
func (inst *Instance) Invoke(name string, args ...uint64) (uint64, error) {
	idx, ok := inst.GetFunctionIndex(name)
	if !ok {
		return 0, ErrFuncNotFound
	}
	results, trap := inst.Funcs[idx](args)
	if trap != nil {
		return 0, trap
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// GetFunctionIndex resolves an exported function name to an index into
// Funcs.
func (inst *Instance) GetFunctionIndex(name string) (int64, bool) {
	for _, exp := range inst.Module.Exports {
		if exp.Kind == wasm.ExternalFunction && exp.Name == name {
			return int64(exp.Index), true
		}
	}
	return 0, false
}

// MemSize reports memory 0's size in bytes.
func (inst *Instance) MemSize() uint32 {
	if len(inst.Mems) == 0 {
		return 0
	}
	return uint32(len(inst.Mems[0].data))
}

// MemRead copies len(buf) bytes from memory 0 starting at offset into
// buf, returning io.ErrShortBuffer if the memory doesn't extend that far.
func (inst *Instance) MemRead(buf []byte, offset uint32) (int, error) {
	if len(inst.Mems) == 0 {
		return 0, io.ErrShortBuffer
	}
	data := inst.Mems[0].data
	if uint64(offset)+uint64(len(buf)) > uint64(len(data)) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, data[offset:]), nil
}

// MemWrite copies buf into memory 0 starting at offset, returning
// io.ErrShortWrite if the memory doesn't extend that far.
func (inst *Instance) MemWrite(buf []byte, offset uint32) (int, error) {
	if len(inst.Mems) == 0 {
		return 0, io.ErrShortWrite
	}
	data := inst.Mems[0].data
	if uint64(offset)+uint64(len(buf)) > uint64(len(data)) {
		return 0, io.ErrShortWrite
	}
	return copy(data[offset:], buf), nil
}
