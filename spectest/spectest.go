// Package spectest is the fixed "spectest" host module the upstream
// WebAssembly test suite imports from: a handful of print functions
// that log their arguments through the Importer's Log (or do nothing
// when it is nil) and return nothing, three globals, one memory, and one
// table, all with the shapes the suite's .wast fixtures declare.
// Grounded on the teacher's vm_test.go TestResolver, whose spectest
// case already special-cased exactly this module name; promoted here
// into a reusable vm.Importer instead of a test-local switch so
// cmd/tinywasm's --spectest flag and the vm package's own tests can
// both construct one.
package spectest

import (
	"errors"
	"fmt"

	"github.com/tinywasm/tinywasm/vm"
	"github.com/tinywasm/tinywasm/wasm"
)

// Importer implements vm.Importer for the "spectest" host module. Every
// other module name is rejected; callers wanting both spectest and
// application-specific imports should compose this behind a
// vm.NamespacedImporter keyed by module name.
type Importer struct {
	Log vm.Log

	globalI32 *vm.Global
	globalF32 *vm.Global
	globalF64 *vm.Global
	memory    *vm.Memory
	table     *vm.Table
}

// ErrUnknownImport reports a module/name pair spectest does not define.
var ErrUnknownImport = errors.New("spectest: unknown import")

// New builds a spectest Importer. log may be nil, in which case print
// functions are pure no-ops.
func New(log vm.Log) *Importer {
	return &Importer{Log: log}
}

func (s *Importer) ImportFunction(module, name string, expected wasm.FuncType) (vm.Callable, error) {
	if module != "spectest" {
		return nil, fmt.Errorf("%w: module %q", ErrUnknownImport, module)
	}
	switch name {
	case "print", "print_i32", "print_i64", "print_f32", "print_f64", "print_i32_f32", "print_f64_f64":
		logFn := s.Log
		label := name
		return func(args []uint64) ([]uint64, *vm.Trap) {
			if logFn != nil {
				logFn.Infof("spectest.%s%v", label, args)
			}
			return nil, nil
		}, nil
	}
	return nil, fmt.Errorf("%w: spectest.%s", ErrUnknownImport, name)
}

func (s *Importer) ImportGlobal(module, name string, expected wasm.GlobalType) (*vm.Global, error) {
	if module != "spectest" {
		return nil, fmt.Errorf("%w: module %q", ErrUnknownImport, module)
	}
	switch name {
	case "global_i32":
		if s.globalI32 == nil {
			s.globalI32 = &vm.Global{Value: 666, Type: wasm.GlobalType{Type: wasm.ValueTypeI32, Mutable: false}}
		}
		return s.globalI32, nil
	case "global_f32":
		if s.globalF32 == nil {
			s.globalF32 = &vm.Global{Value: 0, Type: wasm.GlobalType{Type: wasm.ValueTypeF32, Mutable: false}}
		}
		return s.globalF32, nil
	case "global_f64":
		if s.globalF64 == nil {
			s.globalF64 = &vm.Global{Value: 0, Type: wasm.GlobalType{Type: wasm.ValueTypeF64, Mutable: false}}
		}
		return s.globalF64, nil
	}
	return nil, fmt.Errorf("%w: spectest.%s", ErrUnknownImport, name)
}

// spectest's fixed memory: 1 initial page, 2 maximum.
func (s *Importer) ImportMemory(module, name string, expected wasm.MemoryType) (*vm.Memory, error) {
	if module != "spectest" || name != "memory" {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownImport, module, name)
	}
	if s.memory == nil {
		s.memory = vm.NewMemory(wasm.Limits{Initial: 1, Maximum: 2, HasMax: true})
	}
	return s.memory, nil
}

// spectest's fixed table: 10 initial funcref slots, 20 maximum.
func (s *Importer) ImportTable(module, name string, expected wasm.TableType) (*vm.Table, error) {
	if module != "spectest" || name != "table" {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownImport, module, name)
	}
	if s.table == nil {
		s.table = vm.NewTable(wasm.Limits{Initial: 10, Maximum: 20, HasMax: true})
	}
	return s.table, nil
}
