package vm

import (
	"errors"
	"fmt"

	"github.com/tinywasm/tinywasm/wasm"
)

// ErrImport wraps the failures of this package's importers when they
// cannot supply a requested import. Instantiate performs no
// compatibility check of its own on what an importer returns.
var ErrImport = errors.New("vm: import error")

func importErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrImport}, args...)...)
}

// Importer is the §6 contract: the four operations an instantiating
// module may need, one per external kind. A nil return with a nil error
// is never valid -- implementations signal "no such import" by
// returning a non-nil error.
type Importer interface {
	ImportFunction(module, name string, expected wasm.FuncType) (Callable, error)
	ImportGlobal(module, name string, expected wasm.GlobalType) (*Global, error)
	ImportMemory(module, name string, expected wasm.MemoryType) (*Memory, error)
	ImportTable(module, name string, expected wasm.TableType) (*Table, error)
}

// NamespacedImporter composes multiple Importers keyed by module name,
// the pattern design note §9 calls out ("the namespaced importer
// composes multiple by module-name prefix").
type NamespacedImporter struct {
	byModule map[string]Importer
}

// NewNamespacedImporter builds a NamespacedImporter from a module-name
// keyed map of delegate importers.
func NewNamespacedImporter(byModule map[string]Importer) *NamespacedImporter {
	return &NamespacedImporter{byModule: byModule}
}

func (n *NamespacedImporter) delegate(module string) (Importer, error) {
	d, ok := n.byModule[module]
	if !ok {
		return nil, importErr("no importer registered for module %q", module)
	}
	return d, nil
}

func (n *NamespacedImporter) ImportFunction(module, name string, expected wasm.FuncType) (Callable, error) {
	d, err := n.delegate(module)
	if err != nil {
		return nil, err
	}
	return d.ImportFunction(module, name, expected)
}

func (n *NamespacedImporter) ImportGlobal(module, name string, expected wasm.GlobalType) (*Global, error) {
	d, err := n.delegate(module)
	if err != nil {
		return nil, err
	}
	return d.ImportGlobal(module, name, expected)
}

func (n *NamespacedImporter) ImportMemory(module, name string, expected wasm.MemoryType) (*Memory, error) {
	d, err := n.delegate(module)
	if err != nil {
		return nil, err
	}
	return d.ImportMemory(module, name, expected)
}

func (n *NamespacedImporter) ImportTable(module, name string, expected wasm.TableType) (*Table, error) {
	d, err := n.delegate(module)
	if err != nil {
		return nil, err
	}
	return d.ImportTable(module, name, expected)
}

// EmptyImporter rejects every import; useful for modules known to have
// none (spec.md §8 scenario 4's "instantiate with the empty importer").
type EmptyImporter struct{}

func (EmptyImporter) ImportFunction(module, name string, expected wasm.FuncType) (Callable, error) {
	return nil, importErr("no imports available, requested %s.%s", module, name)
}

func (EmptyImporter) ImportGlobal(module, name string, expected wasm.GlobalType) (*Global, error) {
	return nil, importErr("no imports available, requested %s.%s", module, name)
}

func (EmptyImporter) ImportMemory(module, name string, expected wasm.MemoryType) (*Memory, error) {
	return nil, importErr("no imports available, requested %s.%s", module, name)
}

func (EmptyImporter) ImportTable(module, name string, expected wasm.TableType) (*Table, error) {
	return nil, importErr("no imports available, requested %s.%s", module, name)
}
