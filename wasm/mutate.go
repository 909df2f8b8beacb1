package wasm

// This file is the §4.3 model-mutation API: accessors that add entries
// in canonical section order and keep paired structures (function
// type-index + code body) at parallel indices. The teacher's Module
// never needed this -- it only ever read modules -- so this is new,
// built directly against the struct shape `wasm/index.go` established.

// EnsureType returns the index of an existing structurally-equal
// FuncType, appending a new one (in canonical type-section position,
// i.e. at the end of Types) if none matches, so identical shapes share
// one type entry. The wat assembler applies the same rule through its
// own ensureType rather than calling this method.
func (m *Module) EnsureType(ft FuncType) uint32 {
	for i, existing := range m.Types {
		if existing.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// AddImport appends imp to the import section and extends the
// corresponding index space. Imports must be added before any local
// definition of the same kind to preserve the imports-then-locals
// ordering invariant; AddImport does not check this ordering.
func (m *Module) AddImport(imp Import) uint32 {
	m.Imports = append(m.Imports, imp)
	switch imp.Desc.Kind {
	case ExternalFunction:
		m.FunctionIndexSpace = append(m.FunctionIndexSpace, imp.Desc.TypeIndex)
		return uint32(len(m.FunctionIndexSpace) - 1)
	case ExternalTable:
		m.TableIndexSpace = append(m.TableIndexSpace, imp.Desc.Table)
		return uint32(len(m.TableIndexSpace) - 1)
	case ExternalMemory:
		m.MemoryIndexSpace = append(m.MemoryIndexSpace, imp.Desc.Memory)
		return uint32(len(m.MemoryIndexSpace) - 1)
	case ExternalGlobal:
		m.GlobalIndexSpace = append(m.GlobalIndexSpace, imp.Desc.Global)
		return uint32(len(m.GlobalIndexSpace) - 1)
	}
	return 0
}

// AddFunction appends a local function: one type-index slot in the
// function section and one body in the code section, at parallel
// indices, as spec.md §4.3 requires. Returns the function's index in
// the function index space.
func (m *Module) AddFunction(typeIndex uint32, body Code) uint32 {
	m.Funcs = append(m.Funcs, Function{TypeIndex: typeIndex, Body: body})
	m.FunctionIndexSpace = append(m.FunctionIndexSpace, typeIndex)
	return uint32(len(m.FunctionIndexSpace) - 1)
}

// AddTable appends a local table and returns its index space slot.
func (m *Module) AddTable(t TableType) uint32 {
	m.Tables = append(m.Tables, Table{Type: t})
	m.TableIndexSpace = append(m.TableIndexSpace, t)
	return uint32(len(m.TableIndexSpace) - 1)
}

// AddMemory appends a local memory and returns its index space slot.
func (m *Module) AddMemory(t MemoryType) uint32 {
	m.Mems = append(m.Mems, Memory{Type: t})
	m.MemoryIndexSpace = append(m.MemoryIndexSpace, t)
	return uint32(len(m.MemoryIndexSpace) - 1)
}

// AddGlobal appends a local global and returns its index space slot.
func (m *Module) AddGlobal(t GlobalType, init []byte) uint32 {
	m.Globals = append(m.Globals, Global{Type: t, Init: init})
	m.GlobalIndexSpace = append(m.GlobalIndexSpace, t)
	return uint32(len(m.GlobalIndexSpace) - 1)
}

// AddExport appends an export entry, rejecting a name already exported
// (spec.md §7's ValidationError "duplicate export name").
func (m *Module) AddExport(e Export) error {
	for _, existing := range m.Exports {
		if existing.Name == e.Name {
			return invalid("duplicate export name %q", e.Name)
		}
	}
	m.Exports = append(m.Exports, e)
	return nil
}

// SetStart sets the start function index. Per spec.md §3, callers must
// ensure the referenced function has type `[] -> []`; neither SetStart
// nor the wat assembler's start-field handling checks it.
func (m *Module) SetStart(idx uint32) {
	m.HasStart = true
	m.Start = idx
}

// AddElement appends an element segment.
func (m *Module) AddElement(seg ElementSegment) {
	m.Elements = append(m.Elements, seg)
}

// AddData appends a data segment.
func (m *Module) AddData(seg DataSegment) {
	m.Data = append(m.Data, seg)
}
