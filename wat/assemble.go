package wat

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/tinywasm/tinywasm/leb128"
	"github.com/tinywasm/tinywasm/number"
	"github.com/tinywasm/tinywasm/opcode"
	"github.com/tinywasm/tinywasm/wasm"
)

// Assembler turns one parsed `(module ...)` form into a *wasm.Module. It
// runs in two passes over the module's top-level fields: the first
// assigns every named type/func/table/memory/global an index (imports
// before locally-declared items of the same kind, per the binary
// format's index-space rule, regardless of their textual order); the
// second emits the actual section contents, resolving every `$id`
// operand against the maps pass one built. This sidesteps the
// byte-patching approach an in-place single pass would need: since our
// own leb128 codec rejects non-canonical (padded) encodings, a forward
// reference cannot be patched after the fact without re-encoding
// everything downstream of it anyway.
type Assembler struct {
	module *wasm.Module

	typeIDs   map[string]uint32
	funcIDs   map[string]uint32
	tableIDs  map[string]uint32
	memIDs    map[string]uint32
	globalIDs map[string]uint32

	nextFuncIdx   uint32
	nextTableIdx  uint32
	nextMemIdx    uint32
	nextGlobalIdx uint32
}

// Assemble lexes, parses, and assembles source text into a module.
func Assemble(src string) (*wasm.Module, error) {
	nodes, err := ParseProgram(src)
	if err != nil {
		return nil, err
	}
	var modNode *Node
	for _, n := range nodes {
		if !n.Atom && n.Head() == "module" {
			modNode = n
			break
		}
	}
	if modNode == nil {
		return nil, syntaxErr("no (module ...) form found")
	}
	return AssembleModule(modNode)
}

// AssembleModule assembles an already-parsed `(module ...)` Node.
func AssembleModule(modNode *Node) (*wasm.Module, error) {
	a := &Assembler{
		module:    &wasm.Module{},
		typeIDs:   map[string]uint32{},
		funcIDs:   map[string]uint32{},
		tableIDs:  map[string]uint32{},
		memIDs:    map[string]uint32{},
		globalIDs: map[string]uint32{},
	}
	fields := modNode.Rest()

	// Pass 0: explicit (type ...) forms, so func signatures can reference
	// them by $id or index before any func is processed.
	for _, f := range fields {
		if f.Head() == "type" {
			if err := a.declareType(f); err != nil {
				return nil, err
			}
		}
	}

	// Pass 1: imports first (explicit (import ...) forms and inline
	// import sugar on func/table/memory/global), in textual order within
	// each kind, establishing the front of every index space.
	for _, f := range fields {
		if err := a.declareImports(f); err != nil {
			return nil, err
		}
	}
	// Pass 1b: locally declared func/table/memory/global identifiers.
	for _, f := range fields {
		if err := a.declareLocals(f); err != nil {
			return nil, err
		}
	}

	// Pass 2: emit everything now that every identifier resolves.
	for _, f := range fields {
		if err := a.assembleField(f); err != nil {
			return nil, err
		}
	}

	a.buildIndexSpacesPublic()
	return a.module, nil
}

func (a *Assembler) buildIndexSpacesPublic() {
	// Module's own buildIndexSpaces is unexported and runs at binary-read
	// time; the assembler populates the same derived fields directly so
	// callers see a fully-formed Module regardless of how it was built.
	a.module.FunctionIndexSpace = nil
	for _, imp := range a.module.Imports {
		switch imp.Desc.Kind {
		case wasm.ExternalFunction:
			a.module.FunctionIndexSpace = append(a.module.FunctionIndexSpace, imp.Desc.TypeIndex)
		case wasm.ExternalTable:
			a.module.TableIndexSpace = append(a.module.TableIndexSpace, imp.Desc.Table)
		case wasm.ExternalMemory:
			a.module.MemoryIndexSpace = append(a.module.MemoryIndexSpace, imp.Desc.Memory)
		case wasm.ExternalGlobal:
			a.module.GlobalIndexSpace = append(a.module.GlobalIndexSpace, imp.Desc.Global)
		}
	}
	for _, fn := range a.module.Funcs {
		a.module.FunctionIndexSpace = append(a.module.FunctionIndexSpace, fn.TypeIndex)
	}
	for _, t := range a.module.Tables {
		a.module.TableIndexSpace = append(a.module.TableIndexSpace, t.Type)
	}
	for _, m := range a.module.Mems {
		a.module.MemoryIndexSpace = append(a.module.MemoryIndexSpace, m.Type)
	}
	for _, g := range a.module.Globals {
		a.module.GlobalIndexSpace = append(a.module.GlobalIndexSpace, g.Type)
	}
}

// ---- type declarations ----

func (a *Assembler) declareType(n *Node) error {
	rest := n.Rest()
	if len(rest) == 0 {
		return syntaxErr("type form needs a (func ...) signature")
	}
	idx := 0
	var id string
	if rest[0].Atom && rest[0].Token.Kind == TokID {
		id = rest[0].Token.Text
		idx++
	}
	if idx >= len(rest) || rest[idx].Head() != "func" {
		return syntaxErr("type form must contain (func (param..)(result..))")
	}
	ft, err := parseFuncType(rest[idx].Rest())
	if err != nil {
		return err
	}
	typeIdx := uint32(len(a.module.Types))
	a.module.Types = append(a.module.Types, ft)
	if id != "" {
		if _, dup := a.typeIDs[id]; dup {
			return duplicateErr("type %s", id)
		}
		a.typeIDs[id] = typeIdx
	}
	return nil
}

func parseFuncType(nodes []*Node) (wasm.FuncType, error) {
	var ft wasm.FuncType
	for _, n := range nodes {
		switch n.Head() {
		case "param":
			vts, err := parseValTypeList(n.Rest(), true)
			if err != nil {
				return ft, err
			}
			ft.Params = append(ft.Params, vts...)
		case "result":
			vts, err := parseValTypeList(n.Rest(), false)
			if err != nil {
				return ft, err
			}
			ft.Results = append(ft.Results, vts...)
		}
	}
	return ft, nil
}

// parseValTypeList parses a (param ...)/(result ...) form's remaining
// children. A named param `(param $x i32)` always has exactly one type;
// an unnamed form may list several types in a row.
func parseValTypeList(nodes []*Node, allowName bool) ([]wasm.ValueType, error) {
	if allowName && len(nodes) > 0 && nodes[0].Atom && nodes[0].Token.Kind == TokID {
		if len(nodes) != 2 {
			return nil, syntaxErr("named param must have exactly one type")
		}
		vt, err := parseValType(nodes[1])
		if err != nil {
			return nil, err
		}
		return []wasm.ValueType{vt}, nil
	}
	var out []wasm.ValueType
	for _, n := range nodes {
		vt, err := parseValType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func parseValType(n *Node) (wasm.ValueType, error) {
	if !n.Atom {
		return 0, syntaxErr("expected a value type keyword")
	}
	switch n.Token.Text {
	case "i32":
		return wasm.ValueTypeI32, nil
	case "i64":
		return wasm.ValueTypeI64, nil
	case "f32":
		return wasm.ValueTypeF32, nil
	case "f64":
		return wasm.ValueTypeF64, nil
	default:
		return 0, syntaxErr("unknown value type %q", n.Token.Text)
	}
}

// ---- pass 1: identifier declaration ----

func (a *Assembler) declareImports(n *Node) error {
	switch n.Head() {
	case "import":
		return a.declareImportForm(n)
	case "func":
		if imp := inlineImport(n); imp != nil {
			id := leadingID(n.Rest())
			return a.registerFuncID(id)
		}
	case "table":
		if imp := inlineImport(n); imp != nil {
			id := leadingID(n.Rest())
			return a.registerTableID(id)
		}
	case "memory":
		if imp := inlineImport(n); imp != nil {
			id := leadingID(n.Rest())
			return a.registerMemID(id)
		}
	case "global":
		if imp := inlineImport(n); imp != nil {
			id := leadingID(n.Rest())
			return a.registerGlobalID(id)
		}
	}
	return nil
}

// inlineImport reports the (import "m" "n") sub-form attached to a
// func/table/memory/global field, if present.
func inlineImport(n *Node) *Node {
	for _, c := range n.Rest() {
		if c.Head() == "import" {
			return c
		}
	}
	return nil
}

func leadingID(rest []*Node) string {
	if len(rest) > 0 && rest[0].Atom && rest[0].Token.Kind == TokID {
		return rest[0].Token.Text
	}
	return ""
}

func (a *Assembler) registerFuncID(id string) error {
	if id != "" {
		if _, dup := a.funcIDs[id]; dup {
			return duplicateErr("func %s", id)
		}
		a.funcIDs[id] = a.nextFuncIdx
	}
	a.nextFuncIdx++
	return nil
}
func (a *Assembler) registerTableID(id string) error {
	if id != "" {
		if _, dup := a.tableIDs[id]; dup {
			return duplicateErr("table %s", id)
		}
		a.tableIDs[id] = a.nextTableIdx
	}
	a.nextTableIdx++
	return nil
}
func (a *Assembler) registerMemID(id string) error {
	if id != "" {
		if _, dup := a.memIDs[id]; dup {
			return duplicateErr("memory %s", id)
		}
		a.memIDs[id] = a.nextMemIdx
	}
	a.nextMemIdx++
	return nil
}
func (a *Assembler) registerGlobalID(id string) error {
	if id != "" {
		if _, dup := a.globalIDs[id]; dup {
			return duplicateErr("global %s", id)
		}
		a.globalIDs[id] = a.nextGlobalIdx
	}
	a.nextGlobalIdx++
	return nil
}

func (a *Assembler) declareImportForm(n *Node) error {
	rest := n.Rest()
	if len(rest) < 3 {
		return syntaxErr("import form needs module, field, and descriptor")
	}
	desc := rest[2]
	id := leadingID(desc.Rest())
	switch desc.Head() {
	case "func":
		return a.registerFuncID(id)
	case "table":
		return a.registerTableID(id)
	case "memory":
		return a.registerMemID(id)
	case "global":
		return a.registerGlobalID(id)
	}
	return syntaxErr("unknown import descriptor %q", desc.Head())
}

func (a *Assembler) declareLocals(n *Node) error {
	switch n.Head() {
	case "func":
		if inlineImport(n) == nil {
			return a.registerFuncID(leadingID(n.Rest()))
		}
	case "table":
		if inlineImport(n) == nil {
			return a.registerTableID(leadingID(n.Rest()))
		}
	case "memory":
		if inlineImport(n) == nil {
			return a.registerMemID(leadingID(n.Rest()))
		}
	case "global":
		if inlineImport(n) == nil {
			return a.registerGlobalID(leadingID(n.Rest()))
		}
	}
	return nil
}

// ---- pass 2: emission ----

func (a *Assembler) assembleField(n *Node) error {
	switch n.Head() {
	case "type":
		return nil // handled in pass 0
	case "import":
		return a.assembleImport(n)
	case "func":
		if inlineImport(n) == nil {
			return a.assembleFunc(n)
		}
		return nil
	case "table":
		if inlineImport(n) == nil {
			return a.assembleTable(n)
		}
		return nil
	case "memory":
		if inlineImport(n) == nil {
			return a.assembleMemory(n)
		}
		return nil
	case "global":
		if inlineImport(n) == nil {
			return a.assembleGlobal(n)
		}
		return nil
	case "export":
		return a.assembleExport(n)
	case "start":
		return a.assembleStart(n)
	case "elem":
		return a.assembleElem(n)
	case "data":
		return a.assembleData(n)
	}
	return nil
}

func parseLimits(nodes []*Node) (wasm.Limits, []*Node, error) {
	var lim wasm.Limits
	i := 0
	if i >= len(nodes) || !nodes[i].Atom {
		return lim, nodes, syntaxErr("expected initial limit")
	}
	initial, err := parseUint32(nodes[i].Token)
	if err != nil {
		return lim, nodes, err
	}
	lim.Initial = initial
	i++
	if i < len(nodes) && nodes[i].Atom && (nodes[i].Token.Kind == TokUnsignedInt) {
		maxV, err := parseUint32(nodes[i].Token)
		if err != nil {
			return lim, nodes, err
		}
		lim.Maximum = maxV
		lim.HasMax = true
		i++
	}
	return lim, nodes[i:], nil
}

func (a *Assembler) assembleImport(n *Node) error {
	rest := n.Rest()
	module := rest[0].Token.Text
	field := rest[1].Token.Text
	desc := rest[2]
	var id wasm.ImportDesc
	switch desc.Head() {
	case "func":
		ft, err := a.resolveFuncTypeUse(desc.Rest())
		if err != nil {
			return err
		}
		typeIdx := a.ensureType(ft)
		id = wasm.ImportDesc{Kind: wasm.ExternalFunction, TypeIndex: typeIdx}
	case "table":
		tt, err := parseTableType(stripLeadingID(desc.Rest()))
		if err != nil {
			return err
		}
		id = wasm.ImportDesc{Kind: wasm.ExternalTable, Table: tt}
	case "memory":
		lim, _, err := parseLimits(stripLeadingID(desc.Rest()))
		if err != nil {
			return err
		}
		id = wasm.ImportDesc{Kind: wasm.ExternalMemory, Memory: wasm.MemoryType{Limits: lim}}
	case "global":
		gt, err := parseGlobalType(stripLeadingID(desc.Rest())[0])
		if err != nil {
			return err
		}
		id = wasm.ImportDesc{Kind: wasm.ExternalGlobal, Global: gt}
	default:
		return syntaxErr("unknown import descriptor %q", desc.Head())
	}
	a.module.Imports = append(a.module.Imports, wasm.Import{Module: module, Field: field, Desc: id})
	return nil
}

// extractInlineExports pulls out any `(export "name")` clauses mixed
// into a func/table/memory/global field's remaining children (the text
// format's export sugar), returning the exported names and the nodes
// left over for the field's own parsing.
func extractInlineExports(nodes []*Node) (names []string, remaining []*Node) {
	for _, n := range nodes {
		if n.Head() == "export" && len(n.Rest()) > 0 {
			names = append(names, n.Rest()[0].Token.Text)
			continue
		}
		remaining = append(remaining, n)
	}
	return names, remaining
}

// numImported counts already-declared imports of kind, so a locally
// declared table/memory/global's position in its array can be offset
// into the right index space (imports occupy the front, same as funcs).
func (a *Assembler) numImported(kind wasm.ExternalKind) uint32 {
	n := uint32(0)
	for _, imp := range a.module.Imports {
		if imp.Desc.Kind == kind {
			n++
		}
	}
	return n
}

func (a *Assembler) recordExports(names []string, kind wasm.ExternalKind, idx uint32) {
	for _, name := range names {
		a.module.Exports = append(a.module.Exports, wasm.Export{Name: name, Kind: kind, Index: idx})
	}
}

func stripLeadingID(nodes []*Node) []*Node {
	if len(nodes) > 0 && nodes[0].Atom && nodes[0].Token.Kind == TokID {
		return nodes[1:]
	}
	return nodes
}

func parseTableType(nodes []*Node) (wasm.TableType, error) {
	lim, rest, err := parseLimits(nodes)
	if err != nil {
		return wasm.TableType{}, err
	}
	if len(rest) == 0 || rest[0].Token.Text != "funcref" {
		return wasm.TableType{}, syntaxErr("table element type must be funcref")
	}
	return wasm.TableType{ElementType: wasm.ElemTypeFuncRef, Limits: lim}, nil
}

func parseGlobalType(n *Node) (wasm.GlobalType, error) {
	if !n.Atom && n.Head() == "mut" {
		vt, err := parseValType(n.Rest()[0])
		if err != nil {
			return wasm.GlobalType{}, err
		}
		return wasm.GlobalType{Type: vt, Mutable: true}, nil
	}
	vt, err := parseValType(n)
	if err != nil {
		return wasm.GlobalType{}, err
	}
	return wasm.GlobalType{Type: vt, Mutable: false}, nil
}

// resolveFuncTypeUse handles a func's type-use: either `(type $id)`
// alone, inline (param)/(result) forms, or both together (in which case
// they must agree structurally).
func (a *Assembler) resolveFuncTypeUse(nodes []*Node) (wasm.FuncType, error) {
	var explicit *wasm.FuncType
	var rest []*Node
	i := 0
	if i < len(nodes) && nodes[i].Head() == "type" {
		idNode := nodes[i].Rest()
		typeIdx, err := a.resolveTypeRef(idNode[0])
		if err != nil {
			return wasm.FuncType{}, err
		}
		ft := a.module.Types[typeIdx]
		explicit = &ft
		i++
	}
	rest = nodes[i:]
	inline, err := parseFuncType(rest)
	if err != nil {
		return wasm.FuncType{}, err
	}
	if explicit != nil {
		if len(inline.Params) > 0 || len(inline.Results) > 0 {
			if !explicit.Equal(inline) {
				return wasm.FuncType{}, syntaxErr("inline signature disagrees with (type ...) reference")
			}
		}
		return *explicit, nil
	}
	return inline, nil
}

func (a *Assembler) ensureType(ft wasm.FuncType) uint32 {
	for i, existing := range a.module.Types {
		if existing.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(a.module.Types))
	a.module.Types = append(a.module.Types, ft)
	return idx
}

func (a *Assembler) resolveTypeRef(n *Node) (uint32, error) {
	if n.Token.Kind == TokID {
		idx, ok := a.typeIDs[n.Token.Text]
		if !ok {
			return 0, unresolvedErr("type %s", n.Token.Text)
		}
		return idx, nil
	}
	return parseUint32(n.Token)
}

func (a *Assembler) assembleTable(n *Node) error {
	rest := stripLeadingID(n.Rest())
	exports, rest := extractInlineExports(rest)
	tt, err := parseTableType(rest)
	if err != nil {
		return err
	}
	idx := a.numImported(wasm.ExternalTable) + uint32(len(a.module.Tables))
	a.module.Tables = append(a.module.Tables, wasm.Table{Type: tt})
	a.recordExports(exports, wasm.ExternalTable, idx)
	return nil
}

func (a *Assembler) assembleMemory(n *Node) error {
	rest := stripLeadingID(n.Rest())
	exports, rest := extractInlineExports(rest)
	lim, _, err := parseLimits(rest)
	if err != nil {
		return err
	}
	idx := a.numImported(wasm.ExternalMemory) + uint32(len(a.module.Mems))
	a.module.Mems = append(a.module.Mems, wasm.Memory{Type: wasm.MemoryType{Limits: lim}})
	a.recordExports(exports, wasm.ExternalMemory, idx)
	return nil
}

func (a *Assembler) assembleGlobal(n *Node) error {
	rest := stripLeadingID(n.Rest())
	exports, rest := extractInlineExports(rest)
	if len(rest) < 2 {
		return syntaxErr("global form needs a type and an initializer")
	}
	gt, err := parseGlobalType(rest[0])
	if err != nil {
		return err
	}
	init, _, err := a.assembleConstExpr(rest[1:])
	if err != nil {
		return err
	}
	idx := a.numImported(wasm.ExternalGlobal) + uint32(len(a.module.Globals))
	a.module.Globals = append(a.module.Globals, wasm.Global{Type: gt, Init: init})
	a.recordExports(exports, wasm.ExternalGlobal, idx)
	return nil
}

// assembleConstExpr assembles the single-instruction constant
// expressions global initializers and offset clauses use.
func (a *Assembler) assembleConstExpr(nodes []*Node) ([]byte, int, error) {
	fctx := &funcCtx{a: a, locals: map[string]uint32{}}
	var buf []byte
	n, err := a.emitOne(nodes, fctx, &buf)
	if err != nil {
		return nil, 0, err
	}
	buf = append(buf, byte(opcode.End))
	return buf, n, nil
}

func (a *Assembler) assembleExport(n *Node) error {
	rest := n.Rest()
	name := rest[0].Token.Text
	desc := rest[1]
	var kind wasm.ExternalKind
	var idx uint32
	var err error
	switch desc.Head() {
	case "func":
		kind = wasm.ExternalFunction
		idx, err = a.resolveFuncRef(desc.Rest()[0])
	case "table":
		kind = wasm.ExternalTable
		idx, err = a.resolveRef(a.tableIDs, desc.Rest()[0])
	case "memory":
		kind = wasm.ExternalMemory
		idx, err = a.resolveRef(a.memIDs, desc.Rest()[0])
	case "global":
		kind = wasm.ExternalGlobal
		idx, err = a.resolveRef(a.globalIDs, desc.Rest()[0])
	default:
		return syntaxErr("unknown export descriptor %q", desc.Head())
	}
	if err != nil {
		return err
	}
	for _, e := range a.module.Exports {
		if e.Name == name {
			return syntaxErr("duplicate export name %q", name)
		}
	}
	a.module.Exports = append(a.module.Exports, wasm.Export{Name: name, Kind: kind, Index: idx})
	return nil
}

func (a *Assembler) resolveRef(ids map[string]uint32, n *Node) (uint32, error) {
	if n.Token.Kind == TokID {
		idx, ok := ids[n.Token.Text]
		if !ok {
			return 0, unresolvedErr("identifier %s", n.Token.Text)
		}
		return idx, nil
	}
	return parseUint32(n.Token)
}

func (a *Assembler) resolveFuncRef(n *Node) (uint32, error) { return a.resolveRef(a.funcIDs, n) }

func (a *Assembler) assembleStart(n *Node) error {
	idx, err := a.resolveFuncRef(n.Rest()[0])
	if err != nil {
		return err
	}
	a.module.HasStart = true
	a.module.Start = idx
	return nil
}

func (a *Assembler) assembleElem(n *Node) error {
	rest := n.Rest()
	i := 0
	tableIdx := uint32(0)
	if i < len(rest) && rest[i].Atom && (rest[i].Token.Kind == TokID || rest[i].Token.Kind == TokUnsignedInt) {
		idx, err := a.resolveRef(a.tableIDs, rest[i])
		if err != nil {
			return err
		}
		tableIdx = idx
		i++
	}
	if i >= len(rest) {
		return syntaxErr("elem form needs an offset expression")
	}
	offsetNodes := []*Node{rest[i]}
	offset, _, err := a.assembleConstExpr(offsetNodes)
	if err != nil {
		return err
	}
	i++
	var fns []uint32
	for ; i < len(rest); i++ {
		idx, err := a.resolveFuncRef(rest[i])
		if err != nil {
			return err
		}
		fns = append(fns, idx)
	}
	a.module.Elements = append(a.module.Elements, wasm.ElementSegment{TableIndex: tableIdx, Offset: offset, Functions: fns})
	return nil
}

func (a *Assembler) assembleData(n *Node) error {
	rest := n.Rest()
	i := 0
	memIdx := uint32(0)
	if i < len(rest) && rest[i].Atom && (rest[i].Token.Kind == TokID || rest[i].Token.Kind == TokUnsignedInt) {
		idx, err := a.resolveRef(a.memIDs, rest[i])
		if err != nil {
			return err
		}
		memIdx = idx
		i++
	}
	if i >= len(rest) {
		return syntaxErr("data form needs an offset expression")
	}
	offset, _, err := a.assembleConstExpr([]*Node{rest[i]})
	if err != nil {
		return err
	}
	i++
	var data []byte
	for ; i < len(rest); i++ {
		if rest[i].Token.Kind != TokString {
			return syntaxErr("data segment body must be string literals")
		}
		data = append(data, []byte(rest[i].Token.Text)...)
	}
	a.module.Data = append(a.module.Data, wasm.DataSegment{MemoryIndex: memIdx, Offset: offset, Bytes: data})
	return nil
}

// ---- functions ----

type funcCtx struct {
	a      *Assembler
	locals map[string]uint32
	labels []string // innermost last; "" means unlabeled
}

func (a *Assembler) assembleFunc(n *Node) error {
	rest := stripLeadingID(n.Rest())
	exports, rest := extractInlineExports(rest)
	ft, consumed, err := a.parseFuncHeader(rest)
	if err != nil {
		return err
	}
	fctx := &funcCtx{a: a, locals: map[string]uint32{}}
	for i, name := range consumed.paramNames {
		if name != "" {
			fctx.locals[name] = uint32(i)
		}
	}
	localGroups, localNames, bodyNodes, err := a.parseLocals(rest[consumed.idx:])
	if err != nil {
		return err
	}
	for i, name := range localNames {
		if name != "" {
			fctx.locals[name] = uint32(len(ft.Params) + i)
		}
	}
	var buf []byte
	if err := a.assembleInstrSeq(bodyNodes, fctx, &buf); err != nil {
		return err
	}
	buf = append(buf, byte(opcode.End))

	typeIdx := a.ensureType(ft)
	funcIdx := a.numImported(wasm.ExternalFunction) + uint32(len(a.module.Funcs))
	a.module.Funcs = append(a.module.Funcs, wasm.Function{
		TypeIndex: typeIdx,
		Body:      wasm.Code{Locals: localGroups, Instructions: buf},
	})
	a.recordExports(exports, wasm.ExternalFunction, funcIdx)
	return nil
}

type funcHeader struct {
	paramNames []string
	idx        int
}

// parseFuncHeader consumes a leading (type $n)? then (param..)/(result..)
// forms, recording each param's name (possibly "") in declaration order.
func (a *Assembler) parseFuncHeader(nodes []*Node) (wasm.FuncType, funcHeader, error) {
	var ft wasm.FuncType
	var hdr funcHeader
	i := 0
	var explicit *wasm.FuncType
	if i < len(nodes) && nodes[i].Head() == "type" {
		typeIdx, err := a.resolveTypeRef(nodes[i].Rest()[0])
		if err != nil {
			return ft, hdr, err
		}
		t := a.module.Types[typeIdx]
		explicit = &t
		i++
	}
	for i < len(nodes) && (nodes[i].Head() == "param" || nodes[i].Head() == "result") {
		n := nodes[i]
		if n.Head() == "param" {
			rest := n.Rest()
			if len(rest) > 0 && rest[0].Atom && rest[0].Token.Kind == TokID {
				vt, err := parseValType(rest[1])
				if err != nil {
					return ft, hdr, err
				}
				ft.Params = append(ft.Params, vt)
				hdr.paramNames = append(hdr.paramNames, rest[0].Token.Text)
			} else {
				for _, r := range rest {
					vt, err := parseValType(r)
					if err != nil {
						return ft, hdr, err
					}
					ft.Params = append(ft.Params, vt)
					hdr.paramNames = append(hdr.paramNames, "")
				}
			}
		} else {
			vts, err := parseValTypeList(n.Rest(), false)
			if err != nil {
				return ft, hdr, err
			}
			ft.Results = append(ft.Results, vts...)
		}
		i++
	}
	hdr.idx = i
	if explicit != nil {
		return *explicit, hdr, nil
	}
	return ft, hdr, nil
}

// parseLocals consumes any leading (local ...) forms, returning the
// local groups (for the binary encoding), their names (for fctx), and
// the remaining instruction Nodes.
func (a *Assembler) parseLocals(nodes []*Node) ([]wasm.LocalGroup, []string, []*Node, error) {
	var groups []wasm.LocalGroup
	var names []string
	i := 0
	for i < len(nodes) && nodes[i].Head() == "local" {
		rest := nodes[i].Rest()
		if len(rest) > 0 && rest[0].Atom && rest[0].Token.Kind == TokID {
			vt, err := parseValType(rest[1])
			if err != nil {
				return nil, nil, nil, err
			}
			groups = append(groups, wasm.LocalGroup{Count: 1, Type: vt})
			names = append(names, rest[0].Token.Text)
		} else {
			for _, r := range rest {
				vt, err := parseValType(r)
				if err != nil {
					return nil, nil, nil, err
				}
				groups = append(groups, wasm.LocalGroup{Count: 1, Type: vt})
				names = append(names, "")
			}
		}
		i++
	}
	return groups, names, nodes[i:], nil
}

// ---- instruction sequence assembly ----

// assembleInstrSeq assembles a sibling sequence of instruction Nodes
// (the flat/folded mix a func body or block body contains) into raw
// bytes.
func (a *Assembler) assembleInstrSeq(nodes []*Node, fctx *funcCtx, buf *[]byte) error {
	i := 0
	for i < len(nodes) {
		n, err := a.emitOne(nodes[i:], fctx, buf)
		if err != nil {
			return err
		}
		i += n
	}
	return nil
}

// emitOne emits exactly one instruction (consuming however many sibling
// Nodes it needs for its immediates/body) and returns how many Nodes
// were consumed.
func (a *Assembler) emitOne(nodes []*Node, fctx *funcCtx, buf *[]byte) (int, error) {
	if len(nodes) == 0 {
		return 0, syntaxErr("expected an instruction")
	}
	n := nodes[0]
	if !n.Atom {
		return a.emitFolded(n, fctx, buf)
	}
	kw := n.Token.Text
	switch kw {
	case "block", "loop":
		return a.emitCompoundFlat(nodes, fctx, buf, kw == "loop")
	case "if":
		return a.emitIfFlat(nodes, fctx, buf)
	case "else", "end", "then":
		return 0, syntaxErr("unexpected %q", kw)
	default:
		op, ok := opcode.FromMnemonic(kw)
		if !ok {
			return 0, syntaxErr("unknown instruction %q", kw)
		}
		*buf = append(*buf, byte(op))
		consumed, err := a.emitImmediate(op, nodes[1:], fctx, buf)
		if err != nil {
			return 0, err
		}
		return 1 + consumed, nil
	}
}

// emitFolded flattens a parenthesized folded instruction: its operand
// sub-expressions are assembled first (each potentially multi-node, but
// as a single list each contributes exactly one value), then its own
// head instruction is emitted referencing any trailing non-expression
// atoms (rare in practice; most folded instructions carry their
// immediate, if any, as the head list's own leading atoms after the
// mnemonic, e.g. `(local.get $x)`).
func (a *Assembler) emitFolded(n *Node, fctx *funcCtx, buf *[]byte) (int, error) {
	children := n.Children
	if len(children) == 0 || !children[0].Atom {
		return 0, syntaxErr("folded instruction must start with a mnemonic")
	}
	kw := children[0].Token.Text
	if kw == "block" || kw == "loop" {
		return 1, a.emitCompoundFoldedBody(children[1:], fctx, buf, kw == "loop")
	}
	if kw == "if" {
		return 1, a.emitIfFolded(children[1:], fctx, buf)
	}
	op, ok := opcode.FromMnemonic(kw)
	if !ok {
		return 0, syntaxErr("unknown instruction %q", kw)
	}
	rest := children[1:]
	// call_indirect's own (type ...) annotation is not a value-producing
	// operand; pull it out before the generic operand-sub-expression loop
	// below would otherwise try to evaluate it as one.
	var typeUse *Node
	if op == opcode.CallIndirect && len(rest) > 0 && rest[0].Head() == "type" {
		typeUse = rest[0]
		rest = rest[1:]
	}
	// Immediate-bearing atoms (e.g. the $x in `(local.get $x)`) come
	// first, followed by operand sub-expressions to assemble before this
	// instruction's own opcode byte.
	immEnd := 0
	for immEnd < len(rest) && rest[immEnd].Atom {
		immEnd++
	}
	for _, operand := range rest[immEnd:] {
		if _, err := a.emitOne([]*Node{operand}, fctx, buf); err != nil {
			return 0, err
		}
	}
	*buf = append(*buf, byte(op))
	if typeUse != nil {
		if _, err := a.emitImmediate(op, []*Node{typeUse}, fctx, buf); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if _, err := a.emitImmediate(op, rest[:immEnd], fctx, buf); err != nil {
		return 0, err
	}
	return 1, nil
}

func blockTypeByte(hasResult bool, vt wasm.ValueType) byte {
	if !hasResult {
		return wasm.BlockTypeEmpty
	}
	return byte(vt)
}

// parseBlockHeader consumes an optional $label then an optional
// (result ty) from a compound instruction's body nodes.
func parseBlockHeader(nodes []*Node) (label string, hasResult bool, vt wasm.ValueType, rest []*Node) {
	i := 0
	if i < len(nodes) && nodes[i].Atom && nodes[i].Token.Kind == TokID {
		label = nodes[i].Token.Text
		i++
	}
	if i < len(nodes) && nodes[i].Head() == "result" {
		vts, err := parseValTypeList(nodes[i].Rest(), false)
		if err == nil && len(vts) == 1 {
			hasResult = true
			vt = vts[0]
		}
		i++
	}
	return label, hasResult, vt, nodes[i:]
}

// emitCompoundFlat handles `block`/`loop` written in flat form: the
// body runs until a matching bare "end" atom among the siblings.
func (a *Assembler) emitCompoundFlat(nodes []*Node, fctx *funcCtx, buf *[]byte, isLoop bool) (int, error) {
	label, hasResult, vt, rest := parseBlockHeader(nodes[1:])
	op := opcode.Block
	if isLoop {
		op = opcode.Loop
	}
	*buf = append(*buf, byte(op), blockTypeByte(hasResult, vt))
	fctx.labels = append(fctx.labels, label)
	bodyEnd, err := a.scanToEnd(rest)
	if err != nil {
		return 0, err
	}
	if err := a.assembleInstrSeq(rest[:bodyEnd], fctx, buf); err != nil {
		return 0, err
	}
	fctx.labels = fctx.labels[:len(fctx.labels)-1]
	*buf = append(*buf, byte(opcode.End))
	headerConsumed := (len(nodes) - 1) - len(rest)
	return 1 + headerConsumed + bodyEnd + 1, nil
}

// scanToEnd finds the index of the bare "end" atom matching the current
// nesting level (any nested block/loop/if consumes its own "end" first).
func (a *Assembler) scanToEnd(nodes []*Node) (int, error) {
	depth := 0
	for i, n := range nodes {
		if !n.Atom {
			continue
		}
		switch n.Token.Text {
		case "block", "loop", "if":
			depth++
		case "end":
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, syntaxErr("unterminated block: missing end")
}

// emitIfFlat handles flat-form `if`: `<cond already on stack> if
// resulttype? then-instrs (else else-instrs)? end`.
func (a *Assembler) emitIfFlat(nodes []*Node, fctx *funcCtx, buf *[]byte) (int, error) {
	_, hasResult, vt, rest := parseBlockHeader(nodes[1:])
	*buf = append(*buf, byte(opcode.If), blockTypeByte(hasResult, vt))
	fctx.labels = append(fctx.labels, "")

	elseIdx, endIdx, err := a.scanIfParts(rest)
	if err != nil {
		return 0, err
	}
	thenNodes := rest[:elseIdx]
	if err := a.assembleInstrSeq(thenNodes, fctx, buf); err != nil {
		return 0, err
	}
	if elseIdx < endIdx {
		*buf = append(*buf, byte(opcode.Else))
		elseNodes := rest[elseIdx+1 : endIdx]
		if err := a.assembleInstrSeq(elseNodes, fctx, buf); err != nil {
			return 0, err
		}
	}
	fctx.labels = fctx.labels[:len(fctx.labels)-1]
	*buf = append(*buf, byte(opcode.End))

	headerConsumed := len(nodes) - 1 - len(rest)
	return 1 + headerConsumed + (endIdx + 1), nil
}

// scanIfParts finds the "else" (or returns elseIdx==endIdx if absent)
// and "end" indices at the current nesting depth.
func (a *Assembler) scanIfParts(nodes []*Node) (elseIdx, endIdx int, err error) {
	depth := 0
	elseIdx = -1
	for i, n := range nodes {
		if !n.Atom {
			continue
		}
		switch n.Token.Text {
		case "block", "loop", "if":
			depth++
		case "else":
			if depth == 0 && elseIdx == -1 {
				elseIdx = i
			}
		case "end":
			if depth == 0 {
				if elseIdx == -1 {
					elseIdx = i
				}
				return elseIdx, i, nil
			}
			depth--
		}
	}
	return 0, 0, syntaxErr("unterminated if: missing end")
}

// emitCompoundFoldedBody handles the folded `(block $l (result i32)
// instr*)` form, whose body is simply "everything left after the
// header", closed by the enclosing paren rather than a bare "end" atom.
func (a *Assembler) emitCompoundFoldedBody(nodes []*Node, fctx *funcCtx, buf *[]byte, isLoop bool) error {
	label, hasResult, vt, rest := parseBlockHeader(nodes)
	op := opcode.Block
	if isLoop {
		op = opcode.Loop
	}
	*buf = append(*buf, byte(op), blockTypeByte(hasResult, vt))
	fctx.labels = append(fctx.labels, label)
	if err := a.assembleInstrSeq(rest, fctx, buf); err != nil {
		return err
	}
	fctx.labels = fctx.labels[:len(fctx.labels)-1]
	*buf = append(*buf, byte(opcode.End))
	return nil
}

// emitIfFolded handles `(if cond (then ...) (else ...)?)`.
func (a *Assembler) emitIfFolded(nodes []*Node, fctx *funcCtx, buf *[]byte) error {
	_, hasResult, vt, rest := parseBlockHeader(nodes)
	var cond *Node
	var thenNode, elseNode *Node
	for _, n := range rest {
		switch n.Head() {
		case "then":
			thenNode = n
		case "else":
			elseNode = n
		default:
			cond = n
		}
	}
	if cond != nil {
		if _, err := a.emitOne([]*Node{cond}, fctx, buf); err != nil {
			return err
		}
	}
	*buf = append(*buf, byte(opcode.If), blockTypeByte(hasResult, vt))
	fctx.labels = append(fctx.labels, "")
	if thenNode != nil {
		if err := a.assembleInstrSeq(thenNode.Rest(), fctx, buf); err != nil {
			return err
		}
	}
	if elseNode != nil {
		*buf = append(*buf, byte(opcode.Else))
		if err := a.assembleInstrSeq(elseNode.Rest(), fctx, buf); err != nil {
			return err
		}
	}
	fctx.labels = fctx.labels[:len(fctx.labels)-1]
	*buf = append(*buf, byte(opcode.End))
	return nil
}

// emitImmediate encodes op's immediate operand(s) from the leading
// atoms of nodes, resolving $id operands against the right namespace
// for op's category, and returns how many Nodes were consumed.
func (a *Assembler) emitImmediate(op opcode.Opcode, nodes []*Node, fctx *funcCtx, buf *[]byte) (int, error) {
	info, ok := opcode.Lookup(op)
	if !ok {
		return 0, syntaxErr("unknown opcode %v", op)
	}
	switch info.Shape {
	case opcode.ShapeNone:
		return 0, nil
	case opcode.ShapeBlockType:
		return 0, nil // block/loop/if handled separately
	case opcode.ShapeVaruint32:
		if len(nodes) == 0 {
			return 0, syntaxErr("%s needs an operand", info.Mnemonic)
		}
		idx, err := a.resolveIndexFor(op, nodes[0], fctx)
		if err != nil {
			return 0, err
		}
		*buf = append(*buf, leb128.EncodeUint32(idx)...)
		return 1, nil
	case opcode.ShapeVarint32:
		v, err := parseInt64Literal(nodes[0].Token)
		if err != nil {
			return 0, err
		}
		*buf = append(*buf, leb128.EncodeInt32(int32(v))...)
		return 1, nil
	case opcode.ShapeVarint64:
		v, err := parseInt64Literal(nodes[0].Token)
		if err != nil {
			return 0, err
		}
		*buf = append(*buf, leb128.EncodeInt64(v)...)
		return 1, nil
	case opcode.ShapeF32:
		f, err := parseFloat32Literal(nodes[0].Token)
		if err != nil {
			return 0, err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		*buf = append(*buf, b[:]...)
		return 1, nil
	case opcode.ShapeF64:
		f, err := parseFloat64Literal(nodes[0].Token)
		if err != nil {
			return 0, err
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		*buf = append(*buf, b[:]...)
		return 1, nil
	case opcode.ShapeMemArg:
		return a.emitMemArg(nodes, buf)
	case opcode.ShapeBrTable:
		return a.emitBrTable(nodes, fctx, buf)
	case opcode.ShapeCallIndirect:
		if len(nodes) == 0 {
			return 0, syntaxErr("call_indirect needs a type use")
		}
		typeIdx, err := a.resolveTypeUseOperand(nodes[0])
		if err != nil {
			return 0, err
		}
		*buf = append(*buf, leb128.EncodeUint32(typeIdx)...)
		*buf = append(*buf, 0x00) // reserved table index
		return 1, nil
	}
	return 0, syntaxErr("unhandled immediate shape for %s", info.Mnemonic)
}

func (a *Assembler) resolveTypeUseOperand(n *Node) (uint32, error) {
	if !n.Atom && n.Head() == "type" {
		return a.resolveTypeRef(n.Rest()[0])
	}
	return a.resolveTypeRef(n)
}

func (a *Assembler) emitMemArg(nodes []*Node, buf *[]byte) (int, error) {
	align := uint32(0)
	offset := uint32(0)
	consumed := 0
	for consumed < len(nodes) && consumed < 2 && nodes[consumed].Atom {
		text := nodes[consumed].Token.Text
		if strings.HasPrefix(text, "offset=") {
			v, err := strconv.ParseUint(text[len("offset="):], 0, 32)
			if err != nil {
				return 0, syntaxErr("bad offset immediate %q", text)
			}
			offset = uint32(v)
			consumed++
		} else if strings.HasPrefix(text, "align=") {
			v, err := strconv.ParseUint(text[len("align="):], 0, 32)
			if err != nil {
				return 0, syntaxErr("bad align immediate %q", text)
			}
			align = uint32(bits2log(uint32(v)))
			consumed++
		} else {
			break
		}
	}
	*buf = append(*buf, leb128.EncodeUint32(align)...)
	*buf = append(*buf, leb128.EncodeUint32(offset)...)
	return consumed, nil
}

func bits2log(v uint32) uint32 {
	n := uint32(0)
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func (a *Assembler) emitBrTable(nodes []*Node, fctx *funcCtx, buf *[]byte) (int, error) {
	var targets []uint32
	consumed := 0
	for consumed < len(nodes) && nodes[consumed].Atom &&
		(nodes[consumed].Token.Kind == TokUnsignedInt || nodes[consumed].Token.Kind == TokID) {
		idx, err := a.resolveLabel(nodes[consumed], fctx)
		if err != nil {
			return 0, err
		}
		targets = append(targets, idx)
		consumed++
	}
	if len(targets) == 0 {
		return 0, syntaxErr("br_table needs at least a default target")
	}
	def := targets[len(targets)-1]
	targets = targets[:len(targets)-1]
	*buf = append(*buf, leb128.EncodeUint32(uint32(len(targets)))...)
	for _, t := range targets {
		*buf = append(*buf, leb128.EncodeUint32(t)...)
	}
	*buf = append(*buf, leb128.EncodeUint32(def)...)
	return consumed, nil
}

// resolveIndexFor resolves a varuint32 operand against the namespace
// op's category addresses: locals for local.*, globals for global.*,
// funcs for call, labels for br/br_if.
func (a *Assembler) resolveIndexFor(op opcode.Opcode, n *Node, fctx *funcCtx) (uint32, error) {
	switch op {
	case opcode.LocalGet, opcode.LocalSet, opcode.LocalTee:
		if n.Token.Kind == TokID {
			idx, ok := fctx.locals[n.Token.Text]
			if !ok {
				return 0, unresolvedErr("local %s", n.Token.Text)
			}
			return idx, nil
		}
		return parseUint32(n.Token)
	case opcode.GlobalGet, opcode.GlobalSet:
		return a.resolveRef(a.globalIDs, n)
	case opcode.Call:
		return a.resolveFuncRef(n)
	case opcode.Br, opcode.BrIf:
		return a.resolveLabel(n, fctx)
	default:
		return parseUint32(n.Token)
	}
}

func (a *Assembler) resolveLabel(n *Node, fctx *funcCtx) (uint32, error) {
	if n.Token.Kind != TokID {
		return parseUint32(n.Token)
	}
	for i := len(fctx.labels) - 1; i >= 0; i-- {
		if fctx.labels[i] == n.Token.Text {
			return uint32(len(fctx.labels) - 1 - i), nil
		}
	}
	return 0, unresolvedErr("label %s", n.Token.Text)
}

// ---- literal parsing ----

func parseUint32(tok Token) (uint32, error) {
	v, err := strconv.ParseUint(tok.Text, 0, 32)
	if err != nil {
		return 0, syntaxErr("bad unsigned integer %q: %v", tok.Text, err)
	}
	return uint32(v), nil
}

func parseInt64Literal(tok Token) (int64, error) {
	text := tok.Text
	if strings.HasPrefix(text, "+") {
		text = text[1:]
	}
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		uv, uerr := strconv.ParseUint(text, 0, 64)
		if uerr != nil {
			return 0, syntaxErr("bad integer literal %q: %v", tok.Text, err)
		}
		return int64(uv), nil
	}
	return v, nil
}

// nanForm splits a `nan`/`nan:...` literal into its sign and the text
// following "nan" (the GLOSSARY's canonical/arithmetic/explicit-payload
// forms), reporting ok=false for anything that isn't a nan literal at
// all (the caller then falls back to strconv.ParseFloat).
func nanForm(text string) (negative bool, rest string, ok bool) {
	switch {
	case strings.HasPrefix(text, "-nan"):
		return true, text[len("-nan"):], true
	case strings.HasPrefix(text, "+nan"):
		return false, text[len("+nan"):], true
	case strings.HasPrefix(text, "nan"):
		return false, text[len("nan"):], true
	}
	return false, "", false
}

// nanPayload32/64 resolves a nan literal's trailing form into a mantissa
// payload: `nan`/`nan:canonical` uses the GLOSSARY's canonical payload
// (number.CanonicalNaN32/64, top mantissa bit set, all else zero);
// `nan:arithmetic` accepts any NaN whose mantissa top bit is set, so the
// same canonical payload is also a valid (if arbitrary/minimal) choice
// for it; `nan:0x<hex>` carries an explicit mantissa payload.
func nanPayload32(rest string) (uint32, error) {
	switch {
	case rest == "" || rest == ":canonical" || rest == ":arithmetic":
		return number.CanonicalNaN32 &^ (uint32(1) << 31), nil
	case strings.HasPrefix(rest, ":0x"):
		v, err := parseHexUint32(rest[len(":0x"):])
		if err != nil || v == 0 || v >= 1<<23 {
			return 0, syntaxErr("bad nan payload %q", rest)
		}
		return v, nil
	}
	return 0, syntaxErr("unrecognized nan literal form %q", rest)
}

func nanPayload64(rest string) (uint64, error) {
	switch {
	case rest == "" || rest == ":canonical" || rest == ":arithmetic":
		return number.CanonicalNaN64 &^ (uint64(1) << 63), nil
	case strings.HasPrefix(rest, ":0x"):
		v, err := strconv.ParseUint(rest[len(":0x"):], 16, 64)
		if err != nil || v == 0 || v >= 1<<52 {
			return 0, syntaxErr("bad nan payload %q", rest)
		}
		return v, nil
	}
	return 0, syntaxErr("unrecognized nan literal form %q", rest)
}

func parseFloat32Literal(tok Token) (float32, error) {
	text := tok.Text
	switch text {
	case "inf", "+inf":
		return float32(math.Inf(1)), nil
	case "-inf":
		return float32(math.Inf(-1)), nil
	}
	if negative, rest, ok := nanForm(text); ok {
		payload, err := nanPayload32(rest)
		if err != nil {
			return 0, err
		}
		bits := number.CanonicalNaN32&0x7F800000 | payload
		if negative {
			bits |= 1 << 31
		}
		return math.Float32frombits(bits), nil
	}
	f, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, syntaxErr("bad float literal %q: %v", tok.Text, err)
	}
	return float32(f), nil
}

func parseFloat64Literal(tok Token) (float64, error) {
	text := tok.Text
	switch text {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	if negative, rest, ok := nanForm(text); ok {
		payload, err := nanPayload64(rest)
		if err != nil {
			return 0, err
		}
		bits := number.CanonicalNaN64&0x7FF0000000000000 | payload
		if negative {
			bits |= 1 << 63
		}
		return math.Float64frombits(bits), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, syntaxErr("bad float literal %q: %v", tok.Text, err)
	}
	return f, nil
}

