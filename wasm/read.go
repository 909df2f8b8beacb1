package wasm

import (
	"bufio"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/tinywasm/tinywasm/leb128"
	"github.com/tinywasm/tinywasm/opcode"
	"github.com/tinywasm/tinywasm/util"
)

// ReadModule parses the MVP WebAssembly binary format from r: the fixed
// preamble (magic, version) followed by a stream of (id, payload_length,
// payload) sections. Grounded in the teacher's ReadModule/readSection
// family in `wasm/module.go`, restructured so every section's payload is
// read eagerly into a `[]byte` and parsed through a `util.ByteReader`
// cursor -- this lets each section decoder check, after parsing, that it
// consumed exactly payload_length bytes (the teacher streamed section
// payloads directly off the `io.Reader` and had no such check).
func ReadModule(r io.Reader) (*Module, error) {
	br := bufio.NewReader(r)

	magic, err := readU32(br)
	if err != nil {
		return nil, malformed("reading magic: %v", err)
	}
	if magic != Magic {
		return nil, malformed("bad magic %#x", magic)
	}
	version, err := readU32(br)
	if err != nil {
		return nil, malformed("reading version: %v", err)
	}
	if version != Version {
		return nil, malformed("unsupported version %d", version)
	}

	m := &Module{}
	var lastID SectionID = SectionCustom

	for {
		idByte, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, malformed("reading section id: %v", err)
		}
		id := SectionID(idByte)

		payloadLen, err := leb128.ReadUint32(br)
		if err != nil {
			return nil, malformed("reading section %d payload_length: %v", id, err)
		}

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, malformed("reading section %d payload (%d bytes): %v", id, payloadLen, err)
		}

		if id != SectionCustom {
			if id <= lastID {
				return nil, malformed("section %d out of order (after %d)", id, lastID)
			}
			lastID = id
		}

		cur := util.NewByteReader(payload)
		if err := readSection(m, id, cur); err != nil {
			return nil, err
		}
		if cur.Len() != 0 {
			return nil, malformed("section %d: %d trailing bytes after decode", id, cur.Len())
		}
	}

	m.buildIndexSpaces()
	return m, nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readSection(m *Module, id SectionID, cur *util.ByteReader) error {
	switch id {
	case SectionCustom:
		return readCustomSection(m, cur)
	case SectionType:
		return readTypeSection(m, cur)
	case SectionImport:
		return readImportSection(m, cur)
	case SectionFunction:
		return readFunctionSection(m, cur)
	case SectionTable:
		return readTableSection(m, cur)
	case SectionMemory:
		return readMemorySection(m, cur)
	case SectionGlobal:
		return readGlobalSection(m, cur)
	case SectionExport:
		return readExportSection(m, cur)
	case SectionStart:
		return readStartSection(m, cur)
	case SectionElement:
		return readElementSection(m, cur)
	case SectionCode:
		return readCodeSection(m, cur)
	case SectionData:
		return readDataSection(m, cur)
	default:
		return malformed("unknown section id %d", id)
	}
}

func readCustomSection(m *Module, cur *util.ByteReader) error {
	name, err := readName(cur)
	if err != nil {
		return malformed("custom section name: %v", err)
	}
	data := append([]byte{}, cur.CopyAll()...)
	// Consume the rest explicitly so the caller's trailing-bytes check
	// at the call site sees a fully drained cursor.
	if _, err := cur.Read(cur.Len()); err != nil {
		return malformed("custom section %q payload: %v", name, err)
	}
	m.Customs = append(m.Customs, CustomSection{Name: name, Data: data})
	return nil
}

func readName(cur *util.ByteReader) (string, error) {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return "", err
	}
	b, err := cur.Read(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed("name is not valid utf-8")
	}
	return string(b), nil
}

func readValueType(cur *util.ByteReader) (ValueType, error) {
	b, err := cur.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValueType(b) {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return ValueType(b), nil
	default:
		return 0, malformed("unknown value type %#x", b)
	}
}

func readLimits(cur *util.ByteReader) (Limits, error) {
	flags, err := cur.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	initial, err := leb128.ReadUint32(cur)
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Initial: initial}
	if flags&0x1 != 0 {
		max, err := leb128.ReadUint32(cur)
		if err != nil {
			return Limits{}, err
		}
		l.Maximum = max
		l.HasMax = true
		if l.Maximum < l.Initial {
			return Limits{}, invalid("limits: maximum %d < initial %d", l.Maximum, l.Initial)
		}
	}
	return l, nil
}

func readTableType(cur *util.ByteReader) (TableType, error) {
	elemType, err := cur.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if elemType != ElemTypeFuncRef {
		return TableType{}, malformed("unsupported table element type %#x", elemType)
	}
	limits, err := readLimits(cur)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElementType: elemType, Limits: limits}, nil
}

func readMemoryType(cur *util.ByteReader) (MemoryType, error) {
	limits, err := readLimits(cur)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(cur *util.ByteReader) (GlobalType, error) {
	vt, err := readValueType(cur)
	if err != nil {
		return GlobalType{}, err
	}
	mutByte, err := cur.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mutByte > 1 {
		return GlobalType{}, malformed("bad mutability byte %#x", mutByte)
	}
	return GlobalType{Type: vt, Mutable: mutByte == 1}, nil
}

func readVaruint32Vec(cur *util.ByteReader) ([]uint32, error) {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := leb128.ReadUint32(cur)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readTypeSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		form, err := cur.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeForm {
			return malformed("type %d: bad form %#x", i, form)
		}
		paramCount, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		params := make([]ValueType, paramCount)
		for j := range params {
			if params[j], err = readValueType(cur); err != nil {
				return err
			}
		}
		resultCount, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		results := make([]ValueType, resultCount)
		for j := range results {
			if results[j], err = readValueType(cur); err != nil {
				return err
			}
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readImportSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		modName, err := readName(cur)
		if err != nil {
			return err
		}
		field, err := readName(cur)
		if err != nil {
			return err
		}
		kindByte, err := cur.ReadByte()
		if err != nil {
			return err
		}
		desc := ImportDesc{Kind: ExternalKind(kindByte)}
		switch desc.Kind {
		case ExternalFunction:
			desc.TypeIndex, err = leb128.ReadUint32(cur)
		case ExternalTable:
			desc.Table, err = readTableType(cur)
		case ExternalMemory:
			desc.Memory, err = readMemoryType(cur)
		case ExternalGlobal:
			desc.Global, err = readGlobalType(cur)
		default:
			err = malformed("import %d: unknown kind %#x", i, kindByte)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, Import{Module: modName, Field: field, Desc: desc})
	}
	return nil
}

func readFunctionSection(m *Module, cur *util.ByteReader) error {
	indices, err := readVaruint32Vec(cur)
	if err != nil {
		return err
	}
	m.Funcs = make([]Function, len(indices))
	for i, typeIdx := range indices {
		m.Funcs[i].TypeIndex = typeIdx
	}
	return nil
}

func readTableSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := readTableType(cur)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, Table{Type: t})
	}
	return nil
}

func readMemorySection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := readMemoryType(cur)
		if err != nil {
			return err
		}
		m.Mems = append(m.Mems, Memory{Type: t})
	}
	return nil
}

func readGlobalSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		gt, err := readGlobalType(cur)
		if err != nil {
			return err
		}
		init, err := readExpr(cur)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func readExportSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, n)
	for i := uint32(0); i < n; i++ {
		name, err := readName(cur)
		if err != nil {
			return err
		}
		if seen[name] {
			return invalid("duplicate export name %q", name)
		}
		seen[name] = true
		kindByte, err := cur.ReadByte()
		if err != nil {
			return err
		}
		idx, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: ExternalKind(kindByte), Index: idx})
	}
	return nil
}

func readStartSection(m *Module, cur *util.ByteReader) error {
	idx, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	m.HasStart = true
	m.Start = idx
	return nil
}

func readElementSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		tableIdx, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		offset, err := readExpr(cur)
		if err != nil {
			return err
		}
		funcs, err := readVaruint32Vec(cur)
		if err != nil {
			return err
		}
		m.Elements = append(m.Elements, ElementSegment{TableIndex: tableIdx, Offset: offset, Functions: funcs})
	}
	return nil
}

func readCodeSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	if int(n) != len(m.Funcs) {
		return malformed("code section has %d bodies but function section declared %d", n, len(m.Funcs))
	}
	for i := uint32(0); i < n; i++ {
		bodySize, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		bodyBytes, err := cur.Read(bodySize)
		if err != nil {
			return err
		}
		bodyCur := util.NewByteReader(bodyBytes)

		localCount, err := leb128.ReadUint32(bodyCur)
		if err != nil {
			return err
		}
		locals := make([]LocalGroup, localCount)
		for j := range locals {
			count, err := leb128.ReadUint32(bodyCur)
			if err != nil {
				return err
			}
			vt, err := readValueType(bodyCur)
			if err != nil {
				return err
			}
			locals[j] = LocalGroup{Count: count, Type: vt}
		}
		instrs, err := readExpr(bodyCur)
		if err != nil {
			return err
		}
		if bodyCur.Len() != 0 {
			return malformed("function body %d: %d trailing bytes", i, bodyCur.Len())
		}
		m.Funcs[i].Body = Code{Locals: locals, Instructions: instrs}
	}
	return nil
}

func readDataSection(m *Module, cur *util.ByteReader) error {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		memIdx, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		offset, err := readExpr(cur)
		if err != nil {
			return err
		}
		size, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		b, err := cur.Read(size)
		if err != nil {
			return err
		}
		m.Data = append(m.Data, DataSegment{MemoryIndex: memIdx, Offset: offset, Bytes: append([]byte{}, b...)})
	}
	return nil
}

// readExpr scans a raw instruction stream starting at cur's current
// position up to and including the `end` opcode that closes the
// outermost block level (depth transitions from 0 to -1), returning the
// full byte range including that terminating `end`. It tracks nesting
// via block/loop/if (+1 depth) and end (-1 depth) without materializing
// a typed instruction tree -- the interpreter decodes lazily from these
// raw bytes during execution, matching the teacher's choice to store
// function bodies as an undissected byte slice (`Code.Exprs`).
func readExpr(cur *util.ByteReader) ([]byte, error) {
	start := cur.Pos()
	depth := 0
	for {
		opByte, err := cur.ReadByte()
		if err != nil {
			return nil, malformed("reading instruction: %v", err)
		}
		op := opcode.Opcode(opByte)

		switch op {
		case opcode.Block, opcode.Loop, opcode.If:
			depth++
			if _, err := cur.ReadByte(); err != nil { // block type byte
				return nil, err
			}
			continue
		case opcode.End:
			depth--
			if depth < 0 {
				end := cur.Pos()
				return cur.Slice(start, end), nil
			}
			continue
		case opcode.Else:
			continue
		}

		info, ok := opcode.Lookup(op)
		if !ok {
			return nil, malformed("unknown opcode %#x", opByte)
		}
		if err := skipImmediate(cur, info.Shape); err != nil {
			return nil, err
		}
	}
}

func skipImmediate(cur *util.ByteReader, shape opcode.ImmediateShape) error {
	switch shape {
	case opcode.ShapeNone:
		return nil
	case opcode.ShapeBlockType:
		_, err := cur.ReadByte()
		return err
	case opcode.ShapeVaruint32:
		_, err := leb128.ReadUint32(cur)
		return err
	case opcode.ShapeVarint32:
		_, err := leb128.ReadInt32(cur)
		return err
	case opcode.ShapeVarint64:
		_, err := leb128.ReadInt64(cur)
		return err
	case opcode.ShapeF32:
		_, err := cur.Read(4)
		return err
	case opcode.ShapeF64:
		_, err := cur.Read(8)
		return err
	case opcode.ShapeMemArg:
		if _, err := leb128.ReadUint32(cur); err != nil {
			return err
		}
		_, err := leb128.ReadUint32(cur)
		return err
	case opcode.ShapeBrTable:
		n, err := leb128.ReadUint32(cur)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := leb128.ReadUint32(cur); err != nil {
				return err
			}
		}
		_, err = leb128.ReadUint32(cur)
		return err
	case opcode.ShapeCallIndirect:
		if _, err := leb128.ReadUint32(cur); err != nil {
			return err
		}
		_, err := cur.ReadByte() // reserved varuint1, always a single byte (0)
		return err
	default:
		return malformed("unknown immediate shape %d", shape)
	}
}

// ExecInitExpr evaluates a constant initializer expression -- a single
// iNN.const/fNN.const or global.get of an imported immutable global,
// followed by end -- returning its boxed result. Grounded in the
// teacher's `wasm/index.go` ExecInitExpr. global.get reads the value at
// that index from the caller-supplied, already-evaluated importedGlobals
// list; the global's mutability is not checked.
func (m *Module) ExecInitExpr(expr []byte, importedGlobals []interface{}) (interface{}, error) {
	cur := util.NewByteReader(expr)
	opByte, err := cur.ReadByte()
	if err != nil {
		return nil, err
	}
	var result interface{}
	switch opcode.Opcode(opByte) {
	case opcode.I32Const:
		v, err := leb128.ReadInt32(cur)
		if err != nil {
			return nil, err
		}
		result = v
	case opcode.I64Const:
		v, err := leb128.ReadInt64(cur)
		if err != nil {
			return nil, err
		}
		result = v
	case opcode.F32Const:
		b, err := cur.Read(4)
		if err != nil {
			return nil, err
		}
		result = binary.LittleEndian.Uint32(b)
	case opcode.F64Const:
		b, err := cur.Read(8)
		if err != nil {
			return nil, err
		}
		result = binary.LittleEndian.Uint64(b)
	case opcode.GlobalGet:
		idx, err := leb128.ReadUint32(cur)
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(importedGlobals) {
			return nil, invalid("init expr: global.get %d not an imported global", idx)
		}
		result = importedGlobals[idx]
	default:
		return nil, invalid("init expr: opcode %#x is not constant-producing", opByte)
	}
	endByte, err := cur.ReadByte()
	if err != nil || opcode.Opcode(endByte) != opcode.End {
		return nil, invalid("init expr: missing terminating end")
	}
	return result, nil
}

// buildIndexSpaces concatenates imports-then-locals for each of the four
// externally-typed kinds, per spec.md's index-space definition.
func (m *Module) buildIndexSpaces() {
	for _, imp := range m.Imports {
		switch imp.Desc.Kind {
		case ExternalFunction:
			m.FunctionIndexSpace = append(m.FunctionIndexSpace, imp.Desc.TypeIndex)
		case ExternalTable:
			m.TableIndexSpace = append(m.TableIndexSpace, imp.Desc.Table)
		case ExternalMemory:
			m.MemoryIndexSpace = append(m.MemoryIndexSpace, imp.Desc.Memory)
		case ExternalGlobal:
			m.GlobalIndexSpace = append(m.GlobalIndexSpace, imp.Desc.Global)
		}
	}
	for _, f := range m.Funcs {
		m.FunctionIndexSpace = append(m.FunctionIndexSpace, f.TypeIndex)
	}
	for _, t := range m.Tables {
		m.TableIndexSpace = append(m.TableIndexSpace, t.Type)
	}
	for _, mem := range m.Mems {
		m.MemoryIndexSpace = append(m.MemoryIndexSpace, mem.Type)
	}
	for _, g := range m.Globals {
		m.GlobalIndexSpace = append(m.GlobalIndexSpace, g.Type)
	}
}
