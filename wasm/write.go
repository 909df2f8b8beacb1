package wasm

import (
	"bytes"
	"encoding/binary"

	"github.com/tinywasm/tinywasm/leb128"
)

// Write serializes m to the canonical MVP binary format: the fixed
// preamble followed by known sections in ascending id order, each
// length-prefixed with its computed payload_length, mirroring Read's
// section set. Custom sections are emitted after all known sections, in
// the order they appear on m.Customs -- this covers the common producer
// convention (e.g. a trailing `name` section) but does not reproduce an
// original byte-for-byte interleaving of custom sections between known
// ones, since Module does not record original section position.
func Write(m *Module) []byte {
	var out bytes.Buffer
	writeU32(&out, Magic)
	writeU32(&out, Version)

	writeKnownSection(&out, SectionType, writeTypeSection(m))
	writeKnownSection(&out, SectionImport, writeImportSection(m))
	writeKnownSection(&out, SectionFunction, writeFunctionSection(m))
	writeKnownSection(&out, SectionTable, writeTableSection(m))
	writeKnownSection(&out, SectionMemory, writeMemorySection(m))
	writeKnownSection(&out, SectionGlobal, writeGlobalSection(m))
	writeKnownSection(&out, SectionExport, writeExportSection(m))
	if m.HasStart {
		writeKnownSection(&out, SectionStart, leb128.EncodeUint32(m.Start))
	}
	writeKnownSection(&out, SectionElement, writeElementSection(m))
	writeKnownSection(&out, SectionCode, writeCodeSection(m))
	writeKnownSection(&out, SectionData, writeDataSection(m))

	for _, c := range m.Customs {
		var payload bytes.Buffer
		writeName(&payload, c.Name)
		payload.Write(c.Data)
		writeSectionHeader(&out, SectionCustom, payload.Len())
		out.Write(payload.Bytes())
	}

	return out.Bytes()
}

func writeU32(out *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	out.Write(buf[:])
}

// writeKnownSection emits a section only if its payload is non-empty,
// matching the reader's expectation that an absent known section simply
// has zero entries rather than an empty-but-present section -- the
// reader never requires zero-length known sections to be present, so
// omitting them keeps the common case (e.g. no element segments) from
// growing the encoding.
func writeKnownSection(out *bytes.Buffer, id SectionID, payload []byte) {
	if len(payload) == 0 {
		return
	}
	writeSectionHeader(out, id, len(payload))
	out.Write(payload)
}

func writeSectionHeader(out *bytes.Buffer, id SectionID, payloadLen int) {
	out.WriteByte(byte(id))
	out.Write(leb128.EncodeUint32(uint32(payloadLen)))
}

func writeName(out *bytes.Buffer, s string) {
	out.Write(leb128.EncodeUint32(uint32(len(s))))
	out.WriteString(s)
}

func writeValueType(out *bytes.Buffer, vt ValueType) {
	out.WriteByte(byte(vt))
}

func writeLimits(out *bytes.Buffer, l Limits) {
	if l.HasMax {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	out.Write(leb128.EncodeUint32(l.Initial))
	if l.HasMax {
		out.Write(leb128.EncodeUint32(l.Maximum))
	}
}

func writeTableType(out *bytes.Buffer, t TableType) {
	out.WriteByte(t.ElementType)
	writeLimits(out, t.Limits)
}

func writeMemoryType(out *bytes.Buffer, t MemoryType) {
	writeLimits(out, t.Limits)
}

func writeGlobalType(out *bytes.Buffer, t GlobalType) {
	writeValueType(out, t.Type)
	if t.Mutable {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
}

func writeTypeSection(m *Module) []byte {
	if len(m.Types) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Types))))
	for _, t := range m.Types {
		out.WriteByte(FuncTypeForm)
		out.Write(leb128.EncodeUint32(uint32(len(t.Params))))
		for _, p := range t.Params {
			writeValueType(&out, p)
		}
		out.Write(leb128.EncodeUint32(uint32(len(t.Results))))
		for _, r := range t.Results {
			writeValueType(&out, r)
		}
	}
	return out.Bytes()
}

func writeImportSection(m *Module) []byte {
	if len(m.Imports) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Imports))))
	for _, imp := range m.Imports {
		writeName(&out, imp.Module)
		writeName(&out, imp.Field)
		out.WriteByte(byte(imp.Desc.Kind))
		switch imp.Desc.Kind {
		case ExternalFunction:
			out.Write(leb128.EncodeUint32(imp.Desc.TypeIndex))
		case ExternalTable:
			writeTableType(&out, imp.Desc.Table)
		case ExternalMemory:
			writeMemoryType(&out, imp.Desc.Memory)
		case ExternalGlobal:
			writeGlobalType(&out, imp.Desc.Global)
		}
	}
	return out.Bytes()
}

func writeFunctionSection(m *Module) []byte {
	if len(m.Funcs) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Funcs))))
	for _, f := range m.Funcs {
		out.Write(leb128.EncodeUint32(f.TypeIndex))
	}
	return out.Bytes()
}

func writeTableSection(m *Module) []byte {
	if len(m.Tables) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Tables))))
	for _, t := range m.Tables {
		writeTableType(&out, t.Type)
	}
	return out.Bytes()
}

func writeMemorySection(m *Module) []byte {
	if len(m.Mems) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Mems))))
	for _, mem := range m.Mems {
		writeMemoryType(&out, mem.Type)
	}
	return out.Bytes()
}

func writeGlobalSection(m *Module) []byte {
	if len(m.Globals) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Globals))))
	for _, g := range m.Globals {
		writeGlobalType(&out, g.Type)
		out.Write(g.Init)
	}
	return out.Bytes()
}

func writeExportSection(m *Module) []byte {
	if len(m.Exports) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Exports))))
	for _, e := range m.Exports {
		writeName(&out, e.Name)
		out.WriteByte(byte(e.Kind))
		out.Write(leb128.EncodeUint32(e.Index))
	}
	return out.Bytes()
}

func writeElementSection(m *Module) []byte {
	if len(m.Elements) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Elements))))
	for _, e := range m.Elements {
		out.Write(leb128.EncodeUint32(e.TableIndex))
		out.Write(e.Offset)
		out.Write(leb128.EncodeUint32(uint32(len(e.Functions))))
		for _, f := range e.Functions {
			out.Write(leb128.EncodeUint32(f))
		}
	}
	return out.Bytes()
}

func writeCodeSection(m *Module) []byte {
	if len(m.Funcs) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Funcs))))
	for _, f := range m.Funcs {
		var body bytes.Buffer
		body.Write(leb128.EncodeUint32(uint32(len(f.Body.Locals))))
		for _, lg := range f.Body.Locals {
			body.Write(leb128.EncodeUint32(lg.Count))
			writeValueType(&body, lg.Type)
		}
		body.Write(f.Body.Instructions)

		out.Write(leb128.EncodeUint32(uint32(body.Len())))
		out.Write(body.Bytes())
	}
	return out.Bytes()
}

func writeDataSection(m *Module) []byte {
	if len(m.Data) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Data))))
	for _, d := range m.Data {
		out.Write(leb128.EncodeUint32(d.MemoryIndex))
		out.Write(d.Offset)
		out.Write(leb128.EncodeUint32(uint32(len(d.Bytes))))
		out.Write(d.Bytes)
	}
	return out.Bytes()
}
