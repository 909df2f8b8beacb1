package wasm

import (
	"bytes"
	"sort"

	"github.com/tinywasm/tinywasm/leb128"
	"github.com/tinywasm/tinywasm/util"
)

// NameSection is the facade over the `name` custom section's three
// subsections: module_name, function_names (index -> name), and
// local_names (function index -> (local index -> name)). Entirely new,
// grounded in the generic `CustomSection{Name, Data}` shape seen in
// `jcklie-jwasm`'s module.go, specialized to the name-section
// convention's three fixed subsection ids.
type NameSection struct {
	HasModuleName bool
	ModuleName    string
	FunctionNames map[uint32]string
	LocalNames    map[uint32]map[uint32]string
}

const (
	nameSubsectionModule   = 0
	nameSubsectionFunction = 1
	nameSubsectionLocal    = 2
)

// Names locates the `name` custom section, if any, and decodes it. A
// module with no name section returns a nil NameSection and ok=false.
func (m *Module) Names() (*NameSection, bool, error) {
	for _, c := range m.Customs {
		if c.Name != "name" {
			continue
		}
		ns, err := decodeNameSection(c.Data)
		if err != nil {
			return nil, false, err
		}
		return ns, true, nil
	}
	return nil, false, nil
}

// SetNames replaces (or adds) the `name` custom section with ns's
// encoding.
func (m *Module) SetNames(ns *NameSection) {
	encoded := CustomSection{Name: "name", Data: encodeNameSection(ns)}
	for i, c := range m.Customs {
		if c.Name == "name" {
			m.Customs[i] = encoded
			return
		}
	}
	m.Customs = append(m.Customs, encoded)
}

func decodeNameSection(data []byte) (*NameSection, error) {
	ns := &NameSection{FunctionNames: map[uint32]string{}, LocalNames: map[uint32]map[uint32]string{}}
	cur := util.NewByteReader(data)
	for cur.Len() > 0 {
		id, err := cur.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := leb128.ReadUint32(cur)
		if err != nil {
			return nil, err
		}
		payload, err := cur.Read(size)
		if err != nil {
			return nil, err
		}
		sub := util.NewByteReader(payload)
		switch id {
		case nameSubsectionModule:
			name, err := readName(sub)
			if err != nil {
				return nil, err
			}
			ns.HasModuleName = true
			ns.ModuleName = name
		case nameSubsectionFunction:
			m, err := readNameMap(sub)
			if err != nil {
				return nil, err
			}
			ns.FunctionNames = m
		case nameSubsectionLocal:
			n, err := leb128.ReadUint32(sub)
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				funcIdx, err := leb128.ReadUint32(sub)
				if err != nil {
					return nil, err
				}
				locals, err := readNameMap(sub)
				if err != nil {
					return nil, err
				}
				ns.LocalNames[funcIdx] = locals
			}
		default:
			// Unknown name subsection id: skip, per the custom-section
			// "best effort, never fatal" propagation rule (spec.md §7).
		}
	}
	return ns, nil
}

func readNameMap(cur *util.ByteReader) (map[uint32]string, error) {
	n, err := leb128.ReadUint32(cur)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]string, n)
	for i := uint32(0); i < n; i++ {
		idx, err := leb128.ReadUint32(cur)
		if err != nil {
			return nil, err
		}
		name, err := readName(cur)
		if err != nil {
			return nil, err
		}
		out[idx] = name
	}
	return out, nil
}

func encodeNameSection(ns *NameSection) []byte {
	var out bytes.Buffer
	if ns.HasModuleName {
		var payload bytes.Buffer
		writeName(&payload, ns.ModuleName)
		writeNameSubsection(&out, nameSubsectionModule, payload.Bytes())
	}
	if len(ns.FunctionNames) > 0 {
		var payload bytes.Buffer
		writeNameMap(&payload, ns.FunctionNames)
		writeNameSubsection(&out, nameSubsectionFunction, payload.Bytes())
	}
	if len(ns.LocalNames) > 0 {
		funcIndices := make([]uint32, 0, len(ns.LocalNames))
		for idx := range ns.LocalNames {
			funcIndices = append(funcIndices, idx)
		}
		sort.Slice(funcIndices, func(i, j int) bool { return funcIndices[i] < funcIndices[j] })

		var payload bytes.Buffer
		payload.Write(leb128.EncodeUint32(uint32(len(ns.LocalNames))))
		for _, funcIdx := range funcIndices {
			payload.Write(leb128.EncodeUint32(funcIdx))
			writeNameMap(&payload, ns.LocalNames[funcIdx])
		}
		writeNameSubsection(&out, nameSubsectionLocal, payload.Bytes())
	}
	return out.Bytes()
}

func writeNameSubsection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	out.Write(leb128.EncodeUint32(uint32(len(payload))))
	out.Write(payload)
}

// writeNameMap emits entries in ascending index order: the binary
// format does not require sorted order, but map iteration order is
// nondeterministic in Go, and name-map entries must encode identically
// on every call for the round-trip law (spec.md §8) to hold.
func writeNameMap(out *bytes.Buffer, m map[uint32]string) {
	indices := make([]uint32, 0, len(m))
	for idx := range m {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out.Write(leb128.EncodeUint32(uint32(len(m))))
	for _, idx := range indices {
		out.Write(leb128.EncodeUint32(idx))
		writeName(out, m[idx])
	}
}
