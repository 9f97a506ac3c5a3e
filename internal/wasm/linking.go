package wasm

import "fmt"

// RelocationType is a relocation kind from the wasm object file conventions.
type RelocationType uint8

const (
	RelocFunctionIndexLEB RelocationType = 0
	RelocTableIndexSLEB   RelocationType = 1
	RelocTableIndexI32    RelocationType = 2
	RelocMemoryAddrLEB    RelocationType = 3
	RelocMemoryAddrSLEB   RelocationType = 4
	RelocMemoryAddrI32    RelocationType = 5
	RelocTypeIndexLEB     RelocationType = 6
	RelocGlobalIndexLEB   RelocationType = 7
)

func (t RelocationType) hasAddend() bool {
	switch t {
	case RelocMemoryAddrLEB, RelocMemoryAddrSLEB, RelocMemoryAddrI32:
		return true
	default:
		return false
	}
}

func (t RelocationType) String() string {
	switch t {
	case RelocFunctionIndexLEB:
		return "R_WASM_FUNCTION_INDEX_LEB"
	case RelocTableIndexSLEB:
		return "R_WASM_TABLE_INDEX_SLEB"
	case RelocTableIndexI32:
		return "R_WASM_TABLE_INDEX_I32"
	case RelocMemoryAddrLEB:
		return "R_WASM_MEMORY_ADDR_LEB"
	case RelocMemoryAddrSLEB:
		return "R_WASM_MEMORY_ADDR_SLEB"
	case RelocMemoryAddrI32:
		return "R_WASM_MEMORY_ADDR_I32"
	case RelocTypeIndexLEB:
		return "R_WASM_TYPE_INDEX_LEB"
	case RelocGlobalIndexLEB:
		return "R_WASM_GLOBAL_INDEX_LEB"
	default:
		return fmt.Sprintf("reloc(%d)", uint8(t))
	}
}

// RelocationEntry patches one immediate in the code section.
type RelocationEntry struct {
	Type        RelocationType
	Offset      uint32
	SymbolIndex uint32
	Addend      int32
}

// SymKind is the kind of a linker symbol.
type SymKind uint8

const (
	SymFunction SymKind = 0
	SymData     SymKind = 1
	SymGlobal   SymKind = 2
)

func (k SymKind) String() string {
	switch k {
	case SymFunction:
		return "function"
	case SymData:
		return "data"
	case SymGlobal:
		return "global"
	default:
		return fmt.Sprintf("symkind(%d)", uint8(k))
	}
}

// Symbol flags.
const (
	SymBindingWeak  uint32 = 0x01
	SymBindingLocal uint32 = 0x02
	SymVisHidden    uint32 = 0x04
	SymUndefined    uint32 = 0x10
	SymExported     uint32 = 0x20
	SymExplicitName uint32 = 0x40
)

// SymInfo is one entry of the linking symbol table.
//
// For defined functions Index is the procedure index; it is shifted past the
// imports when the table is encoded. For undefined functions Index is the
// import index. Data symbols use Segment, Offset and Size instead.
type SymInfo struct {
	Kind  SymKind
	Flags uint32
	Name  string
	Index uint32

	Segment uint32
	Offset  uint32
	Size    uint32
}

// Defined reports whether the symbol is defined in this module.
func (s *SymInfo) Defined() bool { return s.Flags&SymUndefined == 0 }

// SegmentInfo names a data segment for the linker.
type SegmentInfo struct {
	Name string
	// Align is the log2 alignment.
	Align uint32
	Flags uint32
}

// Linking subsection ids.
const (
	linkingSegmentInfo = 5
	linkingSymbolTable = 8
)

// LinkingVersion is the version of the linking custom section.
const LinkingVersion = 2

func (m *Module) encodeSymbol(b []byte, s *SymInfo) []byte {
	b = append(b, byte(s.Kind))
	b = AppendULEB(b, uint64(s.Flags))
	switch s.Kind {
	case SymFunction, SymGlobal:
		idx := s.Index
		if s.Kind == SymFunction && s.Defined() {
			idx = m.FunctionIndex(s.Index)
		}
		b = AppendULEB(b, uint64(idx))
		if s.Defined() || s.Flags&SymExplicitName != 0 {
			b = appendName(b, s.Name)
		}
	case SymData:
		b = appendName(b, s.Name)
		if s.Defined() {
			b = AppendULEB(b, uint64(s.Segment))
			b = AppendULEB(b, uint64(s.Offset))
			b = AppendULEB(b, uint64(s.Size))
		}
	}
	return b
}

func (m *Module) encodeLinking() []byte {
	b := AppendULEB(nil, LinkingVersion)

	if len(m.Segments) > 0 {
		var sub []byte
		sub = AppendULEB(sub, uint64(len(m.Segments)))
		for _, seg := range m.Segments {
			sub = appendName(sub, seg.Name)
			sub = AppendULEB(sub, uint64(seg.Align))
			sub = AppendULEB(sub, uint64(seg.Flags))
		}
		b = append(b, linkingSegmentInfo)
		b = AppendULEB(b, uint64(len(sub)))
		b = append(b, sub...)
	}

	var sub []byte
	sub = AppendULEB(sub, uint64(len(m.Symbols)))
	for i := range m.Symbols {
		sub = m.encodeSymbol(sub, &m.Symbols[i])
	}
	b = append(b, linkingSymbolTable)
	b = AppendULEB(b, uint64(len(sub)))
	return append(b, sub...)
}

func encodeRelocations(codeSectionIndex uint32, relocs []RelocationEntry) []byte {
	b := AppendULEB(nil, uint64(codeSectionIndex))
	b = AppendULEB(b, uint64(len(relocs)))
	for _, r := range relocs {
		b = append(b, byte(r.Type))
		b = AppendULEB(b, uint64(r.Offset))
		b = AppendULEB(b, uint64(r.SymbolIndex))
		if r.Type.hasAddend() {
			b = AppendSLEB(b, int64(r.Addend))
		}
	}
	return b
}
