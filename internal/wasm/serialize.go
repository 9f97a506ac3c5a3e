package wasm

import (
	"fmt"
)

// Section ids.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type sectionWriter struct {
	out   []byte
	count uint32
}

func (w *sectionWriter) section(id byte, payload []byte) {
	w.out = append(w.out, id)
	w.out = AppendULEB(w.out, uint64(len(payload)))
	w.out = append(w.out, payload...)
	w.count++
}

func (w *sectionWriter) custom(name string, payload []byte) {
	body := appendName(nil, name)
	w.section(SectionCustom, append(body, payload...))
}

// Serialize encodes the module, including the linking and reloc.CODE sections
// and a "name" section for debuggers and the dump command.
func (m *Module) Serialize() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w := &sectionWriter{out: append([]byte(nil), header...)}

	if len(m.Types) > 0 {
		b := AppendULEB(nil, uint64(len(m.Types)))
		for _, sig := range m.Types {
			b = append(b, 0x60)
			b = AppendULEB(b, uint64(len(sig.Params)))
			for _, p := range sig.Params {
				b = append(b, byte(p))
			}
			b = AppendULEB(b, uint64(len(sig.Results)))
			for _, r := range sig.Results {
				b = append(b, byte(r))
			}
		}
		w.section(SectionType, b)
	}

	if len(m.Imports) > 0 {
		b := AppendULEB(nil, uint64(len(m.Imports)))
		for _, imp := range m.Imports {
			b = appendName(b, imp.Module)
			b = appendName(b, imp.Name)
			b = append(b, byte(ExportFunc))
			b = AppendULEB(b, uint64(imp.TypeIndex))
		}
		w.section(SectionImport, b)
	}

	if len(m.funcs) > 0 {
		b := AppendULEB(nil, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			b = AppendULEB(b, uint64(f.typeIndex))
		}
		w.section(SectionFunction, b)
	}

	if m.MemoryPages > 0 {
		b := AppendULEB(nil, 1)
		b = append(b, 0x00)
		b = AppendULEB(b, uint64(m.MemoryPages))
		w.section(SectionMemory, b)
	}

	if len(m.Globals) > 0 {
		b := AppendULEB(nil, uint64(len(m.Globals)))
		for _, g := range m.Globals {
			b = append(b, byte(g.Type))
			if g.Mutable {
				b = append(b, 0x01)
			} else {
				b = append(b, 0x00)
			}
			switch g.Type {
			case I64:
				b = append(b, byte(OpI64Const))
			default:
				b = append(b, byte(OpI32Const))
			}
			b = AppendSLEB(b, g.Init)
			b = append(b, byte(OpEnd))
		}
		w.section(SectionGlobal, b)
	}

	if len(m.Exports) > 0 {
		b := AppendULEB(nil, uint64(len(m.Exports)))
		for _, exp := range m.Exports {
			b = appendName(b, exp.Name)
			b = append(b, byte(exp.Kind))
			idx := exp.Index
			if exp.Kind == ExportFunc {
				idx = m.FunctionIndex(idx)
			}
			b = AppendULEB(b, uint64(idx))
		}
		w.section(SectionExport, b)
	}

	var relocs []RelocationEntry
	codeSectionIndex := w.count
	if len(m.funcs) > 0 {
		b, r, err := m.encodeCode()
		if err != nil {
			return nil, err
		}
		relocs = r
		w.section(SectionCode, b)
	}

	if len(m.Data) > 0 {
		b := AppendULEB(nil, uint64(len(m.Data)))
		for _, seg := range m.Data {
			b = append(b, 0x00, byte(OpI32Const))
			b = AppendSLEB(b, int64(seg.Base))
			b = append(b, byte(OpEnd))
			b = AppendULEB(b, uint64(len(seg.Init)))
			b = append(b, seg.Init...)
		}
		w.section(SectionData, b)
	}

	w.custom("linking", m.encodeLinking())
	if len(relocs) > 0 {
		w.custom("reloc.CODE", encodeRelocations(codeSectionIndex, relocs))
	}
	if names := m.encodeNames(); names != nil {
		w.custom("name", names)
	}
	return w.out, nil
}

func (m *Module) encodeCode() ([]byte, []RelocationEntry, error) {
	b := AppendULEB(nil, uint64(len(m.funcs)))
	var relocs []RelocationEntry
	for i, f := range m.funcs {
		if err := m.checkCalls(f.code); err != nil {
			return nil, nil, fmt.Errorf("function %d: %w", i, err)
		}
		body, bodyRelocs := f.code.Body()
		for _, r := range bodyRelocs {
			if r.Type != RelocFunctionIndexLEB {
				continue
			}
			idx, err := m.resolveFunction(r.SymbolIndex)
			if err != nil {
				return nil, nil, fmt.Errorf("function %d: %w", i, err)
			}
			PatchPaddedU32(body, int(r.Offset), idx)
		}
		b = AppendULEB(b, uint64(len(body)))
		base := mustU32(len(b))
		for _, r := range bodyRelocs {
			r.Offset += base
			relocs = append(relocs, r)
		}
		b = append(b, body...)
	}
	return b, relocs, nil
}

func (m *Module) resolveFunction(symIndex uint32) (uint32, error) {
	if int(symIndex) >= len(m.Symbols) {
		return 0, fmt.Errorf("wasm: relocation against unknown symbol %d", symIndex)
	}
	sym := &m.Symbols[symIndex]
	if sym.Kind != SymFunction {
		return 0, fmt.Errorf("wasm: call relocation against %s symbol %q", sym.Kind, sym.Name)
	}
	if sym.Defined() {
		return m.FunctionIndex(sym.Index), nil
	}
	return sym.Index, nil
}

// checkCalls compares the recorded arity of each call with the callee's signature.
func (m *Module) checkCalls(code *CodeBuilder) error {
	for _, call := range code.Calls() {
		sig, ok := m.calleeSignature(call.SymbolIndex)
		if !ok {
			continue
		}
		if len(sig.Params) != call.ArgCount || (len(sig.Results) > 0) != call.HasReturn {
			return fmt.Errorf("wasm: call to %q passes %d arguments (result %t), callee is %s",
				m.Symbols[call.SymbolIndex].Name, call.ArgCount, call.HasReturn, sig)
		}
	}
	return nil
}

// calleeSignature finds the signature behind a function symbol, if it is known yet.
func (m *Module) calleeSignature(symIndex uint32) (Signature, bool) {
	if int(symIndex) >= len(m.Symbols) {
		return Signature{}, false
	}
	sym := &m.Symbols[symIndex]
	if sym.Kind != SymFunction {
		return Signature{}, false
	}
	var typeIndex uint32
	switch {
	case sym.Defined():
		if int(sym.Index) >= len(m.funcs) || !m.funcs[sym.Index].defined {
			return Signature{}, false
		}
		typeIndex = m.funcs[sym.Index].typeIndex
	case int(sym.Index) < len(m.Imports):
		typeIndex = m.Imports[sym.Index].TypeIndex
	default:
		return Signature{}, false
	}
	return m.Types[typeIndex], true
}
