package wasm

import "sort"

// FunctionName pairs a function index with its debug name.
type FunctionName struct {
	Index uint32
	Name  string
}

// nameSubsectionFunctions is the function-names subsection of the "name" section.
const nameSubsectionFunctions = 1

// functionNames lists a name for every import and every defined function that
// has a symbol, ordered by function index.
func (m *Module) functionNames() []FunctionName {
	seen := make(map[uint32]bool)
	var names []FunctionName
	for i, imp := range m.Imports {
		idx := uint32(i)
		names = append(names, FunctionName{Index: idx, Name: imp.Name})
		seen[idx] = true
	}
	for i := range m.Symbols {
		sym := &m.Symbols[i]
		if sym.Kind != SymFunction || !sym.Defined() || sym.Name == "" || int(sym.Index) >= len(m.funcs) {
			continue
		}
		idx := m.FunctionIndex(sym.Index)
		if seen[idx] {
			continue
		}
		seen[idx] = true
		names = append(names, FunctionName{Index: idx, Name: sym.Name})
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Index < names[j].Index })
	return names
}

// encodeNames builds the payload of the "name" custom section, or nil when
// no function has a name.
func (m *Module) encodeNames() []byte {
	names := m.functionNames()
	if len(names) == 0 {
		return nil
	}
	sub := AppendULEB(nil, uint64(len(names)))
	for _, n := range names {
		sub = AppendULEB(sub, uint64(n.Index))
		sub = appendName(sub, n.Name)
	}
	b := []byte{nameSubsectionFunctions}
	b = AppendULEB(b, uint64(len(sub)))
	return append(b, sub...)
}

func (s *Summary) inspectNames(r *reader) error {
	for r.pos < len(r.b) {
		id, err := r.readByte()
		if err != nil {
			return err
		}
		size, err := r.uleb()
		if err != nil {
			return err
		}
		end := r.pos + int(size)
		if id != nameSubsectionFunctions {
			r.pos = end
			continue
		}
		n, err := r.uleb()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			idx, err := r.uleb()
			if err != nil {
				return err
			}
			name, err := r.name()
			if err != nil {
				return err
			}
			s.FunctionNames = append(s.FunctionNames, FunctionName{Index: uint32(idx), Name: name})
		}
		r.pos = end
	}
	return nil
}
