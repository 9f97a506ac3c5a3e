package layout

import (
	"wasmgen/internal/ir"
)

// TypeLayout is the memory layout of an IR layout for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only:
	FieldOffsets []int
}

// LayoutEngine computes memory layout for interned IR layouts.
type LayoutEngine struct {
	Target  Target
	Layouts *ir.LayoutInterner

	cache *cache
}

// New creates a new LayoutEngine for the specified target.
func New(target Target, layouts *ir.LayoutInterner) *LayoutEngine {
	return &LayoutEngine{
		Target:  target,
		Layouts: layouts,
		cache:   newCache(),
	}
}

type layoutState struct {
	stack []ir.LayoutID
	index map[ir.LayoutID]int
}

func newLayoutState() *layoutState {
	return &layoutState{
		stack: nil,
		index: make(map[ir.LayoutID]int, 32),
	}
}

// LayoutOf computes and caches the layout of id.
func (e *LayoutEngine) LayoutOf(id ir.LayoutID) (TypeLayout, error) {
	if e == nil {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	if e.cache == nil {
		e.cache = newCache()
	}
	layout, err := e.layoutOf(id, newLayoutState())
	if err != nil {
		return layout, err
	}
	return layout, nil
}

func (e *LayoutEngine) layoutOf(id ir.LayoutID, state *layoutState) (TypeLayout, *LayoutError) {
	if cached, ok := e.cache.get(id); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[id]; ok {
		cycle := append([]ir.LayoutID(nil), state.stack[idx:]...)
		cycle = append(cycle, id)
		err := &LayoutError{
			Kind:   LayoutErrRecursiveUnsized,
			Layout: id,
			Cycle:  cycle,
		}
		e.cache.put(id, &cacheEntry{Layout: TypeLayout{Size: 0, Align: 1}, Err: err})
		return TypeLayout{Size: 0, Align: 1}, err
	}

	state.index[id] = len(state.stack)
	state.stack = append(state.stack, id)
	layout, err := e.computeLayout(id, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, id)

	e.cache.put(id, &cacheEntry{Layout: layout, Err: err})
	return layout, err
}

// SizeOf returns the size of a layout in bytes.
func (e *LayoutEngine) SizeOf(id ir.LayoutID) (int, error) {
	l, err := e.LayoutOf(id)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a layout in bytes.
func (e *LayoutEngine) AlignOf(id ir.LayoutID) (int, error) {
	l, err := e.LayoutOf(id)
	return l.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (e *LayoutEngine) FieldOffset(structID ir.LayoutID, fieldIdx int) (int, error) {
	l, err := e.LayoutOf(structID)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, nil
	}
	return l.FieldOffsets[fieldIdx], nil
}

// StructLayout lays out an anonymous struct of fields, e.g. the payload of one tag.
func (e *LayoutEngine) StructLayout(fields []ir.LayoutID) (TypeLayout, error) {
	l, err := e.structLayout(fields, newLayoutState())
	if err != nil {
		return l, err
	}
	return l, nil
}
