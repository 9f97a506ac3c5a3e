package layout

import (
	"wasmgen/internal/ir"
)

// UnionInfo summarises the physical encoding of a tag union.
//
// For inline unions DataSize is the size of the value itself; for heap unions
// it is the size of the allocation the pointer refers to.
type UnionInfo struct {
	Layout ir.LayoutID
	Union  ir.UnionLayout

	DataSize  int
	DataAlign int

	// TagIDAsData means the id is a trailing field of width DataAlign at TagIDOffset.
	TagIDAsData bool
	TagIDOffset int
	// TagIDInPointer means the id lives in the low bits of the heap pointer.
	TagIDInPointer bool

	// HeapAlign is the alignment requested from the allocator.
	HeapAlign int
}

// PtrTagMask selects the tag id bits of a tagged heap pointer.
func (e *LayoutEngine) PtrTagMask() int32 {
	return int32(e.ptrLayout().Size - 1)
}

// storesTagIDInPointer reports whether the union's tag ids fit the pointer's alignment bits.
func (e *LayoutEngine) storesTagIDInPointer(u *ir.UnionLayout) bool {
	switch u.Kind {
	case ir.UnionRecursive, ir.UnionNullableWrapped:
		return u.TagCount() < e.ptrLayout().Size
	default:
		return false
	}
}

func (e *LayoutEngine) storesTagIDAsData(u *ir.UnionLayout) bool {
	switch u.Kind {
	case ir.UnionNonRecursive:
		return true
	case ir.UnionRecursive, ir.UnionNullableWrapped:
		return !e.storesTagIDInPointer(u)
	default:
		return false
	}
}

func tagIDWidth(u *ir.UnionLayout) int {
	if u.TagCount() <= 256 {
		return 1
	}
	return 2
}

func (e *LayoutEngine) unionData(id ir.LayoutID, u *ir.UnionLayout, state *layoutState) (int, int, *LayoutError) {
	size := 0
	align := 1
	for _, tag := range u.DataTags() {
		fields, ok := u.TagFields(tag)
		if !ok {
			return 0, 1, &LayoutError{Kind: LayoutErrNoSuchTag, Layout: id, Tag: tag}
		}
		payload, err := e.structLayout(fields, state)
		if err != nil {
			return 0, 1, err
		}
		size = max(size, payload.Size)
		align = max(align, payload.Align)
	}
	if e.storesTagIDAsData(u) {
		align = max(align, tagIDWidth(u))
		return roundUp(size, align) + align, align, nil
	}
	return roundUp(size, align), align, nil
}

// Union describes the encoding of the union layout id.
func (e *LayoutEngine) Union(id ir.LayoutID) (UnionInfo, error) {
	l, ok := e.Layouts.Lookup(e.Layouts.Runtime(id))
	if !ok || l.Kind != ir.LayoutKindUnion {
		return UnionInfo{}, &LayoutError{Kind: LayoutErrUnsupported, Layout: id, Detail: "not a tag union"}
	}
	size, align, err := e.unionData(id, &l.Union, newLayoutState())
	if err != nil {
		return UnionInfo{}, err
	}
	info := UnionInfo{
		Layout:         id,
		Union:          l.Union,
		DataSize:       size,
		DataAlign:      align,
		TagIDAsData:    e.storesTagIDAsData(&l.Union),
		TagIDInPointer: e.storesTagIDInPointer(&l.Union),
		HeapAlign:      align,
	}
	if info.TagIDAsData {
		info.TagIDOffset = size - align
	}
	if info.TagIDInPointer {
		info.HeapAlign = max(align, e.ptrLayout().Size)
	}
	return info, nil
}

// TagFields returns the field layouts of tag and their byte offsets within the tag's data.
func (e *LayoutEngine) TagFields(info UnionInfo, tag ir.TagID) ([]ir.LayoutID, []int, error) {
	fields, ok := info.Union.TagFields(tag)
	if !ok {
		return nil, nil, &LayoutError{Kind: LayoutErrNoSuchTag, Layout: info.Layout, Tag: tag}
	}
	payload, err := e.StructLayout(fields)
	if err != nil {
		return nil, nil, err
	}
	return fields, payload.FieldOffsets, nil
}
