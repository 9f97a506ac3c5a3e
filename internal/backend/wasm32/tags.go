package wasm32

import (
	"fortio.org/safecast"

	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

func (b *Backend) unionInfo(id ir.LayoutID) (layout.UnionInfo, error) {
	info, err := b.engine.Union(id)
	if err != nil {
		return info, layoutError(err, b.layouts.Describe(id))
	}
	return info, nil
}

func (b *Backend) tagFields(info layout.UnionInfo, tag ir.TagID) ([]ir.LayoutID, []int, error) {
	fields, offsets, err := b.engine.TagFields(info, tag)
	if err != nil {
		return nil, nil, &CompileError{Kind: ErrRepresentation, Detail: b.layouts.Describe(info.Layout), Err: err}
	}
	return fields, offsets, nil
}

// buildTag constructs a tag union value. Inline unions are written into the
// symbol's memory; heap unions are allocated and the symbol gets the pointer.
func (b *Backend) buildTag(sym ir.Symbol, e *ir.TagExpr, sv StoredValue) error {
	info, err := b.unionInfo(e.Union)
	if err != nil {
		return err
	}
	u := &info.Union

	if u.TagIsNull(e.TagID) {
		if sv.Kind == StoredStackMemory {
			return errorf(ErrRepresentation, "null tag of an inline union")
		}
		b.code.I32Const(0)
		b.finishPrimitive(sv)
		return nil
	}

	fields, offsets, err := b.tagFields(info, e.TagID)
	if err != nil {
		return err
	}
	if len(fields) != len(e.Arguments) {
		return errorf(ErrRepresentation, "tag %d takes %d arguments, got %d", e.TagID, len(fields), len(e.Arguments))
	}

	var base wasm.LocalID
	var baseOffset uint32
	heap := sv.Kind != StoredStackMemory
	if heap {
		if !u.IsHeap() {
			return errorf(ErrRepresentation, "inline union %d is not in memory", sym)
		}
		size, err := safecast.Conv[uint32](info.DataSize)
		if err != nil {
			return errorf(ErrInternal, "union size %d", info.DataSize)
		}
		if err := b.allocateWithRefcount(size, info.HeapAlign, 1); err != nil {
			return err
		}
		base = b.storage.CreateAnonymousLocal(wasm.I32)
		b.code.SetLocal(base)
	} else {
		base, baseOffset = b.storage.localAndOffset(sv.Location)
	}

	for i, arg := range e.Arguments {
		if err := b.storage.CopyValueToMemory(b.code, base, baseOffset+uint32(offsets[i]), arg); err != nil {
			return err
		}
	}

	if info.TagIDAsData {
		idOffset := baseOffset + uint32(info.TagIDOffset)
		b.code.GetLocal(base)
		if info.DataAlign == 8 {
			b.code.I64Const(int64(e.TagID))
			b.code.Store(wasm.OpI64Store, wasm.Align8, idOffset)
		} else {
			b.code.I32Const(int32(e.TagID))
			b.code.Store(storeOp(wasm.I32, info.DataAlign), wasm.AlignFor(info.DataAlign), idOffset)
		}
	}

	if heap {
		b.code.GetLocal(base)
		if info.TagIDInPointer && e.TagID != 0 {
			b.code.I32Const(int32(e.TagID))
			b.code.Inst(wasm.OpI32Or)
		}
		b.finishPrimitive(sv)
	}
	return nil
}

// buildGetTagID pushes the tag id of a union value as an i32.
func (b *Backend) buildGetTagID(e *ir.GetTagIDExpr, sv StoredValue) error {
	info, err := b.unionInfo(e.Union)
	if err != nil {
		return err
	}
	u := &info.Union
	structure, err := b.storage.Get(e.Structure)
	if err != nil {
		return err
	}
	structure = b.storage.EnsureValueHasLocal(b.code, e.Structure, structure)

	switch u.Kind {
	case ir.UnionNonNullableUnwrapped:
		b.code.I32Const(0)
	case ir.UnionNullableUnwrapped:
		// The other tag of a two-tag union is the one with data.
		nullable := int32(u.NullableID)
		b.code.GetLocal(structure.Local)
		b.code.If(wasm.BlockResult(wasm.I32))
		b.code.I32Const(1 - nullable)
		b.code.Else()
		b.code.I32Const(nullable)
		b.code.End()
	case ir.UnionNullableWrapped:
		b.code.GetLocal(structure.Local)
		b.code.Inst(wasm.OpI32Eqz)
		b.code.If(wasm.BlockResult(wasm.I32))
		b.code.I32Const(int32(u.NullableID))
		b.code.Else()
		b.loadTagID(info, structure)
		b.code.End()
	default:
		b.loadTagID(info, structure)
	}
	b.finishPrimitive(sv)
	return nil
}

func (b *Backend) loadTagID(info layout.UnionInfo, structure StoredValue) {
	if info.TagIDInPointer {
		b.code.GetLocal(structure.Local)
		b.code.I32Const(b.engine.PtrTagMask())
		b.code.Inst(wasm.OpI32And)
		return
	}

	var base wasm.LocalID
	offset := uint32(info.TagIDOffset)
	if structure.Kind == StoredStackMemory {
		var at uint32
		base, at = b.storage.localAndOffset(structure.Location)
		offset += at
	} else {
		base = structure.Local
	}
	b.code.GetLocal(base)
	if info.DataAlign == 8 {
		b.code.Load(wasm.OpI64Load, wasm.Align8, offset)
		b.code.Inst(wasm.OpI32WrapI64)
		return
	}
	b.code.Load(loadOp(wasm.I32, info.DataAlign, false), wasm.AlignFor(info.DataAlign), offset)
}

// buildUnionAtIndex reads one field of a tag's data.
func (b *Backend) buildUnionAtIndex(sym ir.Symbol, e *ir.UnionAtIndexExpr) error {
	info, err := b.unionInfo(e.Union)
	if err != nil {
		return err
	}
	fields, offsets, err := b.tagFields(info, e.TagID)
	if err != nil {
		return err
	}
	if e.Index >= uint64(len(fields)) {
		return errorf(ErrRepresentation, "field %d of tag %d with %d fields", e.Index, e.TagID, len(fields))
	}

	structure, err := b.storage.Get(e.Structure)
	if err != nil {
		return err
	}
	var base wasm.LocalID
	var offset uint32
	if structure.Kind == StoredStackMemory {
		base, offset = b.storage.localAndOffset(structure.Location)
	} else {
		structure = b.storage.EnsureValueHasLocal(b.code, e.Structure, structure)
		base = structure.Local
		if info.TagIDInPointer {
			base = b.storage.CreateAnonymousLocal(wasm.I32)
			b.code.GetLocal(structure.Local)
			b.code.I32Const(^b.engine.PtrTagMask())
			b.code.Inst(wasm.OpI32And)
			b.code.SetLocal(base)
		}
	}
	return b.storage.CopyValueFromMemory(b.code, sym, base, offset+uint32(offsets[e.Index]))
}
