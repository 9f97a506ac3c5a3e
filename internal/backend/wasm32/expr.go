package wasm32

import (
	"fortio.org/safecast"

	"wasmgen/internal/ir"
	"wasmgen/internal/wasm"
)

func (b *Backend) buildExpr(sym ir.Symbol, expr *ir.Expr, lay ir.LayoutID, sv StoredValue) error {
	switch expr.Kind {
	case ir.ExprLiteral:
		return b.buildLiteral(&expr.Literal, lay, sv)
	case ir.ExprCall:
		return b.buildCall(sym, &expr.Call, lay, sv)
	case ir.ExprStruct:
		return b.createStruct(sym, lay, sv, expr.Struct)
	case ir.ExprStructAtIndex:
		return b.buildStructAtIndex(sym, &expr.StructAtIndex, sv)
	case ir.ExprArray:
		return b.buildArray(sym, &expr.Array, sv)
	case ir.ExprEmptyArray:
		return b.buildEmptyArray(sym, sv)
	case ir.ExprTag:
		return b.buildTag(sym, &expr.Tag, sv)
	case ir.ExprGetTagID:
		return b.buildGetTagID(&expr.GetTagID, sv)
	case ir.ExprUnionAtIndex:
		return b.buildUnionAtIndex(sym, &expr.UnionAtIndex)
	default:
		return errorf(ErrUnsupported, "expression kind %s", expr.Kind)
	}
}

// createStruct writes fields at their offsets in the struct's memory.
func (b *Backend) createStruct(sym ir.Symbol, lay ir.LayoutID, sv StoredValue, fields []ir.Symbol) error {
	l, ok := b.layouts.Lookup(b.layouts.Runtime(lay))
	if !ok {
		return errorf(ErrInternal, "struct layout %d", lay)
	}
	if l.Kind != ir.LayoutKindStruct {
		// A single-field struct may be represented by its field.
		if len(fields) != 1 {
			return errorf(ErrRepresentation, "%d fields for %s", len(fields), b.layouts.Describe(lay))
		}
		from, err := b.storage.Get(fields[0])
		if err != nil {
			return err
		}
		return b.storage.CloneValue(b.code, sv, from, fields[0])
	}
	if len(fields) != len(l.Fields) {
		return errorf(ErrRepresentation, "%d fields for %s", len(fields), b.layouts.Describe(lay))
	}
	if sv.Kind != StoredStackMemory {
		return errorf(ErrRepresentation, "struct %d is not in memory", sym)
	}
	if sv.Size == 0 {
		return nil
	}

	tl, err := b.engine.LayoutOf(lay)
	if err != nil {
		return layoutError(err, b.layouts.Describe(lay))
	}
	base, offset := b.storage.localAndOffset(sv.Location)
	for i, field := range fields {
		fieldOffset, err := safecast.Conv[uint32](tl.FieldOffsets[i])
		if err != nil {
			return errorf(ErrInternal, "field offset %d", tl.FieldOffsets[i])
		}
		if err := b.storage.CopyValueToMemory(b.code, base, offset+fieldOffset, field); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) buildStructAtIndex(sym ir.Symbol, e *ir.StructAtIndexExpr, sv StoredValue) error {
	structure, err := b.storage.Get(e.Structure)
	if err != nil {
		return err
	}
	if structure.Kind != StoredStackMemory {
		// The structure is its only field.
		if e.Index != 0 || len(e.FieldLayouts) > 1 {
			return errorf(ErrRepresentation, "field %d of a primitive structure", e.Index)
		}
		return b.storage.CloneValue(b.code, sv, structure, e.Structure)
	}
	if e.Index >= uint64(len(e.FieldLayouts)) {
		return errorf(ErrRepresentation, "field %d of a %d-field struct", e.Index, len(e.FieldLayouts))
	}

	tl, err := b.engine.StructLayout(e.FieldLayouts)
	if err != nil {
		return layoutError(err, "struct fields")
	}
	fieldOffset, err := safecast.Conv[uint32](tl.FieldOffsets[e.Index])
	if err != nil {
		return errorf(ErrInternal, "field offset %d", tl.FieldOffsets[e.Index])
	}
	base, offset := b.storage.localAndOffset(structure.Location)
	return b.storage.CopyValueFromMemory(b.code, sym, base, offset+fieldOffset)
}

// buildArray allocates the elements of a list literal on the heap and writes
// the list struct {elements, length}.
func (b *Backend) buildArray(sym ir.Symbol, e *ir.ArrayExpr, sv StoredValue) error {
	if len(e.Elems) == 0 {
		return b.buildEmptyArray(sym, sv)
	}
	if sv.Kind != StoredStackMemory {
		return errorf(ErrRepresentation, "list %d is not in memory", sym)
	}
	elem, err := b.engine.LayoutOf(e.ElemLayout)
	if err != nil {
		return layoutError(err, b.layouts.Describe(e.ElemLayout))
	}
	elemWasm, err := b.wasmLayout(e.ElemLayout)
	if err != nil {
		return err
	}
	stride := alignUp(uint32(elem.Size), uint32(max(elem.Align, 1)))
	n, err := safecast.Conv[uint32](len(e.Elems))
	if err != nil {
		return errorf(ErrUnsupported, "list literal with %d elements", len(e.Elems))
	}

	if err := b.allocateWithRefcount(stride*n, elem.Align, 1); err != nil {
		return err
	}
	elems := b.storage.CreateAnonymousLocal(wasm.I32)
	b.code.SetLocal(elems)

	for i, el := range e.Elems {
		at := stride * uint32(i)
		switch el.Kind {
		case ir.ListElemSymbol:
			if err := b.storage.CopyValueToMemory(b.code, elems, at, el.Symbol); err != nil {
				return err
			}
		case ir.ListElemLiteral:
			if err := b.storeIntElem(elems, at, &el.Literal, elem.Size, elemWasm.Type); err != nil {
				return err
			}
		default:
			return errorf(ErrRepresentation, "list element kind %d", el.Kind)
		}
	}

	base, offset := b.storage.localAndOffset(sv.Location)
	b.code.GetLocal(base)
	b.code.GetLocal(elems)
	b.code.Store(wasm.OpI32Store, wasm.Align4, offset)
	b.code.GetLocal(base)
	b.code.I32Const(int32(n))
	b.code.Store(wasm.OpI32Store, wasm.Align4, offset+4)
	return nil
}

// storeIntElem writes an integer literal list element. Other literal
// elements are bound to symbols before they reach the backend.
func (b *Backend) storeIntElem(ptr wasm.LocalID, at uint32, lit *ir.Literal, size int, vt wasm.ValueType) error {
	if lit.Kind != ir.LitInt {
		return errorf(ErrUnsupported, "%s literal in a list literal", lit.Kind)
	}
	switch {
	case size == 16:
		b.code.GetLocal(ptr)
		b.code.I64Const(lit.Lo)
		b.code.Store(wasm.OpI64Store, wasm.Align8, at)
		b.code.GetLocal(ptr)
		b.code.I64Const(lit.Hi)
		b.code.Store(wasm.OpI64Store, wasm.Align8, at+8)
	case vt == wasm.I64:
		b.code.GetLocal(ptr)
		b.code.I64Const(lit.Lo)
		b.code.Store(wasm.OpI64Store, wasm.Align8, at)
	case vt == wasm.I32:
		b.code.GetLocal(ptr)
		b.code.I32Const(int32(lit.Lo))
		b.code.Store(storeOp(wasm.I32, size), wasm.AlignFor(size), at)
	default:
		return errorf(ErrUnsupported, "integer literal for a %d-byte element", size)
	}
	return nil
}

func (b *Backend) buildEmptyArray(sym ir.Symbol, sv StoredValue) error {
	if sv.Kind != StoredStackMemory {
		return errorf(ErrRepresentation, "list %d is not in memory", sym)
	}
	base, offset := b.storage.localAndOffset(sv.Location)
	b.code.GetLocal(base)
	b.code.I64Const(0)
	b.code.Store(wasm.OpI64Store, wasm.Align4, offset)
	return nil
}
