package layout

import (
	"fmt"

	"wasmgen/internal/ir"
)

func (e *LayoutEngine) computeLayout(id ir.LayoutID, state *layoutState) (TypeLayout, *LayoutError) {
	l, ok := e.Layouts.Lookup(id)
	if !ok {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrInvalidID, Layout: id}
	}

	switch l.Kind {
	case ir.LayoutKindBuiltin:
		return e.builtinLayout(id, l)

	case ir.LayoutKindStruct:
		return e.structLayout(l.Fields, state)

	case ir.LayoutKindUnion:
		if l.Union.IsHeap() {
			return e.ptrLayout(), nil
		}
		size, align, err := e.unionData(id, &l.Union, state)
		return TypeLayout{Size: size, Align: align}, err

	case ir.LayoutKindLambdaSet:
		return e.layoutOf(l.Repr, state)

	case ir.LayoutKindRecursivePointer:
		return e.ptrLayout(), nil

	default:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrInvalidID, Layout: id}
	}
}

func (e *LayoutEngine) builtinLayout(id ir.LayoutID, l ir.Layout) (TypeLayout, *LayoutError) {
	switch l.Builtin {
	case ir.BuiltinBool:
		return TypeLayout{Size: 1, Align: 1}, nil
	case ir.BuiltinInt:
		return e.scalarLayoutBytes(int(l.Int.Bytes())), nil
	case ir.BuiltinFloat:
		if l.Float == ir.F128 {
			return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnsupported, Layout: id, Detail: "128-bit floats"}
		}
		return e.scalarLayoutBytes(int(l.Float.Bytes())), nil
	case ir.BuiltinDecimal:
		return e.scalarLayoutBytes(16), nil
	case ir.BuiltinStr, ir.BuiltinList:
		// { elements pointer, length }
		ptr := e.ptrLayout()
		return TypeLayout{Size: 2 * ptr.Size, Align: ptr.Align}, nil
	default:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{
			Kind:   LayoutErrUnsupported,
			Layout: id,
			Detail: fmt.Sprintf("builtin kind %d", l.Builtin),
		}
	}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 4
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

func (e *LayoutEngine) scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	align := size
	if e.Target.MaxAlign > 0 && align > e.Target.MaxAlign {
		align = e.Target.MaxAlign
	}
	return TypeLayout{Size: size, Align: align}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) structLayout(fields []ir.LayoutID, state *layoutState) (TypeLayout, *LayoutError) {
	if len(fields) == 0 {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	offsets := make([]int, len(fields))
	size := 0
	maxAlign := 1
	for i, f := range fields {
		fl, err := e.layoutOf(f, state)
		if err != nil {
			return TypeLayout{Size: 0, Align: 1}, err
		}
		align := max(fl.Align, 1)
		size = roundUp(size, align)
		offsets[i] = size
		size += fl.Size
		maxAlign = max(maxAlign, align)
	}
	return TypeLayout{
		Size:         roundUp(size, maxAlign),
		Align:        maxAlign,
		FieldOffsets: offsets,
	}, nil
}
