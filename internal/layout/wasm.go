package layout

import (
	"wasmgen/internal/ir"
	"wasmgen/internal/wasm"
)

// WasmLayoutKind says whether a value fits one wasm number or lives in memory.
type WasmLayoutKind uint8

const (
	WasmPrimitive WasmLayoutKind = iota + 1
	WasmStackMemory
)

// StackMemoryFormat refines how a memory value is passed to builtins.
type StackMemoryFormat uint8

const (
	FormatDataStructure StackMemoryFormat = iota
	FormatInt128
	FormatFloat128
	FormatDecimal
)

// CallConv selects how memory values cross a call boundary.
type CallConv uint8

const (
	// CallConvC passes every memory value by pointer and returns through a pointer argument.
	CallConvC CallConv = iota
	// CallConvBuiltin passes 128-bit numbers as two i64 values.
	CallConvBuiltin
)

// ReturnMethod says how a function hands back its result.
type ReturnMethod uint8

const (
	ReturnPrimitive ReturnMethod = iota + 1
	ReturnNothing
	ReturnWriteToPointerArg
)

// WasmLayout is the wasm-level classification of a layout.
type WasmLayout struct {
	Kind   WasmLayoutKind
	Type   wasm.ValueType // primitives only
	Size   int
	Align  int
	Format StackMemoryFormat
	// Signed marks signed integers narrower than their wasm type.
	Signed bool
}

// IsPrimitive reports whether the value fits in a single wasm number.
func (w WasmLayout) IsPrimitive() bool { return w.Kind == WasmPrimitive }

// ReturnMethod reports how a function returns a value of this layout.
func (w WasmLayout) ReturnMethod() (ReturnMethod, wasm.ValueType) {
	switch {
	case w.Kind == WasmPrimitive:
		return ReturnPrimitive, w.Type
	case w.Size == 0:
		return ReturnNothing, 0
	default:
		return ReturnWriteToPointerArg, 0
	}
}

// ArgTypes lists the wasm parameters a value of this layout occupies.
func (w WasmLayout) ArgTypes(conv CallConv) []wasm.ValueType {
	if w.Kind == WasmPrimitive {
		return []wasm.ValueType{w.Type}
	}
	if conv == CallConvBuiltin {
		switch w.Format {
		case FormatInt128, FormatDecimal:
			return []wasm.ValueType{wasm.I64, wasm.I64}
		case FormatFloat128:
			return []wasm.ValueType{wasm.F64, wasm.F64}
		}
	}
	return []wasm.ValueType{wasm.I32}
}

func primitive(vt wasm.ValueType, size int) WasmLayout {
	return WasmLayout{Kind: WasmPrimitive, Type: vt, Size: size, Align: size}
}

// WasmLayoutOf classifies a layout for code generation.
func (e *LayoutEngine) WasmLayoutOf(id ir.LayoutID) (WasmLayout, error) {
	id = e.Layouts.Runtime(id)
	tl, err := e.LayoutOf(id)
	if err != nil {
		return WasmLayout{}, err
	}
	l := e.Layouts.MustLookup(id)
	memory := WasmLayout{Kind: WasmStackMemory, Size: tl.Size, Align: tl.Align, Format: FormatDataStructure}

	switch l.Kind {
	case ir.LayoutKindBuiltin:
		switch l.Builtin {
		case ir.BuiltinBool:
			return primitive(wasm.I32, 1), nil
		case ir.BuiltinInt:
			switch n := tl.Size; {
			case n <= 4:
				wl := primitive(wasm.I32, n)
				wl.Signed = n < 4 && l.Int.Signed()
				return wl, nil
			case n == 8:
				return primitive(wasm.I64, n), nil
			default:
				memory.Format = FormatInt128
				return memory, nil
			}
		case ir.BuiltinFloat:
			if tl.Size == 4 {
				return primitive(wasm.F32, 4), nil
			}
			return primitive(wasm.F64, 8), nil
		case ir.BuiltinDecimal:
			memory.Format = FormatDecimal
			return memory, nil
		default:
			return memory, nil
		}
	case ir.LayoutKindUnion:
		if l.Union.IsHeap() {
			return primitive(wasm.I32, e.ptrLayout().Size), nil
		}
		return memory, nil
	case ir.LayoutKindRecursivePointer:
		return primitive(wasm.I32, e.ptrLayout().Size), nil
	default:
		return memory, nil
	}
}
