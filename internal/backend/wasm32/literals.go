package wasm32

import (
	"encoding/binary"

	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

// smallStrMax is the longest string stored inline in the string struct.
const smallStrMax = 7

func (b *Backend) buildLiteral(lit *ir.Literal, lay ir.LayoutID, sv StoredValue) error {
	if sv.Kind != StoredStackMemory {
		if err := b.pushLiteral(lit, sv.Type, lay); err != nil {
			return err
		}
		b.finishPrimitive(sv)
		return nil
	}

	base, offset := b.storage.localAndOffset(sv.Location)
	switch lit.Kind {
	case ir.LitInt, ir.LitDecimal:
		if sv.Format != layout.FormatInt128 && sv.Format != layout.FormatDecimal {
			return errorf(ErrRepresentation, "%s literal for %s", lit.Kind, b.layouts.Describe(lay))
		}
		b.code.GetLocal(base)
		b.code.I64Const(lit.Lo)
		b.code.Store(wasm.OpI64Store, wasm.Align8, offset)
		b.code.GetLocal(base)
		b.code.I64Const(lit.Hi)
		b.code.Store(wasm.OpI64Store, wasm.Align8, offset+8)
		return nil
	case ir.LitStr:
		return b.buildStrLiteral(base, offset, lit.Str)
	default:
		return errorf(ErrUnsupported, "%s literal stored in memory as %s", lit.Kind, b.layouts.Describe(lay))
	}
}

func (b *Backend) pushLiteral(lit *ir.Literal, vt wasm.ValueType, lay ir.LayoutID) error {
	switch {
	case vt == wasm.I32 && lit.Kind == ir.LitInt:
		b.code.I32Const(int32(lit.Lo))
	case vt == wasm.I32 && lit.Kind == ir.LitBool:
		v := int32(0)
		if lit.Bool {
			v = 1
		}
		b.code.I32Const(v)
	case vt == wasm.I32 && lit.Kind == ir.LitByte:
		b.code.I32Const(int32(lit.Byte))
	case vt == wasm.I64 && lit.Kind == ir.LitInt:
		b.code.I64Const(lit.Lo)
	case vt == wasm.F32 && lit.Kind == ir.LitFloat:
		b.code.F32Const(float32(lit.Float))
	case vt == wasm.F64 && lit.Kind == ir.LitFloat:
		b.code.F64Const(lit.Float)
	default:
		return errorf(ErrRepresentation, "%s literal for %s", lit.Kind, b.layouts.Describe(lay))
	}
	return nil
}

// buildStrLiteral writes a string struct at base+offset.
//
// Short strings are stored inline, with the length in the last byte flagged
// by its high bit. Longer strings point at pooled constant bytes.
func (b *Backend) buildStrLiteral(base wasm.LocalID, offset uint32, s string) error {
	if len(s) <= smallStrMax {
		var buf [8]byte
		copy(buf[:], s)
		buf[7] = 0x80 | byte(len(s))
		b.code.GetLocal(base)
		b.code.I64Const(int64(binary.LittleEndian.Uint64(buf[:])))
		b.code.Store(wasm.OpI64Store, wasm.Align4, offset)
		return nil
	}

	addr, symIndex, err := b.lookupStringConstant(s)
	if err != nil {
		return err
	}
	b.code.GetLocal(base)
	b.code.I32ConstMemAddr(addr, symIndex)
	b.code.Store(wasm.OpI32Store, wasm.Align4, offset)
	b.code.GetLocal(base)
	b.code.I32Const(int32(len(s)))
	b.code.Store(wasm.OpI32Store, wasm.Align4, offset+4)
	return nil
}
