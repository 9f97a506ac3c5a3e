package wasm32

import (
	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

// Builtin routines that low-level operations lower to.
const (
	builtinStrConcat     = "roc_builtins.str.concat"
	builtinStrEqual      = "roc_builtins.str.equal"
	builtinStrIsEmpty    = "roc_builtins.str.is_empty"
	builtinStrFromInt    = "roc_builtins.str.from_int"
	builtinListGetUnsafe = "roc_builtins.list.get_unsafe"
	builtinListAppend    = "roc_builtins.list.append"
)

var lowLevelArity = map[ir.LowLevel]int{
	ir.NumAdd:        2,
	ir.NumSub:        2,
	ir.NumMul:        2,
	ir.NumLt:         2,
	ir.NumLte:        2,
	ir.NumGt:         2,
	ir.NumGte:        2,
	ir.Eq:            2,
	ir.NotEq:         2,
	ir.And:           2,
	ir.Or:            2,
	ir.Not:           1,
	ir.NumNeg:        1,
	ir.StrConcat:     2,
	ir.StrEqual:      2,
	ir.StrIsEmpty:    1,
	ir.ListLen:       1,
	ir.ListGetUnsafe: 2,
	ir.ListAppend:    2,
	ir.NumToStr:      1,
}

// numOps holds the opcodes of one binary operation per value type.
type numOps struct {
	i32, i64, f32, f64 wasm.Opcode
}

func (o numOps) pick(vt wasm.ValueType) wasm.Opcode {
	switch vt {
	case wasm.I64:
		return o.i64
	case wasm.F32:
		return o.f32
	case wasm.F64:
		return o.f64
	default:
		return o.i32
	}
}

var (
	arithOps = map[ir.LowLevel]numOps{
		ir.NumAdd: {wasm.OpI32Add, wasm.OpI64Add, wasm.OpF32Add, wasm.OpF64Add},
		ir.NumSub: {wasm.OpI32Sub, wasm.OpI64Sub, wasm.OpF32Sub, wasm.OpF64Sub},
		ir.NumMul: {wasm.OpI32Mul, wasm.OpI64Mul, wasm.OpF32Mul, wasm.OpF64Mul},
	}
	signedCmpOps = map[ir.LowLevel]numOps{
		ir.NumLt:  {wasm.OpI32LtS, wasm.OpI64LtS, wasm.OpF32Lt, wasm.OpF64Lt},
		ir.NumLte: {wasm.OpI32LeS, wasm.OpI64LeS, wasm.OpF32Le, wasm.OpF64Le},
		ir.NumGt:  {wasm.OpI32GtS, wasm.OpI64GtS, wasm.OpF32Gt, wasm.OpF64Gt},
		ir.NumGte: {wasm.OpI32GeS, wasm.OpI64GeS, wasm.OpF32Ge, wasm.OpF64Ge},
	}
	unsignedCmpOps = map[ir.LowLevel]numOps{
		ir.NumLt:  {wasm.OpI32LtU, wasm.OpI64LtU, wasm.OpF32Lt, wasm.OpF64Lt},
		ir.NumLte: {wasm.OpI32LeU, wasm.OpI64LeU, wasm.OpF32Le, wasm.OpF64Le},
		ir.NumGt:  {wasm.OpI32GtU, wasm.OpI64GtU, wasm.OpF32Gt, wasm.OpF64Gt},
		ir.NumGte: {wasm.OpI32GeU, wasm.OpI64GeU, wasm.OpF32Ge, wasm.OpF64Ge},
	}
	eqOps = numOps{wasm.OpI32Eq, wasm.OpI64Eq, wasm.OpF32Eq, wasm.OpF64Eq}
	neOps = numOps{wasm.OpI32Ne, wasm.OpI64Ne, wasm.OpF32Ne, wasm.OpF64Ne}

	// wideOpNames name the builtins for 128-bit integer and decimal operands.
	wideOpNames = map[ir.LowLevel]string{
		ir.NumAdd: "add",
		ir.NumSub: "sub",
		ir.NumMul: "mul",
		ir.NumLt:  "less_than",
		ir.NumLte: "less_than_or_equal",
		ir.NumGt:  "greater_than",
		ir.NumGte: "greater_than_or_equal",
		ir.NumNeg: "negate",
	}
)

func (b *Backend) buildLowLevel(sym ir.Symbol, op ir.LowLevel, args []ir.Symbol, lay ir.LayoutID, sv StoredValue) error {
	arity, ok := lowLevelArity[op]
	if !ok {
		return errorf(ErrUnsupported, "low-level operation %s", op)
	}
	if len(args) != arity {
		return errorf(ErrRepresentation, "%s takes %d arguments, got %d", op, arity, len(args))
	}

	switch op {
	case ir.NumAdd, ir.NumSub, ir.NumMul, ir.NumLt, ir.NumLte, ir.NumGt, ir.NumGte, ir.NumNeg:
		return b.buildNumOp(sym, op, args, lay, sv)
	case ir.Eq, ir.NotEq:
		return b.buildEq(sym, op, args, lay, sv)
	case ir.And, ir.Or, ir.Not:
		if err := b.storage.LoadSymbols(b.code, args...); err != nil {
			return err
		}
		switch op {
		case ir.And:
			b.code.Inst(wasm.OpI32And)
		case ir.Or:
			b.code.Inst(wasm.OpI32Or)
		default:
			b.code.Inst(wasm.OpI32Eqz)
		}
	case ir.ListLen:
		list, err := b.storage.Get(args[0])
		if err != nil {
			return err
		}
		if list.Kind != StoredStackMemory {
			return errorf(ErrRepresentation, "list %d is not in memory", args[0])
		}
		base, offset := b.storage.localAndOffset(list.Location)
		b.code.GetLocal(base)
		b.code.Load(wasm.OpI32Load, wasm.Align4, offset+4)
	case ir.StrConcat:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinStrConcat, args, lay, sv)
	case ir.StrEqual:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinStrEqual, args, lay, sv)
	case ir.StrIsEmpty:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinStrIsEmpty, args, lay, sv)
	case ir.ListGetUnsafe:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinListGetUnsafe, args, lay, sv)
	case ir.ListAppend:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinListAppend, args, lay, sv)
	case ir.NumToStr:
		return b.callForeign(sym, b.opts.BuiltinsModule, builtinStrFromInt, args, lay, sv)
	}
	b.finishPrimitive(sv)
	return nil
}

// argLayout returns the wasm layout and runtime layout of an argument symbol.
func (b *Backend) argLayout(arg ir.Symbol) (layout.WasmLayout, ir.Layout, error) {
	id, ok := b.symbolLayouts[arg]
	if !ok {
		return layout.WasmLayout{}, ir.Layout{}, errorf(ErrInternal, "symbol %d has no layout", arg)
	}
	wl, err := b.wasmLayout(id)
	if err != nil {
		return wl, ir.Layout{}, err
	}
	return wl, b.layouts.MustLookup(b.layouts.Runtime(id)), nil
}

func (b *Backend) buildNumOp(sym ir.Symbol, op ir.LowLevel, args []ir.Symbol, lay ir.LayoutID, sv StoredValue) error {
	wl, l, err := b.argLayout(args[0])
	if err != nil {
		return err
	}

	if !wl.IsPrimitive() {
		var suffix string
		switch wl.Format {
		case layout.FormatInt128:
			suffix = "i128"
		case layout.FormatDecimal:
			suffix = "dec"
		default:
			return errorf(ErrUnsupported, "%s on %s", op, b.layouts.Describe(b.symbolLayouts[args[0]]))
		}
		name := "roc_builtins.num." + wideOpNames[op] + "_" + suffix
		return b.callForeign(sym, b.opts.BuiltinsModule, name, args, lay, sv)
	}

	if err := b.storage.LoadSymbols(b.code, args...); err != nil {
		return err
	}
	switch op {
	case ir.NumNeg:
		switch wl.Type {
		case wasm.I32:
			b.code.I32Const(-1)
			b.code.Inst(wasm.OpI32Mul)
		case wasm.I64:
			b.code.I64Const(-1)
			b.code.Inst(wasm.OpI64Mul)
		case wasm.F32:
			b.code.Inst(wasm.OpF32Neg)
		case wasm.F64:
			b.code.Inst(wasm.OpF64Neg)
		}
	case ir.NumAdd, ir.NumSub, ir.NumMul:
		b.code.Inst(arithOps[op].pick(wl.Type))
	default:
		ops := unsignedCmpOps
		if l.Kind == ir.LayoutKindBuiltin && l.Builtin == ir.BuiltinInt && l.Int.Signed() {
			ops = signedCmpOps
		}
		b.code.Inst(ops[op].pick(wl.Type))
	}
	b.finishPrimitive(sv)
	return nil
}

func (b *Backend) buildEq(sym ir.Symbol, op ir.LowLevel, args []ir.Symbol, lay ir.LayoutID, sv StoredValue) error {
	wl, l, err := b.argLayout(args[0])
	if err != nil {
		return err
	}

	switch {
	case wl.IsPrimitive():
		if err := b.storage.LoadSymbols(b.code, args...); err != nil {
			return err
		}
		if op == ir.Eq {
			b.code.Inst(eqOps.pick(wl.Type))
		} else {
			b.code.Inst(neOps.pick(wl.Type))
		}
	case wl.Format == layout.FormatInt128 || wl.Format == layout.FormatDecimal:
		if err := b.eqWide(args[0], args[1]); err != nil {
			return err
		}
		if op == ir.NotEq {
			b.code.Inst(wasm.OpI32Eqz)
		}
	case l.Kind == ir.LayoutKindBuiltin && l.Builtin == ir.BuiltinStr:
		if err := b.emitForeign(sym, b.opts.BuiltinsModule, builtinStrEqual, args, lay); err != nil {
			return err
		}
		if op == ir.NotEq {
			b.code.Inst(wasm.OpI32Eqz)
		}
	default:
		return errorf(ErrUnsupported, "%s on %s", op, b.layouts.Describe(b.symbolLayouts[args[0]]))
	}
	b.finishPrimitive(sv)
	return nil
}

// eqWide compares two 128-bit values half by half.
func (b *Backend) eqWide(x, y ir.Symbol) error {
	xs, err := b.storage.Get(x)
	if err != nil {
		return err
	}
	ys, err := b.storage.Get(y)
	if err != nil {
		return err
	}
	xb, xo := b.storage.localAndOffset(xs.Location)
	yb, yo := b.storage.localAndOffset(ys.Location)
	for _, half := range []uint32{0, 8} {
		b.code.GetLocal(xb)
		b.code.Load(wasm.OpI64Load, wasm.Align8, xo+half)
		b.code.GetLocal(yb)
		b.code.Load(wasm.OpI64Load, wasm.Align8, yo+half)
		b.code.Inst(wasm.OpI64Eq)
	}
	b.code.Inst(wasm.OpI32And)
	return nil
}
