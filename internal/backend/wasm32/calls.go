package wasm32

import (
	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

// callBuiltin calls an imported function, importing it on first use.
func (b *Backend) callBuiltin(module, name string, sig wasm.Signature) {
	key := module + "." + name
	idx, ok := b.builtins[key]
	if !ok {
		importIdx := b.module.AddImport(module, name, sig)
		idx = b.module.AddSymbol(wasm.SymInfo{
			Kind:  wasm.SymFunction,
			Flags: wasm.SymUndefined,
			Name:  name,
			Index: importIdx,
		})
		b.builtins[key] = idx
	}
	b.code.Call(b.module.Symbols[idx].Index, idx, len(sig.Params), len(sig.Results) > 0)
}

func (b *Backend) buildCall(sym ir.Symbol, call *ir.Call, lay ir.LayoutID, sv StoredValue) error {
	switch call.Kind {
	case ir.CallByName:
		return b.callByName(sym, call, lay, sv)
	case ir.CallForeign:
		if call.Foreign == "" {
			return errorf(ErrRepresentation, "foreign call without a name")
		}
		return b.callForeign(sym, b.opts.BuiltinsModule, call.Foreign, call.Args, lay, sv)
	case ir.CallLowLevel:
		return b.buildLowLevel(sym, call.Op, call.Args, lay, sv)
	default:
		return errorf(ErrUnsupported, "call kind %s", call.Kind)
	}
}

func (b *Backend) callByName(sym ir.Symbol, call *ir.Call, lay ir.LayoutID, sv StoredValue) error {
	idx, ok := b.procIndex[call.Name]
	if !ok {
		return errorf(ErrInternal, "call to unknown procedure %s", b.interns.Name(call.Name))
	}
	ret, err := b.wasmLayout(lay)
	if err != nil {
		return err
	}
	sig, err := b.storage.LoadSymbolsForCall(b.code, call.Args, sym, ret, layout.CallConvC)
	if err != nil {
		return err
	}
	ps := b.procSymbols[idx]
	b.code.Call(uint32(idx), ps.linkerSym, len(sig.Params), len(sig.Results) > 0)
	b.finishPrimitive(sv)
	return nil
}

// callForeign calls a builtin routine with the builtin calling convention.
func (b *Backend) callForeign(sym ir.Symbol, module, name string, args []ir.Symbol, lay ir.LayoutID, sv StoredValue) error {
	if err := b.emitForeign(sym, module, name, args, lay); err != nil {
		return err
	}
	b.finishPrimitive(sv)
	return nil
}

// emitForeign emits the call and leaves a primitive result on the stack.
func (b *Backend) emitForeign(sym ir.Symbol, module, name string, args []ir.Symbol, lay ir.LayoutID) error {
	ret, err := b.wasmLayout(lay)
	if err != nil {
		return err
	}
	sig, err := b.storage.LoadSymbolsForCall(b.code, args, sym, ret, layout.CallConvBuiltin)
	if err != nil {
		return err
	}
	b.callBuiltin(module, name, sig)
	return nil
}

// finishPrimitive stores a freshly pushed value into its local, if it has one.
func (b *Backend) finishPrimitive(sv StoredValue) {
	if sv.Kind == StoredLocal {
		b.code.SetLocal(sv.Local)
	}
}
