package wasm32

import (
	"math"

	"fortio.org/safecast"

	"wasmgen/internal/ir"
	"wasmgen/internal/wasm"
)

func (b *Backend) buildStmt(stmt *ir.Stmt) error {
	if stmt == nil {
		return errorf(ErrInternal, "missing statement")
	}
	switch stmt.Kind {
	case ir.StmtLet:
		return b.buildLets(stmt)
	case ir.StmtRet:
		return b.buildRet(stmt.Ret)
	case ir.StmtSwitch:
		return b.buildSwitch(&stmt.Switch)
	case ir.StmtJoin:
		return b.buildJoin(&stmt.Join)
	case ir.StmtJump:
		return b.buildJump(&stmt.Jump)
	case ir.StmtRefcounting:
		return b.buildRefcounting(&stmt.Refcounting)
	default:
		return errorf(ErrUnsupported, "statement kind %s", stmt.Kind)
	}
}

// buildLets walks a chain of lets iteratively; long straight-line code must not grow the Go stack.
func (b *Backend) buildLets(stmt *ir.Stmt) error {
	cur := stmt
	for cur != nil && cur.Kind == ir.StmtLet {
		let := &cur.Let
		wl, err := b.wasmLayout(let.Layout)
		if err != nil {
			return err
		}
		kind := Variable
		if next := let.Following; next != nil && next.Kind == ir.StmtRet && next.Ret == let.Symbol {
			kind = ReturnValue
		}
		sv, err := b.storage.Allocate(wl, let.Symbol, kind)
		if err != nil {
			return err
		}
		b.symbolLayouts[let.Symbol] = let.Layout

		if err := b.buildExpr(let.Symbol, &let.Expr, let.Layout, sv); err != nil {
			return err
		}

		// Every instruction can change the VM stack, so the builder tracks the value from here.
		if sv, err = b.storage.Get(let.Symbol); err == nil && sv.Kind == StoredVMStack {
			sv.VM = b.code.SetTopSymbol(let.Symbol)
			b.storage.set(let.Symbol, sv)
		}
		cur = let.Following
	}
	return b.buildStmt(cur)
}

func (b *Backend) buildRet(sym ir.Symbol) error {
	sv, err := b.storage.Get(sym)
	if err != nil {
		return err
	}
	if sv.Kind == StoredStackMemory {
		built := sv.Location.Kind == PointerArg && sv.Location.Local == 0 && b.storage.returnsViaPointer
		if b.storage.returnsViaPointer && !built {
			from, offset := b.storage.localAndOffset(sv.Location)
			copyMemory(b.code, copyMemoryConfig{
				fromPtr:    from,
				fromOffset: offset,
				toPtr:      0,
				toOffset:   0,
				size:       uint32(sv.Size),
				align:      sv.Align,
			})
		}
	} else if err := b.storage.LoadSymbols(b.code, sym); err != nil {
		return err
	}
	// Branch to the end of the wrapper block, where the frame is popped.
	b.code.Br(b.levelsTo(1))
	return nil
}

// levelsTo returns the branch depth of the block opened when depth was target.
func (b *Backend) levelsTo(target int) uint32 {
	n, err := safecast.Conv[uint32](b.code.Depth() - target)
	if err != nil {
		panic(err)
	}
	return n
}

func (b *Backend) buildSwitch(sw *ir.SwitchStmt) error {
	cond, err := b.storage.Get(sw.Cond)
	if err != nil {
		return err
	}
	if cond.Kind == StoredStackMemory {
		return errorf(ErrRepresentation, "switch condition %d is not a number", sw.Cond)
	}
	// The condition is read inside nested blocks, so it cannot stay on the VM stack.
	cond = b.storage.EnsureValueHasLocal(b.code, sw.Cond, cond)

	for range sw.Branches {
		b.code.Block(wasm.BlockNoResult)
	}

	isBool := b.layouts.Runtime(sw.CondLayout) == ir.LayoutBool
	for i, br := range sw.Branches {
		if err := b.storage.LoadSymbols(b.code, sw.Cond); err != nil {
			return err
		}
		if isBool {
			if br.Value == 0 {
				b.code.Inst(wasm.OpI32Eqz)
			}
		} else {
			switch cond.Type {
			case wasm.I32:
				b.code.I32Const(int32(uint32(br.Value)))
				b.code.Inst(wasm.OpI32Eq)
			case wasm.I64:
				b.code.I64Const(int64(br.Value))
				b.code.Inst(wasm.OpI64Eq)
			case wasm.F32:
				b.code.F32Const(math.Float32frombits(uint32(br.Value)))
				b.code.Inst(wasm.OpF32Eq)
			case wasm.F64:
				b.code.F64Const(math.Float64frombits(br.Value))
				b.code.Inst(wasm.OpF64Eq)
			}
		}
		// Leave i+1 blocks: the bodies follow the ends in branch order.
		b.code.BrIf(uint32(i))
	}

	if err := b.buildStmt(sw.Default); err != nil {
		return err
	}
	for _, br := range sw.Branches {
		b.code.End()
		if err := b.buildStmt(br.Body); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) buildJoin(join *ir.JoinStmt) error {
	params := make([]StoredValue, 0, len(join.Params))
	for _, p := range join.Params {
		wl, err := b.wasmLayout(p.Layout)
		if err != nil {
			return err
		}
		sv, err := b.storage.Allocate(wl, p.Symbol, JoinParameter)
		if err != nil {
			return err
		}
		b.symbolLayouts[p.Symbol] = p.Layout
		params = append(params, sv)
	}

	b.code.Block(wasm.BlockNoResult)
	b.joinPoints[join.ID] = joinPoint{depth: b.code.Depth(), params: params}
	if err := b.buildStmt(join.Remainder); err != nil {
		return err
	}
	b.code.End()

	// Jumps from the remainder leave the block above and fall into the loop;
	// jumps from the body restart it. Both are at the same depth.
	b.code.Loop(wasm.BlockNoResult)
	if err := b.buildStmt(join.Body); err != nil {
		return err
	}
	b.code.End()
	// The body always branches away; this keeps enclosing block ends valid.
	b.code.Unreachable()
	return nil
}

func (b *Backend) buildJump(jump *ir.JumpStmt) error {
	jp, ok := b.joinPoints[jump.ID]
	if !ok {
		return errorf(ErrInternal, "jump to unknown join point %d", jump.ID)
	}
	if len(jump.Args) != len(jp.params) {
		return errorf(ErrRepresentation, "join point %d takes %d arguments, got %d", jump.ID, len(jp.params), len(jump.Args))
	}

	// An argument held in a parameter slot that an earlier copy overwrites
	// is staged in a scratch slot before any parameter is written.
	sources := make([]StoredValue, len(jump.Args))
	for i, arg := range jump.Args {
		param := jp.params[i]
		if param.Kind != StoredStackMemory {
			continue
		}
		from, err := b.storage.Get(arg)
		if err != nil {
			return err
		}
		if from.Kind == StoredStackMemory && overwrittenBefore(jp.params, sources, i, from.Location) {
			scratch, err := b.storage.AllocateScratch(from)
			if err != nil {
				return err
			}
			if err := b.storage.CloneValue(b.code, scratch, from, arg); err != nil {
				return err
			}
			from = scratch
		}
		sources[i] = from
	}
	for i, arg := range jump.Args {
		param := jp.params[i]
		if param.Kind != StoredStackMemory {
			continue
		}
		if err := b.storage.CloneValue(b.code, param, sources[i], arg); err != nil {
			return err
		}
	}

	// Primitive parameters are all read before any is written, so arguments
	// may refer to the parameters they replace.
	var locals []wasm.LocalID
	for i, arg := range jump.Args {
		param := jp.params[i]
		if param.Kind == StoredStackMemory {
			continue
		}
		if err := b.storage.LoadSymbols(b.code, arg); err != nil {
			return err
		}
		locals = append(locals, param.Local)
	}
	for i := len(locals) - 1; i >= 0; i-- {
		b.code.SetLocal(locals[i])
	}

	b.code.Br(b.levelsTo(jp.depth))
	return nil
}

// overwrittenBefore reports whether loc is the slot of a memory parameter
// that a copy ahead of argument i writes to.
func overwrittenBefore(params, sources []StoredValue, i int, loc Location) bool {
	for j := 0; j < i; j++ {
		p := params[j]
		if p.Kind != StoredStackMemory || p.Location != loc {
			continue
		}
		if sources[j].Kind == StoredStackMemory && sources[j].Location == p.Location {
			// Copying a slot onto itself writes nothing.
			continue
		}
		return true
	}
	return false
}

func (b *Backend) buildRefcounting(rc *ir.RefcountingStmt) error {
	if b.expander == nil {
		return errorf(ErrUnsupported, "refcount statement without an expander")
	}
	lay, ok := b.symbolLayouts[rc.Modify.Symbol]
	if !ok {
		return errorf(ErrInternal, "symbol %d has no layout", rc.Modify.Symbol)
	}
	stmt, helper, err := b.expander.Expand(rc.Modify, lay, rc.Following)
	if err != nil {
		return &CompileError{Kind: ErrUnsupported, Detail: "refcount expansion", Err: err}
	}
	// Calls to a new helper need its function index and linker symbol.
	if helper != nil {
		if _, known := b.procIndex[helper.Symbol]; !known {
			b.registerProc(helper.Symbol, b.linkerName(helper.Symbol))
		}
	}
	return b.buildStmt(stmt)
}

