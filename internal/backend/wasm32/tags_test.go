package wasm32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"wasmgen/internal/ir"
)

func tagExpr(union ir.LayoutID, id ir.TagID, args ...ir.Symbol) ir.Expr {
	return ir.Expr{Kind: ir.ExprTag, Tag: ir.TagExpr{Union: union, TagID: id, Arguments: args}}
}

func getTagID(union ir.LayoutID, sym ir.Symbol) ir.Expr {
	return ir.Expr{Kind: ir.ExprGetTagID, GetTagID: ir.GetTagIDExpr{Structure: sym, Union: union}}
}

func unionAt(union ir.LayoutID, sym ir.Symbol, id ir.TagID, index uint64) ir.Expr {
	return ir.Expr{Kind: ir.ExprUnionAtIndex, UnionAtIndex: ir.UnionAtIndexExpr{
		Structure: sym,
		TagID:     id,
		Union:     union,
		Index:     index,
	}}
}

func TestNullableUnwrappedList(t *testing.T) {
	pb := newProcBuilder()
	list := pb.prog.Layouts.Union(ir.UnionLayout{
		Kind:       ir.UnionNullableUnwrapped,
		Fields:     []ir.LayoutID{ir.LayoutI64, ir.LayoutRecursivePointer},
		NullableID: 0,
	})

	x, nilSym, cons := pb.sym("x"), pb.sym("nil"), pb.sym("cons")
	pb.proc("cons", list,
		ir.Let(nilSym, tagExpr(list, 0), list,
			ir.Let(cons, tagExpr(list, 1, x, nilSym), list, ir.Ret(cons))),
		param(x, ir.LayoutI64))

	x2, nil2, cons2, id := pb.sym("x"), pb.sym("nil"), pb.sym("cons"), pb.sym("id")
	pb.proc("cons_tag", ir.LayoutU16,
		ir.Let(nil2, tagExpr(list, 0), list,
			ir.Let(cons2, tagExpr(list, 1, x2, nil2), list,
				ir.Let(id, getTagID(list, cons2), ir.LayoutU16, ir.Ret(id)))),
		param(x2, ir.LayoutI64))

	nil3, id3 := pb.sym("nil"), pb.sym("id")
	pb.proc("nil_tag", ir.LayoutU16,
		ir.Let(nil3, tagExpr(list, 0), list,
			ir.Let(id3, getTagID(list, nil3), ir.LayoutU16, ir.Ret(id3))))

	x4, nil4, cons4, head := pb.sym("x"), pb.sym("nil"), pb.sym("cons"), pb.sym("head")
	pb.proc("head", ir.LayoutI64,
		ir.Let(nil4, tagExpr(list, 0), list,
			ir.Let(cons4, tagExpr(list, 1, x4, nil4), list,
				ir.Let(head, unionAt(list, cons4, 1, 0), ir.LayoutI64, ir.Ret(head)))),
		param(x4, ir.LayoutI64))

	mod, h := instantiate(t, compileBytes(t, pb.prog))

	ptr := uint32(call(t, mod, "cons", api.EncodeI64(7))[0])
	require.Len(t, h.allocs, 1)
	// 16 bytes of data behind an 8-byte aligned refcount header.
	assert.Equal(t, [2]uint32{24, 8}, h.allocs[0])
	assert.Equal(t, uint32(heapStart+8), ptr)
	assert.Equal(t, uint32(0x80000000), readU32(t, mod, ptr-4))
	assert.Equal(t, uint64(7), readU64(t, mod, ptr))
	assert.Equal(t, uint32(0), readU32(t, mod, ptr+8))

	assert.Equal(t, uint64(1), call(t, mod, "cons_tag", api.EncodeI64(7))[0])
	assert.Equal(t, uint64(0), call(t, mod, "nil_tag")[0])
	assert.Equal(t, int64(-5), int64(call(t, mod, "head", api.EncodeI64(-5))[0]))
}

func TestRecursiveUnionTagsThePointer(t *testing.T) {
	pb := newProcBuilder()
	tree := pb.prog.Layouts.Union(ir.UnionLayout{
		Kind: ir.UnionRecursive,
		Tags: [][]ir.LayoutID{
			{ir.LayoutI64},
			{ir.LayoutI64, ir.LayoutRecursivePointer},
		},
	})

	x, leaf, node := pb.sym("x"), pb.sym("leaf"), pb.sym("node")
	pb.proc("node", tree,
		ir.Let(leaf, tagExpr(tree, 0, x), tree,
			ir.Let(node, tagExpr(tree, 1, x, leaf), tree, ir.Ret(node))),
		param(x, ir.LayoutI64))

	x2, leaf2, node2, id := pb.sym("x"), pb.sym("leaf"), pb.sym("node"), pb.sym("id")
	pb.proc("node_tag", ir.LayoutU8,
		ir.Let(leaf2, tagExpr(tree, 0, x2), tree,
			ir.Let(node2, tagExpr(tree, 1, x2, leaf2), tree,
				ir.Let(id, getTagID(tree, node2), ir.LayoutU8, ir.Ret(id)))),
		param(x2, ir.LayoutI64))

	x3, leaf3, node3, child, val := pb.sym("x"), pb.sym("leaf"), pb.sym("node"), pb.sym("child"), pb.sym("val")
	pb.proc("child_value", ir.LayoutI64,
		ir.Let(leaf3, tagExpr(tree, 0, x3), tree,
			ir.Let(node3, tagExpr(tree, 1, x3, leaf3), tree,
				ir.Let(child, unionAt(tree, node3, 1, 1), tree,
					ir.Let(val, unionAt(tree, child, 0, 0), ir.LayoutI64, ir.Ret(val))))),
		param(x3, ir.LayoutI64))

	mod, _ := instantiate(t, compileBytes(t, pb.prog))

	tagged := uint32(call(t, mod, "node", api.EncodeI64(3))[0])
	assert.Equal(t, uint32(1), tagged&3)
	assert.Equal(t, uint64(3), readU64(t, mod, tagged&^3))

	assert.Equal(t, uint64(1), call(t, mod, "node_tag", api.EncodeI64(3))[0])
	assert.Equal(t, uint64(11), call(t, mod, "child_value", api.EncodeI64(11))[0])
}

func TestNonRecursiveUnionIsInline(t *testing.T) {
	pb := newProcBuilder()
	result := pb.prog.Layouts.Union(ir.UnionLayout{
		Kind: ir.UnionNonRecursive,
		Tags: [][]ir.LayoutID{{ir.LayoutI32}, {ir.LayoutI64}},
	})

	x, u := pb.sym("x"), pb.sym("u")
	pb.proc("ok", result, ir.Let(u, tagExpr(result, 1, x), result, ir.Ret(u)), param(x, ir.LayoutI64))

	x2, u2, id := pb.sym("x"), pb.sym("u"), pb.sym("id")
	pb.proc("ok_tag", ir.LayoutU8,
		ir.Let(u2, tagExpr(result, 1, x2), result,
			ir.Let(id, getTagID(result, u2), ir.LayoutU8, ir.Ret(id))),
		param(x2, ir.LayoutI64))

	mod, h := instantiate(t, compileBytes(t, pb.prog))
	call(t, mod, "ok", retPtr, api.EncodeI64(99))
	assert.Equal(t, uint64(99), readU64(t, mod, retPtr))
	// The id is a trailing field as wide as the union's alignment.
	assert.Equal(t, uint64(1), readU64(t, mod, retPtr+8))
	assert.Empty(t, h.allocs)

	assert.Equal(t, uint64(1), call(t, mod, "ok_tag", api.EncodeI64(99))[0])
}

func TestTagArityMismatch(t *testing.T) {
	pb := newProcBuilder()
	result := pb.prog.Layouts.Union(ir.UnionLayout{
		Kind: ir.UnionNonRecursive,
		Tags: [][]ir.LayoutID{{ir.LayoutI32}, {ir.LayoutI64}},
	})
	u := pb.sym("u")
	p := pb.proc("bad", result, ir.Let(u, tagExpr(result, 0), result, ir.Ret(u)))

	b, err := New(pb.prog, nil, Options{})
	require.NoError(t, err)
	var ce *CompileError
	require.ErrorAs(t, b.BuildProc(p), &ce)
	assert.Equal(t, ErrRepresentation, ce.Kind)
}

// countingExpander replaces every refcount statement with a call to one helper.
type countingExpander struct {
	interns *ir.Interns
	helper  ir.Symbol
	pending []*ir.Proc
	calls   int
}

func (e *countingExpander) Expand(modify ir.ModifyRc, lay ir.LayoutID, following *ir.Stmt) (*ir.Stmt, *ir.HelperProc, error) {
	e.calls++
	if e.helper == ir.NoSymbol {
		e.helper = e.interns.NewSymbol("rc_helper")
		arg, unit := e.interns.NewSymbol("x"), e.interns.NewSymbol("unit")
		e.pending = append(e.pending, &ir.Proc{
			Name:      e.helper,
			Args:      []ir.Param{{Symbol: arg, Layout: lay}},
			Body:      ir.Let(unit, ir.Expr{Kind: ir.ExprStruct}, ir.LayoutUnit, ir.Ret(unit)),
			RetLayout: ir.LayoutUnit,
		})
	}
	res := e.interns.NewSymbol("rc")
	stmt := ir.Let(res, ir.CallProc(e.helper, modify.Symbol), ir.LayoutUnit, following)
	return stmt, &ir.HelperProc{Symbol: e.helper, Layout: lay, Kind: modify.Kind}, nil
}

func (e *countingExpander) GenerateProcs() ([]*ir.Proc, error) {
	out := e.pending
	e.pending = nil
	return out, nil
}

func refcountProgram() (*ir.Program, *ir.Proc) {
	pb := newProcBuilder()
	s, r := pb.sym("s"), pb.sym("r")
	inc := &ir.Stmt{Kind: ir.StmtRefcounting, Refcounting: ir.RefcountingStmt{
		Modify:    ir.ModifyRc{Kind: ir.ModifyInc, Symbol: s, Amount: 1},
		Following: ir.Let(r, ir.IntLit(3), ir.LayoutI64, ir.Ret(r)),
	}}
	p := pb.proc("main", ir.LayoutI64, ir.Let(s, ir.StrLit("hi"), ir.LayoutStr, inc))
	return pb.prog, p
}

func TestRefcountingNeedsExpander(t *testing.T) {
	prog, p := refcountProgram()
	b, err := New(prog, nil, Options{})
	require.NoError(t, err)
	var ce *CompileError
	require.ErrorAs(t, b.BuildProc(p), &ce)
	assert.Equal(t, ErrUnsupported, ce.Kind)
}

func TestRefcountHelpersAreRegistered(t *testing.T) {
	prog, p := refcountProgram()
	exp := &countingExpander{interns: prog.Interns}
	b, err := New(prog, exp, Options{})
	require.NoError(t, err)

	require.NoError(t, b.BuildProc(p))
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, 2, b.ProcCount())

	helpers, err := b.GenerateRefcountProcs()
	require.NoError(t, err)
	require.Len(t, helpers, 1)
	assert.Equal(t, 2, b.ProcCount())
	for _, h := range helpers {
		require.NoError(t, b.BuildProc(h))
	}
	more, err := b.GenerateRefcountProcs()
	require.NoError(t, err)
	assert.Empty(t, more)

	m, err := b.Finalize()
	require.NoError(t, err)
	bin, err := m.Serialize()
	require.NoError(t, err)
	mod, _ := instantiate(t, bin)
	assert.Equal(t, uint64(3), call(t, mod, "main")[0])
}
