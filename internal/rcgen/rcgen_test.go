package rcgen

import (
	"fmt"
	"testing"

	"wasmgen/internal/ir"
)

func newExpander() (*Expander, *ir.Program) {
	prog := ir.NewProgram()
	return New(prog.Interns, prog.Layouts), prog
}

func tail(prog *ir.Program) *ir.Stmt {
	r := prog.Interns.NewSymbol("r")
	return ir.Ret(r)
}

func TestPlainValuesPassThrough(t *testing.T) {
	e, prog := newExpander()
	next := tail(prog)
	x := prog.Interns.NewSymbol("x")
	for _, lay := range []ir.LayoutID{ir.LayoutI64, ir.LayoutBool, prog.Layouts.Struct(ir.LayoutI32, ir.LayoutF64)} {
		stmt, helper, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyInc, Symbol: x, Amount: 1}, lay, next)
		if err != nil {
			t.Fatalf("Expand(%s): %v", prog.Layouts.Describe(lay), err)
		}
		if stmt != next || helper != nil {
			t.Fatalf("Expand(%s) rewrote a plain value", prog.Layouts.Describe(lay))
		}
	}
}

func TestStrIncCallsBuiltin(t *testing.T) {
	e, prog := newExpander()
	next := tail(prog)
	s := prog.Interns.NewSymbol("s")
	stmt, helper, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyInc, Symbol: s, Amount: 3}, ir.LayoutStr, next)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if helper != nil {
		t.Fatalf("unexpected helper for Str")
	}
	if stmt.Kind != ir.StmtLet || stmt.Let.Layout != ir.LayoutI32 || stmt.Let.Expr.Literal.Lo != 3 {
		t.Fatalf("want the amount bound first, got %+v", stmt.Let)
	}
	call := stmt.Let.Following
	if call.Let.Expr.Call.Kind != ir.CallForeign || call.Let.Expr.Call.Foreign != StrIncref {
		t.Fatalf("want %s, got %+v", StrIncref, call.Let.Expr.Call)
	}
	if got := call.Let.Expr.Call.Args; len(got) != 2 || got[0] != s || got[1] != stmt.Let.Symbol {
		t.Fatalf("incref args = %v", got)
	}
	if call.Let.Following != next {
		t.Fatalf("continuation lost")
	}
}

func TestListDecCallsBuiltin(t *testing.T) {
	e, prog := newExpander()
	list := prog.Layouts.List(ir.LayoutI64)
	l := prog.Interns.NewSymbol("l")
	stmt, _, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyDec, Symbol: l}, list, tail(prog))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if stmt.Let.Expr.Call.Foreign != ListDecref {
		t.Fatalf("want %s, got %q", ListDecref, stmt.Let.Expr.Call.Foreign)
	}
}

func TestStructHelperIsSharedPerKey(t *testing.T) {
	e, prog := newExpander()
	pair := prog.Layouts.Struct(ir.LayoutI64, ir.LayoutStr)
	a, b := prog.Interns.NewSymbol("a"), prog.Interns.NewSymbol("b")

	first, h1, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyDec, Symbol: a}, pair, tail(prog))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if h1 == nil || h1.Kind != ir.ModifyDec || h1.Layout != pair {
		t.Fatalf("helper = %+v", h1)
	}
	if first.Let.Expr.Call.Kind != ir.CallByName || first.Let.Expr.Call.Name != h1.Symbol {
		t.Fatalf("want a call to the helper, got %+v", first.Let.Expr.Call)
	}

	procs, err := e.GenerateProcs()
	if err != nil || len(procs) != 1 {
		t.Fatalf("GenerateProcs = %d procs, %v", len(procs), err)
	}
	p := procs[0]
	if p.Name != h1.Symbol || p.RetLayout != ir.LayoutUnit || len(p.Args) != 1 || p.Args[0].Layout != pair {
		t.Fatalf("helper proc = %+v", p)
	}
	// Only the Str field is released.
	body := p.Body
	if body.Kind != ir.StmtLet || body.Let.Expr.Kind != ir.ExprStructAtIndex || body.Let.Expr.StructAtIndex.Index != 1 {
		t.Fatalf("helper body starts with %+v", body.Let)
	}
	rc := body.Let.Following
	if rc.Kind != ir.StmtRefcounting || rc.Refcounting.Modify.Kind != ir.ModifyDec || rc.Refcounting.Modify.Symbol != body.Let.Symbol {
		t.Fatalf("want a dec of the field, got %+v", rc)
	}

	_, h2, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyDec, Symbol: b}, pair, tail(prog))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if h2.Symbol != h1.Symbol {
		t.Fatalf("helper not reused: %d vs %d", h2.Symbol, h1.Symbol)
	}
	if procs, _ := e.GenerateProcs(); len(procs) != 0 {
		t.Fatalf("reused helper generated again")
	}

	// A different increment amount is a different helper.
	_, h3, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyInc, Symbol: b, Amount: 2}, pair, tail(prog))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if h3.Symbol == h1.Symbol || prog.Interns.Name(h3.Symbol) != fmt.Sprintf("rc_inc2_%d", pair) {
		t.Fatalf("inc helper named %q", prog.Interns.Name(h3.Symbol))
	}
}

func TestDecRefOfStructIsNoop(t *testing.T) {
	e, prog := newExpander()
	pair := prog.Layouts.Struct(ir.LayoutStr, ir.LayoutStr)
	next := tail(prog)
	stmt, helper, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyDecRef, Symbol: prog.Interns.NewSymbol("p")}, pair, next)
	if err != nil || stmt != next || helper != nil {
		t.Fatalf("Expand = %v, %v, %v", stmt, helper, err)
	}
}

func TestHeapUnionExpansion(t *testing.T) {
	e, prog := newExpander()
	list := prog.Layouts.Union(ir.UnionLayout{
		Kind:       ir.UnionNullableUnwrapped,
		Fields:     []ir.LayoutID{ir.LayoutStr, ir.LayoutRecursivePointer},
		NullableID: 0,
	})
	x := prog.Interns.NewSymbol("x")

	inc, helper, err := e.Expand(ir.ModifyRc{Kind: ir.ModifyInc, Symbol: x, Amount: 1}, list, tail(prog))
	if err != nil || helper != nil {
		t.Fatalf("Expand inc = %v, %v", helper, err)
	}
	if inc.Let.Following.Let.Expr.Call.Foreign != UtilsIncref {
		t.Fatalf("inc of a heap union should call %s", UtilsIncref)
	}

	_, helper, err = e.Expand(ir.ModifyRc{Kind: ir.ModifyDec, Symbol: x}, list, tail(prog))
	if err != nil || helper == nil {
		t.Fatalf("Expand dec = %v, %v", helper, err)
	}
	procs, _ := e.GenerateProcs()
	if len(procs) != 1 {
		t.Fatalf("want one dec helper, got %d", len(procs))
	}
	body := procs[0].Body
	if body.Kind != ir.StmtJoin {
		t.Fatalf("dec helper body is %s", body.Kind)
	}
	if fin := body.Join.Body; fin.Let.Expr.Call.Foreign != UtilsDecref {
		t.Fatalf("join body should free the allocation, got %+v", fin.Let.Expr.Call)
	}
	// The null check comes before anything reads the pointer.
	rem := body.Join.Remainder
	if rem.Let.Expr.Kind != ir.ExprGetTagID || rem.Let.Following.Switch.Branches[0].Value != 0 {
		t.Fatalf("remainder does not start with a null check: %+v", rem.Let)
	}
	uniq := rem.Let.Following.Switch.Default
	if uniq.Let.Expr.Call.Foreign != UtilsIsUnique {
		t.Fatalf("want a uniqueness check, got %+v", uniq.Let.Expr.Call)
	}

	// Both fields are released, the recursive one as the union itself.
	children := uniq.Let.Following.Switch.Default
	var layouts []ir.LayoutID
	for s := children.Let.Following.Switch.Branches[0].Body; s.Kind == ir.StmtLet; s = s.Let.Following.Refcounting.Following {
		layouts = append(layouts, s.Let.Layout)
	}
	if len(layouts) != 2 || layouts[0] != ir.LayoutStr || layouts[1] != list {
		t.Fatalf("released field layouts = %v", layouts)
	}
}

func TestIsRefcounted(t *testing.T) {
	e, prog := newExpander()
	inline := prog.Layouts.Union(ir.UnionLayout{
		Kind: ir.UnionNonRecursive,
		Tags: [][]ir.LayoutID{{ir.LayoutI64}, {ir.LayoutStr}},
	})
	plain := prog.Layouts.Union(ir.UnionLayout{
		Kind: ir.UnionNonRecursive,
		Tags: [][]ir.LayoutID{{ir.LayoutI64}, {ir.LayoutF64}},
	})
	cases := []struct {
		lay  ir.LayoutID
		want bool
	}{
		{ir.LayoutStr, true},
		{prog.Layouts.List(ir.LayoutU8), true},
		{ir.LayoutDec, false},
		{prog.Layouts.Struct(ir.LayoutStr), true},
		{inline, true},
		{plain, false},
		{prog.Layouts.LambdaSet(ir.LayoutStr), true},
	}
	for _, tc := range cases {
		if got := e.IsRefcounted(tc.lay); got != tc.want {
			t.Errorf("IsRefcounted(%s) = %v, want %v", prog.Layouts.Describe(tc.lay), got, tc.want)
		}
	}
}

