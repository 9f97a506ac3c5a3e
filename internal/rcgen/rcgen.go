// Package rcgen expands refcount statements into plain IR: calls to runtime
// builtins for heap values and synthesized helper procedures for aggregates.
package rcgen

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"wasmgen/internal/ir"
)

// Runtime builtins the expansion calls.
const (
	StrIncref     = "roc_builtins.str.incref"
	StrDecref     = "roc_builtins.str.decref"
	ListIncref    = "roc_builtins.list.incref"
	ListDecref    = "roc_builtins.list.decref"
	UtilsIncref   = "roc_builtins.utils.incref"
	UtilsDecref   = "roc_builtins.utils.decref"
	UtilsIsUnique = "roc_builtins.utils.is_unique"
)

// afterChildren is the join point of a heap union's dec helper.
const afterChildren ir.JoinPointID = 1

type helperKey struct {
	kind   ir.ModifyRcKind
	layout ir.LayoutID
	amount uint64
}

// Expander is the default refcount expansion. It is not safe for concurrent use.
type Expander struct {
	interns *ir.Interns
	layouts *ir.LayoutInterner

	helpers    map[helperKey]ir.Symbol
	refcounted map[ir.LayoutID]bool
	pending    []*ir.Proc
}

// New returns an expander that allocates symbols from interns.
func New(interns *ir.Interns, layouts *ir.LayoutInterner) *Expander {
	return &Expander{
		interns:    interns,
		layouts:    layouts,
		helpers:    make(map[helperKey]ir.Symbol, 8),
		refcounted: make(map[ir.LayoutID]bool, 16),
	}
}

// Expand replaces one refcount operation on a value of layout lay.
func (e *Expander) Expand(modify ir.ModifyRc, lay ir.LayoutID, following *ir.Stmt) (*ir.Stmt, *ir.HelperProc, error) {
	if following == nil {
		return nil, nil, errors.New("rcgen: refcount statement without a continuation")
	}
	lay = e.layouts.Runtime(lay)
	l, ok := e.layouts.Lookup(lay)
	if !ok {
		return nil, nil, fmt.Errorf("rcgen: unknown layout %d", lay)
	}
	if !e.IsRefcounted(lay) {
		return following, nil, nil
	}
	amount := modify.Amount
	if amount == 0 {
		amount = 1
	}

	switch {
	case l.Kind == ir.LayoutKindRecursivePointer:
		return nil, nil, errors.New("rcgen: refcount on an unresolved recursive pointer")
	case l.Kind == ir.LayoutKindBuiltin:
		if l.Builtin == ir.BuiltinList {
			stmt, err := e.builtinCall(modify, amount, ListIncref, ListDecref, following)
			return stmt, nil, err
		}
		stmt, err := e.builtinCall(modify, amount, StrIncref, StrDecref, following)
		return stmt, nil, err
	case l.Kind == ir.LayoutKindUnion && l.Union.IsHeap() && modify.Kind != ir.ModifyDec:
		stmt, err := e.builtinCall(modify, amount, UtilsIncref, UtilsDecref, following)
		return stmt, nil, err
	case modify.Kind == ir.ModifyDecRef:
		// Inline aggregates have no allocation of their own.
		return following, nil, nil
	}

	key := helperKey{kind: modify.Kind, layout: lay}
	if modify.Kind == ir.ModifyInc {
		key.amount = amount
	}
	helper, err := e.helper(key, &l)
	if err != nil {
		return nil, nil, err
	}
	unit := e.interns.NewSymbol("rc_unit")
	stmt := ir.Let(unit, ir.CallProc(helper, modify.Symbol), ir.LayoutUnit, following)
	return stmt, &ir.HelperProc{Symbol: helper, Layout: lay, Kind: modify.Kind}, nil
}

// GenerateProcs returns the helpers synthesized since the previous call.
func (e *Expander) GenerateProcs() ([]*ir.Proc, error) {
	out := e.pending
	e.pending = nil
	return out, nil
}

// IsRefcounted reports whether values of the layout own or contain heap data.
func (e *Expander) IsRefcounted(id ir.LayoutID) bool {
	id = e.layouts.Runtime(id)
	if v, ok := e.refcounted[id]; ok {
		return v
	}
	// Inline layouts cannot contain themselves; the placeholder stops malformed cycles.
	e.refcounted[id] = false
	l, ok := e.layouts.Lookup(id)
	v := false
	if ok {
		switch l.Kind {
		case ir.LayoutKindBuiltin:
			v = l.Builtin == ir.BuiltinStr || l.Builtin == ir.BuiltinList
		case ir.LayoutKindStruct:
			v = e.anyRefcounted(l.Fields)
		case ir.LayoutKindUnion:
			v = l.Union.IsHeap()
			for _, tag := range l.Union.DataTags() {
				if v {
					break
				}
				fields, _ := l.Union.TagFields(tag)
				v = e.anyRefcounted(fields)
			}
		case ir.LayoutKindRecursivePointer:
			v = true
		}
	}
	e.refcounted[id] = v
	return v
}

func (e *Expander) anyRefcounted(fields []ir.LayoutID) bool {
	for _, f := range fields {
		if e.IsRefcounted(f) {
			return true
		}
	}
	return false
}

func (e *Expander) builtinCall(modify ir.ModifyRc, amount uint64, incref, decref string, following *ir.Stmt) (*ir.Stmt, error) {
	unit := e.interns.NewSymbol("rc_unit")
	if modify.Kind != ir.ModifyInc {
		return ir.Let(unit, ir.CallForeignFn(decref, modify.Symbol), ir.LayoutUnit, following), nil
	}
	n, err := safecast.Conv[int32](amount)
	if err != nil {
		return nil, fmt.Errorf("rcgen: increment of %d: %w", amount, err)
	}
	amt := e.interns.NewSymbol("rc_amount")
	return ir.Let(amt, ir.IntLit(int64(n)), ir.LayoutI32,
		ir.Let(unit, ir.CallForeignFn(incref, modify.Symbol, amt), ir.LayoutUnit, following)), nil
}

func helperName(key helperKey) string {
	switch key.kind {
	case ir.ModifyInc:
		if key.amount != 1 {
			return fmt.Sprintf("rc_inc%d_%d", key.amount, key.layout)
		}
		return fmt.Sprintf("rc_inc_%d", key.layout)
	case ir.ModifyDecRef:
		return fmt.Sprintf("rc_decref_%d", key.layout)
	default:
		return fmt.Sprintf("rc_dec_%d", key.layout)
	}
}

// helper returns the helper procedure for key, synthesizing it on first use.
func (e *Expander) helper(key helperKey, l *ir.Layout) (ir.Symbol, error) {
	if sym, ok := e.helpers[key]; ok {
		return sym, nil
	}
	arg := e.interns.NewSymbol("x")
	var body *ir.Stmt
	switch {
	case l.Kind == ir.LayoutKindStruct:
		body = e.structBody(key, arg, l.Fields)
	case l.Kind == ir.LayoutKindUnion && !l.Union.IsHeap():
		body = e.unionBody(key, arg, &l.Union)
	case l.Kind == ir.LayoutKindUnion && key.kind == ir.ModifyDec:
		body = e.heapUnionDecBody(key.layout, arg, &l.Union)
	default:
		return ir.NoSymbol, fmt.Errorf("rcgen: no %s helper for %s", key.kind, e.layouts.Describe(key.layout))
	}

	sym := e.interns.NewSymbol(helperName(key))
	e.helpers[key] = sym
	e.pending = append(e.pending, &ir.Proc{
		Name:      sym,
		Args:      []ir.Param{{Symbol: arg, Layout: key.layout}},
		Body:      body,
		RetLayout: ir.LayoutUnit,
	})
	return sym, nil
}

func (e *Expander) retUnit() *ir.Stmt {
	u := e.interns.NewSymbol("unit")
	return ir.Let(u, ir.Expr{Kind: ir.ExprStruct}, ir.LayoutUnit, ir.Ret(u))
}

func refcounting(kind ir.ModifyRcKind, sym ir.Symbol, amount uint64, following *ir.Stmt) *ir.Stmt {
	return &ir.Stmt{Kind: ir.StmtRefcounting, Refcounting: ir.RefcountingStmt{
		Modify:    ir.ModifyRc{Kind: kind, Symbol: sym, Amount: amount},
		Following: following,
	}}
}

func (e *Expander) structBody(key helperKey, x ir.Symbol, fields []ir.LayoutID) *ir.Stmt {
	stmt := e.retUnit()
	for i := len(fields) - 1; i >= 0; i-- {
		if !e.IsRefcounted(fields[i]) {
			continue
		}
		f := e.interns.NewSymbol("field")
		at := ir.Expr{Kind: ir.ExprStructAtIndex, StructAtIndex: ir.StructAtIndexExpr{
			Index:        uint64(i),
			FieldLayouts: fields,
			Structure:    x,
		}}
		stmt = ir.Let(f, at, fields[i], refcounting(key.kind, f, key.amount, stmt))
	}
	return stmt
}

// tagFieldsBody applies kind to every refcounted field of one tag, then runs rest.
// Recursive pointer fields are treated as values of the union itself.
func (e *Expander) tagFieldsBody(kind ir.ModifyRcKind, amount uint64, x ir.Symbol, union ir.LayoutID, tag ir.TagID, fields []ir.LayoutID, rest *ir.Stmt) (*ir.Stmt, bool) {
	stmt := rest
	changed := false
	for j := len(fields) - 1; j >= 0; j-- {
		fl := fields[j]
		if fl == ir.LayoutRecursivePointer {
			fl = union
		}
		if !e.IsRefcounted(fl) {
			continue
		}
		f := e.interns.NewSymbol("field")
		at := ir.Expr{Kind: ir.ExprUnionAtIndex, UnionAtIndex: ir.UnionAtIndexExpr{
			Structure: x,
			TagID:     tag,
			Union:     union,
			Index:     uint64(j),
		}}
		stmt = ir.Let(f, at, fl, refcounting(kind, f, amount, stmt))
		changed = true
	}
	return stmt, changed
}

func (e *Expander) tagSwitch(x, id ir.Symbol, union ir.LayoutID, branches []ir.SwitchBranch, def *ir.Stmt) *ir.Stmt {
	get := ir.Expr{Kind: ir.ExprGetTagID, GetTagID: ir.GetTagIDExpr{Structure: x, Union: union}}
	return ir.Let(id, get, ir.LayoutU16, &ir.Stmt{Kind: ir.StmtSwitch, Switch: ir.SwitchStmt{
		Cond:       id,
		CondLayout: ir.LayoutU16,
		Branches:   branches,
		Default:    def,
		RetLayout:  ir.LayoutUnit,
	}})
}

func (e *Expander) unionBody(key helperKey, x ir.Symbol, u *ir.UnionLayout) *ir.Stmt {
	var branches []ir.SwitchBranch
	for _, tag := range u.DataTags() {
		fields, _ := u.TagFields(tag)
		body, changed := e.tagFieldsBody(key.kind, key.amount, x, key.layout, tag, fields, e.retUnit())
		if changed {
			branches = append(branches, ir.SwitchBranch{Value: uint64(tag), Body: body})
		}
	}
	return e.tagSwitch(x, e.interns.NewSymbol("tag_id"), key.layout, branches, e.retUnit())
}

// heapUnionDecBody releases one reference to a heap union value. When the
// value is unique its children are released first.
func (e *Expander) heapUnionDecBody(union ir.LayoutID, x ir.Symbol, u *ir.UnionLayout) *ir.Stmt {
	d := e.interns.NewSymbol("rc_unit")
	finish := ir.Let(d, ir.CallForeignFn(UtilsDecref, x), ir.LayoutUnit, e.retUnit())

	var branches []ir.SwitchBranch
	for _, tag := range u.DataTags() {
		fields, _ := u.TagFields(tag)
		body, changed := e.tagFieldsBody(ir.ModifyDec, 0, x, union, tag, fields, ir.Jump(afterChildren))
		if changed {
			branches = append(branches, ir.SwitchBranch{Value: uint64(tag), Body: body})
		}
	}
	children := ir.Jump(afterChildren)
	if len(branches) > 0 {
		children = e.tagSwitch(x, e.interns.NewSymbol("tag_id"), union, branches, ir.Jump(afterChildren))
	}

	uniq := e.interns.NewSymbol("unique")
	remainder := ir.Let(uniq, ir.CallForeignFn(UtilsIsUnique, x), ir.LayoutBool, &ir.Stmt{Kind: ir.StmtSwitch, Switch: ir.SwitchStmt{
		Cond:       uniq,
		CondLayout: ir.LayoutBool,
		Branches:   []ir.SwitchBranch{{Value: 0, Body: ir.Jump(afterChildren)}},
		Default:    children,
		RetLayout:  ir.LayoutUnit,
	}})

	switch u.Kind {
	case ir.UnionNullableWrapped, ir.UnionNullableUnwrapped:
		null := []ir.SwitchBranch{{Value: uint64(u.NullableID), Body: e.retUnit()}}
		remainder = e.tagSwitch(x, e.interns.NewSymbol("tag_id"), union, null, remainder)
	}

	return &ir.Stmt{Kind: ir.StmtJoin, Join: ir.JoinStmt{
		ID:        afterChildren,
		Body:      finish,
		Remainder: remainder,
	}}
}
