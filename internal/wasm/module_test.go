package wasm

import (
	"context"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
)

func buildCallModule(t *testing.T) *Module {
	t.Helper()
	m := NewModule()
	m.MemoryPages = 1
	m.Globals = append(m.Globals, Global{Type: I32, Mutable: true, Init: PageSize})
	m.ReserveFunctions(2)

	// Defined symbols are registered before any import exists.
	incSym := m.AddSymbol(SymInfo{Kind: SymFunction, Name: "inc", Index: 0})
	m.AddSymbol(SymInfo{Kind: SymFunction, Name: "answer", Index: 1})

	// answer: i32.const 40; call inc; call inc
	answer := NewCodeBuilder()
	answer.I32Const(40)
	answer.Call(0, incSym, 1, true)
	answer.Call(0, incSym, 1, true)
	answer.BuildFnHeader(nil, 0, 0, false)
	if err := m.DefineFunction(1, Signature{Results: []ValueType{I32}}, answer); err != nil {
		t.Fatalf("define answer: %v", err)
	}

	// The import is added after answer's calls were emitted.
	imp := m.AddImport("env", "bump", Signature{Params: []ValueType{I32}, Results: []ValueType{I32}})
	bumpSym := m.AddSymbol(SymInfo{Kind: SymFunction, Flags: SymUndefined, Index: imp})

	// inc: local.get 0; call bump
	inc := NewCodeBuilder()
	inc.GetLocal(0)
	inc.Call(imp, bumpSym, 1, true)
	inc.BuildFnHeader(nil, 0, 0, false)
	if err := m.DefineFunction(0, Signature{Params: []ValueType{I32}, Results: []ValueType{I32}}, inc); err != nil {
		t.Fatalf("define inc: %v", err)
	}

	m.Exports = append(m.Exports,
		Export{Name: MemoryName, Kind: ExportMemory},
		Export{Name: "answer", Kind: ExportFunc, Index: 1},
	)
	return m
}

func TestSerializeRunsUnderWazero(t *testing.T) {
	m := buildCallModule(t)
	bin, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	_, err = r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, x uint32) uint32 { return x + 1 }).
		Export("bump").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}
	mod, err := r.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := mod.ExportedFunction("answer").Call(ctx)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(res) != 1 || uint32(res[0]) != 42 {
		t.Fatalf("answer() = %v, want 42", res)
	}
}

func TestInspectSummary(t *testing.T) {
	bin, err := buildCallModule(t).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s, err := Inspect(bin)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(s.Imports) != 1 || s.Imports[0] != "env.bump" {
		t.Fatalf("unexpected imports %v", s.Imports)
	}
	if s.Functions != 2 || s.Symbols != 3 || s.Relocs != 3 {
		t.Fatalf("unexpected summary %+v", s)
	}
	var order []byte
	for _, sec := range s.Sections {
		order = append(order, sec.ID)
	}
	want := []byte{SectionType, SectionImport, SectionFunction, SectionMemory, SectionGlobal, SectionExport, SectionCode, SectionCustom, SectionCustom, SectionCustom}
	if string(order) != string(want) {
		t.Fatalf("section order %v, want %v", order, want)
	}
	if s.Sections[7].Name != "linking" || s.Sections[8].Name != "reloc.CODE" || s.Sections[9].Name != "name" {
		t.Fatalf("unexpected custom sections %+v", s.Sections[7:])
	}
	wantNames := []FunctionName{{0, "bump"}, {1, "inc"}, {2, "answer"}}
	if len(s.FunctionNames) != len(wantNames) {
		t.Fatalf("function names %+v, want %+v", s.FunctionNames, wantNames)
	}
	for i, n := range wantNames {
		if s.FunctionNames[i] != n {
			t.Fatalf("function names %+v, want %+v", s.FunctionNames, wantNames)
		}
	}
}

func TestTypesAreDeduplicated(t *testing.T) {
	m := NewModule()
	a := m.AddType(Signature{Params: []ValueType{I32, I32}, Results: []ValueType{I32}})
	b := m.AddType(Signature{Params: []ValueType{I32, I32}, Results: []ValueType{I32}})
	c := m.AddType(Signature{Params: []ValueType{I32, I64}, Results: []ValueType{I32}})
	if a != b || a == c {
		t.Fatalf("type indices %d %d %d", a, b, c)
	}
}

func TestMissingFunctionFailsValidation(t *testing.T) {
	m := NewModule()
	m.ReserveFunctions(2)
	cb := NewCodeBuilder()
	cb.BuildFnHeader(nil, 0, 0, false)
	if err := m.DefineFunction(1, Signature{}, cb); err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := m.Serialize(); err == nil {
		t.Fatalf("expected an error for the missing function body")
	}
	if err := m.DefineFunction(1, Signature{}, cb); err == nil {
		t.Fatalf("expected an error for a duplicate definition")
	}
}

func TestCallArityIsChecked(t *testing.T) {
	m := NewModule()
	m.MemoryPages = 1
	imp := m.AddImport("env", "pair", Signature{Params: []ValueType{I32, I32}, Results: []ValueType{I32}})
	sym := m.AddSymbol(SymInfo{Kind: SymFunction, Flags: SymUndefined, Name: "pair", Index: imp})

	cb := NewCodeBuilder()
	cb.I32Const(1)
	cb.Call(imp, sym, 1, true)
	cb.Inst(OpDrop)
	cb.BuildFnHeader(nil, 0, 0, false)
	if err := m.DefineFunction(0, Signature{}, cb); err != nil {
		t.Fatalf("define: %v", err)
	}
	if calls := cb.Calls(); len(calls) != 1 || calls[0].ArgCount != 1 || !calls[0].HasReturn {
		t.Fatalf("calls = %+v", calls)
	}
	_, err := m.Serialize()
	if err == nil || !strings.Contains(err.Error(), `call to "pair" passes 1 arguments`) {
		t.Fatalf("err = %v", err)
	}
}
