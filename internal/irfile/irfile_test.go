package irfile

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"wasmgen/internal/backend/wasm32"
	"wasmgen/internal/ir"
)

// sampleProgram builds double(x) = x + x and a list-of-i64 union constructor.
func sampleProgram() *ir.Program {
	prog := ir.NewProgram()
	in := prog.Interns

	x := in.NewSymbol("x")
	y := in.NewSymbol("y")
	double := &ir.Proc{
		Name:      in.NewSymbol("double"),
		Args:      []ir.Param{{Symbol: x, Layout: ir.LayoutI64}},
		RetLayout: ir.LayoutI64,
		Body:      ir.Let(y, ir.CallOp(ir.NumAdd, x, x), ir.LayoutI64, ir.Ret(y)),
		Exposed:   true,
	}

	cons := prog.Layouts.Union(ir.UnionLayout{
		Kind:       ir.UnionNullableUnwrapped,
		Fields:     []ir.LayoutID{ir.LayoutI64, ir.LayoutRecursivePointer},
		NullableID: 0,
	})
	head := in.NewSymbol("head")
	empty := in.NewSymbol("empty")
	list := in.NewSymbol("list")
	single := &ir.Proc{
		Name:      in.NewSymbol("single"),
		Args:      []ir.Param{{Symbol: head, Layout: ir.LayoutI64}},
		RetLayout: cons,
		Body: ir.Let(empty, ir.Expr{Kind: ir.ExprTag, Tag: ir.TagExpr{Union: cons, TagID: 0}}, cons,
			ir.Let(list, ir.Expr{Kind: ir.ExprTag, Tag: ir.TagExpr{Union: cons, TagID: 1, Arguments: []ir.Symbol{head, empty}}}, cons,
				ir.Ret(list))),
		Exposed:    true,
		ExportName: "single",
	}
	prog.Procs = []*ir.Proc{double, single}
	return prog
}

func compile(t *testing.T, prog *ir.Program) []byte {
	t.Helper()
	b, err := wasm32.New(prog, nil, wasm32.Options{})
	require.NoError(t, err)
	for _, p := range prog.Procs {
		require.NoError(t, b.BuildProc(p))
	}
	m, err := b.Finalize()
	require.NoError(t, err)
	bin, err := m.Serialize()
	require.NoError(t, err)
	return bin
}

func TestRoundTripPreservesProgram(t *testing.T) {
	prog := sampleProgram()
	data, err := Marshal(prog)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("WGIR")))

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, prog.Interns.Names, got.Interns.Names)
	require.Equal(t, prog.Layouts.Layouts, got.Layouts.Layouts)
	require.Len(t, got.Procs, 2)
	require.Equal(t, "single", got.Procs[1].ExportName)

	require.Equal(t, compile(t, prog), compile(t, got), "decoded program must compile to the same module")
}

func TestDecodedInternerDeduplicates(t *testing.T) {
	prog := sampleProgram()
	data, err := Marshal(prog)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	before := len(got.Layouts.Layouts)
	id := got.Layouts.Struct(ir.LayoutI64)
	again := got.Layouts.Struct(ir.LayoutI64)
	require.Equal(t, id, again)
	require.Len(t, got.Layouts.Layouts, before+1)
	require.Equal(t, ir.LayoutStr, got.Layouts.Insert(ir.Layout{Kind: ir.LayoutKindBuiltin, Builtin: ir.BuiltinStr}))
}

func TestDecodeRejectsForeignInput(t *testing.T) {
	_, err := Unmarshal([]byte("\x00asm\x01\x00\x00\x00"))
	require.ErrorIs(t, err, ErrNotContainer)

	_, err = Unmarshal(nil)
	require.ErrorIs(t, err, ErrNotContainer)

	hdr, err := msgpack.Marshal(header{Schema: SchemaVersion + 1})
	require.NoError(t, err)
	_, err = Unmarshal(append([]byte("WGIR"), hdr...))
	require.ErrorIs(t, err, ErrSchema)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prog"+Ext)
	require.NoError(t, WriteFile(path, sampleProgram()))

	prog, digest, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, prog.Procs, 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, Digest(sha256.Sum256(raw)), digest)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
}

func TestReadFileNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+Ext)
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))
	_, _, err := ReadFile(path)
	require.ErrorIs(t, err, ErrNotContainer)
	require.Contains(t, err.Error(), path)
}
