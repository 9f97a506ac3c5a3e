package wasm32

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"wasmgen/internal/ir"
	"wasmgen/internal/wasm"
)

// heapStart is where the test allocator hands out memory, well below the stack.
const heapStart = 64 * 1024

// retPtr is scratch memory used as the return pointer in tests.
const retPtr = 2048

type testHeap struct {
	next   uint32
	allocs [][2]uint32
}

func compileModule(t *testing.T, prog *ir.Program, opts Options) *wasm.Module {
	t.Helper()
	b, err := New(prog, nil, opts)
	require.NoError(t, err)
	for _, p := range prog.Procs {
		require.NoError(t, b.BuildProc(p))
	}
	m, err := b.Finalize()
	require.NoError(t, err)
	return m
}

func compileBytes(t *testing.T, prog *ir.Program) []byte {
	t.Helper()
	bin, err := compileModule(t, prog, Options{}).Serialize()
	require.NoError(t, err)
	return bin
}

// instantiate runs bin with an env module providing the allocator and an i64 adder.
func instantiate(t *testing.T, bin []byte) (api.Module, *testHeap) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })

	h := &testHeap{next: heapStart}
	_, err := r.NewHostModuleBuilder(AllocatorModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, size, align uint32) uint32 {
			addr := (h.next + align - 1) / align * align
			h.next = addr + size
			h.allocs = append(h.allocs, [2]uint32{size, align})
			return addr
		}).
		Export(AllocatorName).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, x, y int64) int64 { return x + y }).
		Export("host_add").
		Instantiate(ctx)
	require.NoError(t, err)

	mod, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)
	return mod, h
}

func call(t *testing.T, mod api.Module, name string, args ...uint64) []uint64 {
	t.Helper()
	fn := mod.ExportedFunction(name)
	require.NotNil(t, fn, "export %s", name)
	res, err := fn.Call(context.Background(), args...)
	require.NoError(t, err)
	return res
}

func readU32(t *testing.T, mod api.Module, addr uint32) uint32 {
	t.Helper()
	v, ok := mod.Memory().ReadUint32Le(addr)
	require.True(t, ok, "read u32 at %d", addr)
	return v
}

func readU64(t *testing.T, mod api.Module, addr uint32) uint64 {
	t.Helper()
	v, ok := mod.Memory().ReadUint64Le(addr)
	require.True(t, ok, "read u64 at %d", addr)
	return v
}

// procBuilder shortens IR construction in tests.
type procBuilder struct {
	prog *ir.Program
}

func newProcBuilder() *procBuilder { return &procBuilder{prog: ir.NewProgram()} }

func (pb *procBuilder) sym(name string) ir.Symbol { return pb.prog.Interns.NewSymbol(name) }

func (pb *procBuilder) proc(name string, ret ir.LayoutID, body *ir.Stmt, args ...ir.Param) *ir.Proc {
	p := &ir.Proc{
		Name:      pb.sym(name),
		Args:      args,
		Body:      body,
		RetLayout: ret,
		Exposed:   true,
	}
	pb.prog.Procs = append(pb.prog.Procs, p)
	return p
}

func param(sym ir.Symbol, lay ir.LayoutID) ir.Param { return ir.Param{Symbol: sym, Layout: lay} }
