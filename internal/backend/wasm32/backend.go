package wasm32

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

const (
	// ConstSegmentBase is where the constant data segment is loaded.
	// The first kilobyte stays unused so null-ish pointers never alias constants.
	ConstSegmentBase = 1024
	// ConstSegmentIndex is the data segment holding constants.
	ConstSegmentIndex = 0

	// DefaultStackSize is the initial stack pointer and the size of linear memory.
	DefaultStackSize = 1024 * 1024

	// AllocatorModule and AllocatorName identify the refcounted heap allocator.
	AllocatorModule = "env"
	AllocatorName   = "roc_alloc"

	// DefaultBuiltinsModule is the import module of runtime builtins.
	DefaultBuiltinsModule = "env"
)

// Options configures a Backend.
type Options struct {
	// StackSize is the stack size in bytes; memory is sized to hold it.
	StackSize uint32
	// BuiltinsModule is the import module name for runtime builtins.
	BuiltinsModule string
}

// RefcountExpander lowers refcount markers into plain statements.
//
// Expand may synthesize a helper procedure; the backend registers it before
// compiling the returned statement. GenerateProcs returns helper procedures
// that were synthesized since the previous call.
type RefcountExpander interface {
	Expand(modify ir.ModifyRc, layout ir.LayoutID, following *ir.Stmt) (*ir.Stmt, *ir.HelperProc, error)
	GenerateProcs() ([]*ir.Proc, error)
}

type procSymbol struct {
	name      ir.Symbol
	linkerSym uint32
}

type joinPoint struct {
	depth  int
	params []StoredValue
}

// Backend compiles the procedures of one program into one wasm module.
// It is not safe for concurrent use.
type Backend struct {
	opts     Options
	interns  *ir.Interns
	layouts  *ir.LayoutInterner
	engine   *layout.LayoutEngine
	module   *wasm.Module
	expander RefcountExpander

	procSymbols []procSymbol
	procIndex   map[ir.Symbol]int
	builtins    map[string]uint32
	constants   map[string]uint32

	// Per-procedure state, reset by resetProc.
	proc          *ir.Proc
	code          *wasm.CodeBuilder
	storage       *Storage
	symbolLayouts map[ir.Symbol]ir.LayoutID
	joinPoints    map[ir.JoinPointID]joinPoint
}

// New prepares the module-level tables for prog. Procedures are compiled with BuildProc.
func New(prog *ir.Program, expander RefcountExpander, opts Options) (*Backend, error) {
	if prog == nil || prog.Interns == nil || prog.Layouts == nil {
		return nil, errors.New("wasm32: program without interners")
	}
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.StackSize%wasm.PageSize != 0 {
		return nil, fmt.Errorf("wasm32: stack size %d is not a multiple of the %d byte page size", opts.StackSize, wasm.PageSize)
	}
	if opts.BuiltinsModule == "" {
		opts.BuiltinsModule = DefaultBuiltinsModule
	}

	m := wasm.NewModule()
	m.MemoryPages = opts.StackSize / wasm.PageSize
	m.Globals = append(m.Globals, wasm.Global{Type: wasm.I32, Mutable: true, Init: int64(opts.StackSize)})
	m.Exports = append(m.Exports,
		wasm.Export{Name: wasm.MemoryName, Kind: wasm.ExportMemory, Index: 0},
		wasm.Export{Name: wasm.StackPointerName, Kind: wasm.ExportGlobal, Index: wasm.StackPointerGlobal},
	)
	m.Data = append(m.Data, wasm.DataSegment{Base: ConstSegmentBase, Init: make([]byte, 0, 64)})
	m.Segments = append(m.Segments, wasm.SegmentInfo{Name: ".rodata", Align: 2})

	b := &Backend{
		opts:      opts,
		interns:   prog.Interns,
		layouts:   prog.Layouts,
		engine:    layout.New(layout.Wasm32(), prog.Layouts),
		module:    m,
		expander:  expander,
		procIndex: make(map[ir.Symbol]int, len(prog.Procs)),
		builtins:  make(map[string]uint32, 16),
		constants: make(map[string]uint32, 16),
	}
	b.resetProc()

	for _, p := range prog.Procs {
		if p == nil {
			return nil, errors.New("wasm32: nil procedure")
		}
		if _, dup := b.procIndex[p.Name]; dup {
			return nil, fmt.Errorf("wasm32: procedure %s declared twice", b.interns.Name(p.Name))
		}
		idx := b.registerProc(p.Name, b.linkerName(p.Name))
		if p.Exposed {
			name := p.ExportName
			if name == "" {
				name = b.interns.Name(p.Name)
			}
			m.Exports = append(m.Exports, wasm.Export{Name: name, Kind: wasm.ExportFunc, Index: idx})
			m.Symbols[b.procSymbols[idx].linkerSym].Flags |= wasm.SymExported
		}
	}

	m.AddSymbol(wasm.SymInfo{
		Kind:  wasm.SymGlobal,
		Flags: wasm.SymBindingWeak,
		Name:  wasm.StackPointerName,
		Index: wasm.StackPointerGlobal,
	})
	return b, nil
}

func (b *Backend) linkerName(sym ir.Symbol) string {
	return fmt.Sprintf("%s_%d", b.interns.Name(sym), uint64(sym))
}

// registerProc assigns the next function slot and linker symbol to sym.
func (b *Backend) registerProc(sym ir.Symbol, linkerName string) uint32 {
	idx, err := safecast.Conv[uint32](len(b.procSymbols))
	if err != nil {
		panic(fmt.Errorf("procedure index overflow: %w", err))
	}
	linkerSym := b.module.AddSymbol(wasm.SymInfo{Kind: wasm.SymFunction, Name: linkerName, Index: idx})
	b.procSymbols = append(b.procSymbols, procSymbol{name: sym, linkerSym: linkerSym})
	b.procIndex[sym] = int(idx)
	b.module.ReserveFunctions(len(b.procSymbols))
	return idx
}

// Module exposes the module under construction.
func (b *Backend) Module() *wasm.Module { return b.module }

// Layouts exposes the layout engine.
func (b *Backend) Layouts() *layout.LayoutEngine { return b.engine }

// ProcCount reports the number of registered procedures, helpers included.
func (b *Backend) ProcCount() int { return len(b.procSymbols) }

func (b *Backend) resetProc() {
	b.proc = nil
	b.code = wasm.NewCodeBuilder()
	b.storage = newStorage(b.opts.StackSize)
	b.symbolLayouts = make(map[ir.Symbol]ir.LayoutID, 32)
	b.joinPoints = make(map[ir.JoinPointID]joinPoint, 4)
}

// BuildProc compiles one procedure. Procedures may be compiled in any order.
func (b *Backend) BuildProc(p *ir.Proc) error {
	idx, ok := b.procIndex[p.Name]
	if !ok {
		return &CompileError{Kind: ErrInternal, Proc: b.interns.Name(p.Name), Detail: "procedure was never registered"}
	}
	defer b.resetProc()
	b.proc = p

	if err := b.buildProc(idx, p); err != nil {
		var ce *CompileError
		if errors.As(err, &ce) && ce.Proc == "" {
			ce.Proc = b.interns.Name(p.Name)
		}
		return err
	}
	return nil
}

func (b *Backend) buildProc(idx int, p *ir.Proc) error {
	sig, err := b.startProc(p)
	if err != nil {
		return err
	}
	if err := b.buildStmt(p.Body); err != nil {
		return err
	}

	// Close the wrapper block so every path runs the frame epilogue.
	b.code.End()
	if d := b.code.Depth(); d != 0 {
		panic(fmt.Sprintf("wasm32: %d blocks left open in %s", d, b.interns.Name(p.Name)))
	}
	b.code.BuildFnHeader(b.storage.localTypes, b.storage.FrameSize(), b.storage.framePointer, b.storage.hasFramePointer)
	return b.module.DefineFunction(idx, sig, b.code)
}

func (b *Backend) startProc(p *ir.Proc) (wasm.Signature, error) {
	var sig wasm.Signature
	ret, err := b.wasmLayout(p.RetLayout)
	if err != nil {
		return sig, err
	}
	block := wasm.BlockNoResult
	switch method, vt := ret.ReturnMethod(); method {
	case layout.ReturnPrimitive:
		sig.Results = []wasm.ValueType{vt}
		block = wasm.BlockResult(vt)
	case layout.ReturnWriteToPointerArg:
		b.storage.addArg(wasm.I32)
		b.storage.returnsViaPointer = true
	}

	// The body never uses return; it branches out of this block instead.
	b.code.Block(block)

	for _, arg := range p.Args {
		wl, err := b.wasmLayout(arg.Layout)
		if err != nil {
			return sig, err
		}
		if _, err := b.storage.Allocate(wl, arg.Symbol, Parameter); err != nil {
			return sig, err
		}
		b.symbolLayouts[arg.Symbol] = arg.Layout
	}
	sig.Params = append([]wasm.ValueType(nil), b.storage.argTypes...)
	return sig, nil
}

func (b *Backend) wasmLayout(id ir.LayoutID) (layout.WasmLayout, error) {
	wl, err := b.engine.WasmLayoutOf(id)
	if err != nil {
		return wl, layoutError(err, b.layouts.Describe(id))
	}
	return wl, nil
}

// GenerateRefcountProcs returns the helper procedures synthesized while
// compiling; each is already registered and must be passed to BuildProc.
func (b *Backend) GenerateRefcountProcs() ([]*ir.Proc, error) {
	if b.expander == nil {
		return nil, nil
	}
	procs, err := b.expander.GenerateProcs()
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		if _, ok := b.procIndex[p.Name]; !ok {
			b.registerProc(p.Name, b.linkerName(p.Name))
		}
	}
	return procs, nil
}

// Finalize checks that every registered procedure was compiled and returns the module.
func (b *Backend) Finalize() (*wasm.Module, error) {
	if err := b.module.Validate(); err != nil {
		return nil, err
	}
	return b.module, nil
}
