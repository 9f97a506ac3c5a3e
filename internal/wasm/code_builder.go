package wasm

import (
	"fmt"
	"math"
	"sort"

	"fortio.org/safecast"

	"wasmgen/internal/ir"
)

// VMStateKind tracks where a symbol held only on the VM stack currently is.
type VMStateKind uint8

const (
	// VMNotYetPushed means the value has not been computed yet.
	VMNotYetPushed VMStateKind = iota
	// VMPushed means the value was pushed and not consumed.
	VMPushed
	// VMPopped means the value was pushed and consumed by a later instruction.
	VMPopped
)

// VMSymbolState is the VM stack bookkeeping for one symbol.
type VMSymbolState struct {
	Kind VMStateKind
	// PushedAt is the code offset right after the instruction that produced the value.
	PushedAt int
}

type insertion struct {
	at    int
	bytes []byte
}

type openBlock struct {
	op     Opcode
	result BlockType
}

// CodeBuilder emits the body of one function.
//
// The instruction stream is append-only. Loads of symbols that live on the VM
// stack are resolved by splicing local.set/local.tee after the producing
// instruction; splices are kept apart and merged in Body.
type CodeBuilder struct {
	code       []byte
	insertions []insertion
	relocs     []RelocationEntry
	calls      []CallSite
	blocks     []openBlock

	// top is the symbol whose value is on top of the VM stack, if any.
	top ir.Symbol

	preamble []byte
	epilogue []byte
	sealed   bool
}

// NewCodeBuilder returns an empty builder.
func NewCodeBuilder() *CodeBuilder {
	return &CodeBuilder{code: make([]byte, 0, 256)}
}

// Depth reports how many structured blocks are open.
func (c *CodeBuilder) Depth() int { return len(c.blocks) }

// Len reports the current length of the instruction stream.
func (c *CodeBuilder) Len() int { return len(c.code) }

func (c *CodeBuilder) inst(op Opcode) {
	c.top = ir.NoSymbol
	c.code = append(c.code, byte(op))
}

func (c *CodeBuilder) instU32(op Opcode, v uint32) {
	c.inst(op)
	c.code = AppendULEB(c.code, uint64(v))
}

// Inst emits an instruction without immediates, e.g. i32.add.
func (c *CodeBuilder) Inst(op Opcode) { c.inst(op) }

// Block opens a block.
func (c *CodeBuilder) Block(bt BlockType) { c.open(OpBlock, bt) }

// Loop opens a loop. Branches to it jump back to the start.
func (c *CodeBuilder) Loop(bt BlockType) { c.open(OpLoop, bt) }

// If opens an if block consuming an i32 condition.
func (c *CodeBuilder) If(bt BlockType) { c.open(OpIf, bt) }

func (c *CodeBuilder) open(op Opcode, bt BlockType) {
	c.inst(op)
	c.code = append(c.code, byte(bt))
	c.blocks = append(c.blocks, openBlock{op: op, result: bt})
}

// Else switches an open if block to its else arm.
func (c *CodeBuilder) Else() {
	if len(c.blocks) == 0 || c.blocks[len(c.blocks)-1].op != OpIf {
		panic("wasm: else without matching if")
	}
	c.inst(OpElse)
}

// End closes the innermost block.
func (c *CodeBuilder) End() {
	if len(c.blocks) == 0 {
		panic("wasm: end without an open block")
	}
	c.blocks = c.blocks[:len(c.blocks)-1]
	c.inst(OpEnd)
}

// Br branches out of levels enclosing blocks.
func (c *CodeBuilder) Br(levels uint32) {
	c.checkLevels(levels)
	c.instU32(OpBr, levels)
}

// BrIf branches out of levels enclosing blocks when the i32 on top is non-zero.
func (c *CodeBuilder) BrIf(levels uint32) {
	c.checkLevels(levels)
	c.instU32(OpBrIf, levels)
}

func (c *CodeBuilder) checkLevels(levels uint32) {
	if int(levels) >= len(c.blocks) {
		panic(fmt.Sprintf("wasm: branch depth %d with %d open blocks", levels, len(c.blocks)))
	}
}

// Unreachable emits a trap.
func (c *CodeBuilder) Unreachable() { c.inst(OpUnreachable) }

// CallSite is the arity recorded for one emitted call.
type CallSite struct {
	SymbolIndex uint32
	ArgCount    int
	HasReturn   bool
}

// Call emits a call and records a function index relocation for the linker symbol.
// The immediate is rewritten with the final function index when the module is serialized,
// and the arity is checked against the callee's signature then.
func (c *CodeBuilder) Call(fnIndex, symIndex uint32, argCount int, hasReturn bool) {
	c.inst(OpCall)
	c.relocs = append(c.relocs, RelocationEntry{
		Type:        RelocFunctionIndexLEB,
		Offset:      uint32(len(c.code)),
		SymbolIndex: symIndex,
	})
	c.calls = append(c.calls, CallSite{SymbolIndex: symIndex, ArgCount: argCount, HasReturn: hasReturn})
	c.code = AppendPaddedU32(c.code, fnIndex)
}

// Calls lists the calls emitted so far, in order.
func (c *CodeBuilder) Calls() []CallSite { return c.calls }

// GetLocal emits local.get.
func (c *CodeBuilder) GetLocal(id LocalID) { c.instU32(OpLocalGet, uint32(id)) }

// SetLocal emits local.set.
func (c *CodeBuilder) SetLocal(id LocalID) { c.instU32(OpLocalSet, uint32(id)) }

// TeeLocal emits local.tee.
func (c *CodeBuilder) TeeLocal(id LocalID) { c.instU32(OpLocalTee, uint32(id)) }

// GetGlobal emits global.get.
func (c *CodeBuilder) GetGlobal(idx uint32) { c.instU32(OpGlobalGet, idx) }

// SetGlobal emits global.set.
func (c *CodeBuilder) SetGlobal(idx uint32) { c.instU32(OpGlobalSet, idx) }

// I32Const emits i32.const.
func (c *CodeBuilder) I32Const(v int32) {
	c.inst(OpI32Const)
	c.code = AppendSLEB(c.code, int64(v))
}

// I64Const emits i64.const.
func (c *CodeBuilder) I64Const(v int64) {
	c.inst(OpI64Const)
	c.code = AppendSLEB(c.code, v)
}

// F32Const emits f32.const.
func (c *CodeBuilder) F32Const(v float32) {
	c.inst(OpF32Const)
	bits := math.Float32bits(v)
	c.code = append(c.code, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

// F64Const emits f64.const.
func (c *CodeBuilder) F64Const(v float64) {
	c.inst(OpF64Const)
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		c.code = append(c.code, byte(bits>>(8*i)))
	}
}

// I32ConstMemAddr emits the address of a data symbol and records a memory address relocation.
func (c *CodeBuilder) I32ConstMemAddr(addr, symIndex uint32) {
	v, err := safecast.Conv[int32](addr)
	if err != nil {
		panic(fmt.Errorf("wasm: memory address out of range: %w", err))
	}
	c.inst(OpI32Const)
	c.relocs = append(c.relocs, RelocationEntry{
		Type:        RelocMemoryAddrSLEB,
		Offset:      uint32(len(c.code)),
		SymbolIndex: symIndex,
	})
	c.code = AppendPaddedI32(c.code, v)
}

// Load emits a memory load with the given alignment hint and static offset.
func (c *CodeBuilder) Load(op Opcode, align Align, offset uint32) {
	c.inst(op)
	c.code = AppendULEB(c.code, uint64(align))
	c.code = AppendULEB(c.code, uint64(offset))
}

// Store emits a memory store with the given alignment hint and static offset.
func (c *CodeBuilder) Store(op Opcode, align Align, offset uint32) {
	c.Load(op, align, offset)
}

// SetTopSymbol records that sym's value was just pushed.
func (c *CodeBuilder) SetTopSymbol(sym ir.Symbol) VMSymbolState {
	c.top = sym
	return VMSymbolState{Kind: VMPushed, PushedAt: len(c.code)}
}

// TopSymbol returns the symbol currently known to be on top of the VM stack.
func (c *CodeBuilder) TopSymbol() ir.Symbol { return c.top }

// LoadSymbol puts the value of a VM-stack symbol on top of the stack.
//
// When the value is already on top nothing is emitted and the new state is
// returned. Otherwise the value is moved into local next, and ok is false:
// the caller must treat the symbol as living in that local from now on.
func (c *CodeBuilder) LoadSymbol(sym ir.Symbol, state VMSymbolState, next LocalID) (VMSymbolState, bool) {
	switch state.Kind {
	case VMPushed:
		if c.top == sym {
			// The next instruction consumes it.
			c.top = ir.NoSymbol
			return VMSymbolState{Kind: VMPopped, PushedAt: state.PushedAt}, true
		}
		c.insert(state.PushedAt, OpLocalSet, next)
		c.GetLocal(next)
		return state, false
	case VMPopped:
		c.insert(state.PushedAt, OpLocalTee, next)
		c.GetLocal(next)
		return state, false
	default:
		panic(fmt.Sprintf("wasm: symbol %d loaded before it was computed", sym))
	}
}

func (c *CodeBuilder) insert(at int, op Opcode, id LocalID) {
	b := AppendULEB([]byte{byte(op)}, uint64(id))
	c.insertions = append(c.insertions, insertion{at: at, bytes: b})
}

// BuildFnHeader declares the locals that follow the arguments and, for a
// non-empty stack frame, adds the stack pointer push/pop around the body.
// It must be called once, after the body is complete.
func (c *CodeBuilder) BuildFnHeader(localTypes []ValueType, frameSize uint32, framePointer LocalID, hasFramePointer bool) {
	if c.sealed {
		panic("wasm: function header built twice")
	}
	if len(c.blocks) != 0 {
		panic(fmt.Sprintf("wasm: %d blocks still open at end of function", len(c.blocks)))
	}
	c.sealed = true

	type group struct {
		n  uint32
		vt ValueType
	}
	var groups []group
	for _, vt := range localTypes {
		if len(groups) > 0 && groups[len(groups)-1].vt == vt {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{n: 1, vt: vt})
	}
	h := AppendULEB(nil, uint64(len(groups)))
	for _, g := range groups {
		h = AppendULEB(h, uint64(g.n))
		h = append(h, byte(g.vt))
	}

	var tail []byte
	if hasFramePointer && frameSize > 0 {
		size, err := safecast.Conv[int32](frameSize)
		if err != nil {
			panic(fmt.Errorf("wasm: frame size out of range: %w", err))
		}
		h = append(h, byte(OpGlobalGet))
		h = AppendULEB(h, StackPointerGlobal)
		h = append(h, byte(OpI32Const))
		h = AppendSLEB(h, int64(size))
		h = append(h, byte(OpI32Sub), byte(OpLocalTee))
		h = AppendULEB(h, uint64(framePointer))
		h = append(h, byte(OpGlobalSet))
		h = AppendULEB(h, StackPointerGlobal)

		tail = append(tail, byte(OpLocalGet))
		tail = AppendULEB(tail, uint64(framePointer))
		tail = append(tail, byte(OpI32Const))
		tail = AppendSLEB(tail, int64(size))
		tail = append(tail, byte(OpI32Add), byte(OpGlobalSet))
		tail = AppendULEB(tail, StackPointerGlobal)
	}
	tail = append(tail, byte(OpEnd))

	c.preamble = h
	c.epilogue = tail
}

// Body returns the serialized function body (without its size prefix) and
// the relocations with offsets relative to the start of the body.
func (c *CodeBuilder) Body() ([]byte, []RelocationEntry) {
	if !c.sealed {
		panic("wasm: function body requested before its header was built")
	}
	ins := append([]insertion(nil), c.insertions...)
	sort.SliceStable(ins, func(i, j int) bool { return ins[i].at < ins[j].at })

	extra := 0
	for _, in := range ins {
		extra += len(in.bytes)
	}
	out := make([]byte, 0, len(c.preamble)+len(c.code)+extra+len(c.epilogue))
	out = append(out, c.preamble...)
	pos := 0
	for _, in := range ins {
		out = append(out, c.code[pos:in.at]...)
		out = append(out, in.bytes...)
		pos = in.at
	}
	out = append(out, c.code[pos:]...)
	out = append(out, c.epilogue...)

	relocs := make([]RelocationEntry, len(c.relocs))
	for i, r := range c.relocs {
		shift := len(c.preamble)
		for _, in := range ins {
			if in.at <= int(r.Offset) {
				shift += len(in.bytes)
			}
		}
		r.Offset += uint32(shift)
		relocs[i] = r
	}
	return out, relocs
}
