package wasm32

import (
	"fmt"

	"fortio.org/safecast"

	"wasmgen/internal/ir"
	"wasmgen/internal/layout"
	"wasmgen/internal/wasm"
)

// StoredKind enumerates where a symbol's value lives.
type StoredKind uint8

const (
	// StoredVMStack values exist only on the operand stack.
	StoredVMStack StoredKind = iota + 1
	// StoredLocal values live in a wasm local.
	StoredLocal
	// StoredStackMemory values live in linear memory.
	StoredStackMemory
)

// LocationKind distinguishes the two kinds of memory location.
type LocationKind uint8

const (
	// FrameOffset is an offset from the frame pointer.
	FrameOffset LocationKind = iota + 1
	// PointerArg is memory owned by the caller, addressed by a pointer argument.
	PointerArg
)

// Location addresses a value in linear memory.
type Location struct {
	Kind   LocationKind
	Offset uint32
	Local  wasm.LocalID
}

// StoredValue is the storage of one symbol.
type StoredValue struct {
	Kind StoredKind

	// VM stack and local values.
	Type  wasm.ValueType
	VM    wasm.VMSymbolState
	Local wasm.LocalID

	// Stack memory values.
	Location Location
	Align    int
	Format   layout.StackMemoryFormat

	// Size is the byte width of the value; narrow integers are below 4.
	Size int
	// Signed narrow integers are sign-extended when loaded from memory.
	Signed bool
}

// StoredValueKind says what a symbol is, which decides its default storage.
type StoredValueKind uint8

const (
	Parameter StoredValueKind = iota + 1
	Variable
	ReturnValue
	JoinParameter
)

// Storage assigns storage to the symbols of one procedure.
type Storage struct {
	argTypes   []wasm.ValueType
	localTypes []wasm.ValueType
	symbols    map[ir.Symbol]StoredValue

	framePointer    wasm.LocalID
	hasFramePointer bool
	frameSize       uint32
	maxFrameSize    uint32

	// returnsViaPointer is set when local 0 is the return pointer.
	returnsViaPointer bool
}

func newStorage(maxFrameSize uint32) *Storage {
	return &Storage{
		symbols:      make(map[ir.Symbol]StoredValue, 32),
		maxFrameSize: maxFrameSize,
	}
}

func (s *Storage) nextLocalID() wasm.LocalID {
	n, err := safecast.Conv[uint32](len(s.argTypes) + len(s.localTypes))
	if err != nil {
		panic(fmt.Errorf("local index overflow: %w", err))
	}
	return wasm.LocalID(n)
}

// CreateAnonymousLocal declares a local that no symbol owns.
func (s *Storage) CreateAnonymousLocal(vt wasm.ValueType) wasm.LocalID {
	id := s.nextLocalID()
	s.localTypes = append(s.localTypes, vt)
	return id
}

func (s *Storage) addArg(vt wasm.ValueType) wasm.LocalID {
	if len(s.localTypes) > 0 {
		panic("arguments must be declared before locals")
	}
	id := s.nextLocalID()
	s.argTypes = append(s.argTypes, vt)
	return id
}

// Allocate assigns storage to sym.
func (s *Storage) Allocate(wl layout.WasmLayout, sym ir.Symbol, kind StoredValueKind) (StoredValue, error) {
	var sv StoredValue
	if wl.IsPrimitive() {
		sv = StoredValue{Type: wl.Type, Size: wl.Size, Signed: wl.Signed}
		switch kind {
		case Parameter:
			sv.Kind = StoredLocal
			sv.Local = s.addArg(wl.Type)
		case JoinParameter:
			sv.Kind = StoredLocal
			sv.Local = s.CreateAnonymousLocal(wl.Type)
		default:
			sv.Kind = StoredVMStack
			sv.VM = wasm.VMSymbolState{Kind: wasm.VMNotYetPushed}
		}
	} else {
		sv = StoredValue{Kind: StoredStackMemory, Size: wl.Size, Align: max(wl.Align, 1), Format: wl.Format}
		switch {
		case kind == Parameter:
			sv.Location = Location{Kind: PointerArg, Local: s.addArg(wasm.I32)}
		case kind == ReturnValue && s.returnsViaPointer:
			sv.Location = Location{Kind: PointerArg, Local: 0}
		default:
			loc, err := s.allocateFrame(wl.Size, sv.Align)
			if err != nil {
				return StoredValue{}, err
			}
			sv.Location = loc
		}
	}
	s.symbols[sym] = sv
	return sv, nil
}

func (s *Storage) allocateFrame(size, align int) (Location, error) {
	if !s.hasFramePointer {
		s.framePointer = s.CreateAnonymousLocal(wasm.I32)
		s.hasFramePointer = true
	}
	a, err := safecast.Conv[uint32](align)
	if err != nil {
		return Location{}, errorf(ErrInternal, "alignment %d: %v", align, err)
	}
	n, err := safecast.Conv[uint32](size)
	if err != nil {
		return Location{}, errorf(ErrInternal, "size %d: %v", size, err)
	}
	offset := alignUp(s.frameSize, a)
	end := uint64(offset) + uint64(n)
	if end > uint64(s.maxFrameSize) {
		return Location{}, errorf(ErrFrameOverflow, "frame needs %d bytes, stack has %d", end, s.maxFrameSize)
	}
	s.frameSize = uint32(end)
	return Location{Kind: FrameOffset, Offset: offset}, nil
}

// AllocateScratch reserves a frame slot shaped like sv that no symbol owns.
func (s *Storage) AllocateScratch(sv StoredValue) (StoredValue, error) {
	loc, err := s.allocateFrame(sv.Size, sv.Align)
	if err != nil {
		return StoredValue{}, err
	}
	sv.Location = loc
	return sv, nil
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// FrameSize is the frame size rounded up to the 16-byte stack alignment.
func (s *Storage) FrameSize() uint32 { return alignUp(s.frameSize, 16) }

// Get returns the storage of sym.
func (s *Storage) Get(sym ir.Symbol) (StoredValue, error) {
	sv, ok := s.symbols[sym]
	if !ok {
		return StoredValue{}, errorf(ErrInternal, "symbol %d has no storage", sym)
	}
	return sv, nil
}

func (s *Storage) set(sym ir.Symbol, sv StoredValue) { s.symbols[sym] = sv }

// localAndOffset resolves a memory location to a base pointer local and offset.
func (s *Storage) localAndOffset(loc Location) (wasm.LocalID, uint32) {
	if loc.Kind == PointerArg {
		return loc.Local, 0
	}
	return s.framePointer, loc.Offset
}

// EnsureValueHasLocal moves a VM stack value into a local so it can be read more than once.
func (s *Storage) EnsureValueHasLocal(code *wasm.CodeBuilder, sym ir.Symbol, sv StoredValue) StoredValue {
	if sv.Kind != StoredVMStack {
		return sv
	}
	id := s.nextLocalID()
	if sv.VM.Kind != wasm.VMNotYetPushed {
		code.LoadSymbol(sym, sv.VM, id)
		code.SetLocal(id)
	}
	s.localTypes = append(s.localTypes, sv.Type)
	sv = StoredValue{Kind: StoredLocal, Type: sv.Type, Local: id, Size: sv.Size, Signed: sv.Signed}
	s.set(sym, sv)
	return sv
}

// LoadSymbols pushes the values of syms in order. Memory values push their address.
func (s *Storage) LoadSymbols(code *wasm.CodeBuilder, syms ...ir.Symbol) error {
	for _, sym := range syms {
		sv, err := s.Get(sym)
		if err != nil {
			return err
		}
		switch sv.Kind {
		case StoredVMStack:
			next := s.nextLocalID()
			state, ok := code.LoadSymbol(sym, sv.VM, next)
			if ok {
				sv.VM = state
			} else {
				s.localTypes = append(s.localTypes, sv.Type)
				sv = StoredValue{Kind: StoredLocal, Type: sv.Type, Local: next, Size: sv.Size, Signed: sv.Signed}
			}
			s.set(sym, sv)
		case StoredLocal:
			code.GetLocal(sv.Local)
		case StoredStackMemory:
			local, offset := s.localAndOffset(sv.Location)
			code.GetLocal(local)
			if offset != 0 {
				code.I32Const(int32(offset))
				code.Inst(wasm.OpI32Add)
			}
		}
	}
	return nil
}

// LoadSymbolsForCall pushes call arguments under conv and returns the wasm signature.
// A result returned through memory is passed as a leading pointer to retSym.
func (s *Storage) LoadSymbolsForCall(code *wasm.CodeBuilder, args []ir.Symbol, retSym ir.Symbol, ret layout.WasmLayout, conv layout.CallConv) (wasm.Signature, error) {
	var sig wasm.Signature
	method, vt := ret.ReturnMethod()
	switch method {
	case layout.ReturnPrimitive:
		sig.Results = []wasm.ValueType{vt}
	case layout.ReturnWriteToPointerArg:
		if err := s.LoadSymbols(code, retSym); err != nil {
			return sig, err
		}
		sig.Params = append(sig.Params, wasm.I32)
	}

	for _, arg := range args {
		sv, err := s.Get(arg)
		if err != nil {
			return sig, err
		}
		if sv.Kind == StoredStackMemory && conv == layout.CallConvBuiltin &&
			(sv.Format == layout.FormatInt128 || sv.Format == layout.FormatDecimal) {
			local, offset := s.localAndOffset(sv.Location)
			code.GetLocal(local)
			code.Load(wasm.OpI64Load, wasm.Align8, offset)
			code.GetLocal(local)
			code.Load(wasm.OpI64Load, wasm.Align8, offset+8)
			sig.Params = append(sig.Params, wasm.I64, wasm.I64)
			continue
		}
		if err := s.LoadSymbols(code, arg); err != nil {
			return sig, err
		}
		if sv.Kind == StoredStackMemory {
			sig.Params = append(sig.Params, wasm.I32)
		} else {
			sig.Params = append(sig.Params, sv.Type)
		}
	}
	return sig, nil
}

func loadOp(vt wasm.ValueType, size int, signed bool) wasm.Opcode {
	switch vt {
	case wasm.I64:
		return wasm.OpI64Load
	case wasm.F32:
		return wasm.OpF32Load
	case wasm.F64:
		return wasm.OpF64Load
	}
	switch {
	case size == 1 && signed:
		return wasm.OpI32Load8S
	case size == 1:
		return wasm.OpI32Load8U
	case size == 2 && signed:
		return wasm.OpI32Load16S
	case size == 2:
		return wasm.OpI32Load16U
	default:
		return wasm.OpI32Load
	}
}

func storeOp(vt wasm.ValueType, size int) wasm.Opcode {
	switch vt {
	case wasm.I64:
		return wasm.OpI64Store
	case wasm.F32:
		return wasm.OpF32Store
	case wasm.F64:
		return wasm.OpF64Store
	}
	switch size {
	case 1:
		return wasm.OpI32Store8
	case 2:
		return wasm.OpI32Store16
	default:
		return wasm.OpI32Store
	}
}

func primitiveSize(sv StoredValue) int {
	if sv.Size > 0 {
		return sv.Size
	}
	switch sv.Type {
	case wasm.I64, wasm.F64:
		return 8
	default:
		return 4
	}
}

// CopyValueToMemory writes the value of sym to toPtr+toOffset.
func (s *Storage) CopyValueToMemory(code *wasm.CodeBuilder, toPtr wasm.LocalID, toOffset uint32, sym ir.Symbol) error {
	sv, err := s.Get(sym)
	if err != nil {
		return err
	}
	switch sv.Kind {
	case StoredStackMemory:
		from, fromOffset := s.localAndOffset(sv.Location)
		copyMemory(code, copyMemoryConfig{
			fromPtr:    from,
			fromOffset: fromOffset,
			toPtr:      toPtr,
			toOffset:   toOffset,
			size:       uint32(sv.Size),
			align:      sv.Align,
		})
		return nil
	default:
		size := primitiveSize(sv)
		code.GetLocal(toPtr)
		if err := s.LoadSymbols(code, sym); err != nil {
			return err
		}
		code.Store(storeOp(sv.Type, size), wasm.AlignFor(size), toOffset)
		return nil
	}
}

// CopyValueFromMemory reads sym's value from fromPtr+fromOffset into its storage.
// A VM stack value is left on the stack.
func (s *Storage) CopyValueFromMemory(code *wasm.CodeBuilder, sym ir.Symbol, fromPtr wasm.LocalID, fromOffset uint32) error {
	sv, err := s.Get(sym)
	if err != nil {
		return err
	}
	switch sv.Kind {
	case StoredStackMemory:
		to, toOffset := s.localAndOffset(sv.Location)
		copyMemory(code, copyMemoryConfig{
			fromPtr:    fromPtr,
			fromOffset: fromOffset,
			toPtr:      to,
			toOffset:   toOffset,
			size:       uint32(sv.Size),
			align:      sv.Align,
		})
	case StoredLocal:
		size := primitiveSize(sv)
		code.GetLocal(fromPtr)
		code.Load(loadOp(sv.Type, size, sv.Signed), wasm.AlignFor(size), fromOffset)
		code.SetLocal(sv.Local)
	case StoredVMStack:
		size := primitiveSize(sv)
		code.GetLocal(fromPtr)
		code.Load(loadOp(sv.Type, size, sv.Signed), wasm.AlignFor(size), fromOffset)
	}
	return nil
}

// CloneValue copies the value of fromSym into the storage to.
func (s *Storage) CloneValue(code *wasm.CodeBuilder, to StoredValue, from StoredValue, fromSym ir.Symbol) error {
	switch to.Kind {
	case StoredStackMemory:
		if from.Kind != StoredStackMemory {
			return errorf(ErrRepresentation, "cannot copy a primitive symbol %d into memory", fromSym)
		}
		fromPtr, fromOffset := s.localAndOffset(from.Location)
		toPtr, toOffset := s.localAndOffset(to.Location)
		copyMemory(code, copyMemoryConfig{
			fromPtr:    fromPtr,
			fromOffset: fromOffset,
			toPtr:      toPtr,
			toOffset:   toOffset,
			size:       uint32(to.Size),
			align:      min(to.Align, from.Align),
		})
		return nil
	case StoredLocal:
		if from.Kind == StoredStackMemory {
			return errorf(ErrRepresentation, "cannot copy memory symbol %d into a local", fromSym)
		}
		if err := s.LoadSymbols(code, fromSym); err != nil {
			return err
		}
		code.SetLocal(to.Local)
		return nil
	default:
		if from.Kind == StoredStackMemory {
			return errorf(ErrRepresentation, "cannot copy memory symbol %d onto the VM stack", fromSym)
		}
		return s.LoadSymbols(code, fromSym)
	}
}
