package wasm

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
)

// StackPointerGlobal is the global index of __stack_pointer.
const StackPointerGlobal = 0

const (
	StackPointerName = "__stack_pointer"
	MemoryName       = "memory"
	PageSize         = 64 * 1024
)

// Signature is a function type.
type Signature struct {
	Params  []ValueType
	Results []ValueType
}

func (s Signature) key() string {
	var sb strings.Builder
	for _, p := range s.Params {
		sb.WriteByte(byte(p))
	}
	sb.WriteByte(':')
	for _, r := range s.Results {
		sb.WriteByte(byte(r))
	}
	return sb.String()
}

func (s Signature) String() string {
	parts := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		parts = append(parts, p.String())
	}
	ret := "()"
	if len(s.Results) > 0 {
		ret = s.Results[0].String()
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + ret
}

// Import is an imported function.
type Import struct {
	Module    string
	Name      string
	TypeIndex uint32
}

// ExportKind is the kind of an exported item.
type ExportKind byte

const (
	ExportFunc   ExportKind = 0
	ExportTable  ExportKind = 1
	ExportMemory ExportKind = 2
	ExportGlobal ExportKind = 3
)

// Export names an item of the module. Function exports hold a procedure index.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// Global is a global variable with a constant initializer.
type Global struct {
	Type    ValueType
	Mutable bool
	Init    int64
}

// DataSegment is an active data segment in memory 0.
type DataSegment struct {
	Base uint32
	Init []byte
}

type function struct {
	typeIndex uint32
	code      *CodeBuilder
	defined   bool
}

// Module is a relocatable wasm object under construction.
type Module struct {
	Types       []Signature
	Imports     []Import
	MemoryPages uint32
	Globals     []Global
	Exports     []Export
	Data        []DataSegment
	Symbols     []SymInfo
	Segments    []SegmentInfo

	typeIndex map[string]uint32
	funcs     []function
}

// NewModule returns an empty module.
func NewModule() *Module {
	return &Module{typeIndex: make(map[string]uint32, 16)}
}

// AddType interns a function signature.
func (m *Module) AddType(sig Signature) uint32 {
	if m.typeIndex == nil {
		m.typeIndex = make(map[string]uint32, 16)
	}
	key := sig.key()
	if idx, ok := m.typeIndex[key]; ok {
		return idx
	}
	idx := mustU32(len(m.Types))
	m.Types = append(m.Types, sig)
	m.typeIndex[key] = idx
	return idx
}

// AddImport declares an imported function and returns its import index.
func (m *Module) AddImport(module, name string, sig Signature) uint32 {
	idx := mustU32(len(m.Imports))
	m.Imports = append(m.Imports, Import{Module: module, Name: name, TypeIndex: m.AddType(sig)})
	return idx
}

// NumImports reports the number of imported functions.
func (m *Module) NumImports() int { return len(m.Imports) }

// ReserveFunctions makes room for n defined functions.
func (m *Module) ReserveFunctions(n int) {
	for len(m.funcs) < n {
		m.funcs = append(m.funcs, function{})
	}
}

// NumFunctions reports the number of defined function slots.
func (m *Module) NumFunctions() int { return len(m.funcs) }

// DefineFunction stores the signature and body of the procedure at procIndex.
func (m *Module) DefineFunction(procIndex int, sig Signature, code *CodeBuilder) error {
	if procIndex < 0 {
		return fmt.Errorf("wasm: negative function index %d", procIndex)
	}
	m.ReserveFunctions(procIndex + 1)
	if m.funcs[procIndex].defined {
		return fmt.Errorf("wasm: function %d defined twice", procIndex)
	}
	m.funcs[procIndex] = function{typeIndex: m.AddType(sig), code: code, defined: true}
	return nil
}

// FunctionIndex maps a procedure index to its index in the function index space.
func (m *Module) FunctionIndex(procIndex uint32) uint32 {
	return mustU32(len(m.Imports)) + procIndex
}

// AddSymbol appends a linker symbol and returns its index.
func (m *Module) AddSymbol(s SymInfo) uint32 {
	idx := mustU32(len(m.Symbols))
	m.Symbols = append(m.Symbols, s)
	return idx
}

// Validate checks that every reserved function has a body.
func (m *Module) Validate() error {
	var missing []string
	for i, f := range m.funcs {
		if !f.defined {
			missing = append(missing, fmt.Sprintf("%d", i))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("wasm: functions without a body: %s", strings.Join(missing, ", "))
	}
	return nil
}

func mustU32(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("wasm: index overflow: %w", err))
	}
	return v
}
