package wasm

import "fmt"

// ValueType is a wasm number type.
type ValueType byte

const (
	I32 ValueType = 0x7f
	I64 ValueType = 0x7e
	F32 ValueType = 0x7d
	F64 ValueType = 0x7c
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(t))
	}
}

// BlockType is the result signature of a structured block.
type BlockType byte

// BlockNoResult is the empty block type.
const BlockNoResult BlockType = 0x40

// BlockResult returns a block type producing one value of t.
func BlockResult(t ValueType) BlockType { return BlockType(t) }

// LocalID indexes the locals of a function, arguments first.
type LocalID uint32

// Align is the log2 alignment hint of a memory instruction.
type Align uint32

const (
	Align1 Align = 0
	Align2 Align = 1
	Align4 Align = 2
	Align8 Align = 3
)

// AlignFor converts a byte alignment to a hint, capped at 8 bytes.
func AlignFor(bytes int) Align {
	switch {
	case bytes >= 8:
		return Align8
	case bytes >= 4:
		return Align4
	case bytes >= 2:
		return Align2
	default:
		return Align1
	}
}

// Opcode is a single-byte wasm instruction opcode.
type Opcode byte

const (
	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02
	OpLoop        Opcode = 0x03
	OpIf          Opcode = 0x04
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0b
	OpBr          Opcode = 0x0c
	OpBrIf        Opcode = 0x0d
	OpReturn      Opcode = 0x0f
	OpCall        Opcode = 0x10
	OpDrop        Opcode = 0x1a
	OpSelect      Opcode = 0x1b

	OpLocalGet  Opcode = 0x20
	OpLocalSet  Opcode = 0x21
	OpLocalTee  Opcode = 0x22
	OpGlobalGet Opcode = 0x23
	OpGlobalSet Opcode = 0x24

	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpF32Load    Opcode = 0x2a
	OpF64Load    Opcode = 0x2b
	OpI32Load8S  Opcode = 0x2c
	OpI32Load8U  Opcode = 0x2d
	OpI32Load16S Opcode = 0x2e
	OpI32Load16U Opcode = 0x2f
	OpI64Load8U  Opcode = 0x31
	OpI64Load16U Opcode = 0x33
	OpI64Load32U Opcode = 0x35
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpF32Store   Opcode = 0x38
	OpF64Store   Opcode = 0x39
	OpI32Store8  Opcode = 0x3a
	OpI32Store16 Opcode = 0x3b
	OpI64Store8  Opcode = 0x3c
	OpI64Store16 Opcode = 0x3d
	OpI64Store32 Opcode = 0x3e

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42
	OpF32Const Opcode = 0x43
	OpF64Const Opcode = 0x44

	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4a
	OpI32GtU Opcode = 0x4b
	OpI32LeS Opcode = 0x4c
	OpI32LeU Opcode = 0x4d
	OpI32GeS Opcode = 0x4e
	OpI32GeU Opcode = 0x4f

	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5a

	OpF32Eq Opcode = 0x5b
	OpF32Ne Opcode = 0x5c
	OpF32Lt Opcode = 0x5d
	OpF32Gt Opcode = 0x5e
	OpF32Le Opcode = 0x5f
	OpF32Ge Opcode = 0x60

	OpF64Eq Opcode = 0x61
	OpF64Ne Opcode = 0x62
	OpF64Lt Opcode = 0x63
	OpF64Gt Opcode = 0x64
	OpF64Le Opcode = 0x65
	OpF64Ge Opcode = 0x66

	OpI32Add Opcode = 0x6a
	OpI32Sub Opcode = 0x6b
	OpI32Mul Opcode = 0x6c
	OpI32And Opcode = 0x71
	OpI32Or  Opcode = 0x72
	OpI32Xor Opcode = 0x73

	OpI64Add Opcode = 0x7c
	OpI64Sub Opcode = 0x7d
	OpI64Mul Opcode = 0x7e
	OpI64And Opcode = 0x83
	OpI64Or  Opcode = 0x84
	OpI64Xor Opcode = 0x85

	OpF32Neg Opcode = 0x8c
	OpF32Add Opcode = 0x92
	OpF32Sub Opcode = 0x93
	OpF32Mul Opcode = 0x94

	OpF64Neg Opcode = 0x9a
	OpF64Add Opcode = 0xa0
	OpF64Sub Opcode = 0xa1
	OpF64Mul Opcode = 0xa2

	OpI32WrapI64    Opcode = 0xa7
	OpI64ExtendI32S Opcode = 0xac
	OpI64ExtendI32U Opcode = 0xad
)
