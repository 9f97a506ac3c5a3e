package ir

// ExprKind enumerates expression shapes.
type ExprKind uint8

const (
	ExprInvalid ExprKind = iota
	ExprLiteral
	ExprCall
	ExprStruct
	ExprStructAtIndex
	ExprArray
	ExprEmptyArray
	ExprTag
	ExprGetTagID
	ExprUnionAtIndex
)

func (k ExprKind) String() string {
	switch k {
	case ExprLiteral:
		return "literal"
	case ExprCall:
		return "call"
	case ExprStruct:
		return "struct"
	case ExprStructAtIndex:
		return "struct-at-index"
	case ExprArray:
		return "array"
	case ExprEmptyArray:
		return "empty-array"
	case ExprTag:
		return "tag"
	case ExprGetTagID:
		return "get-tag-id"
	case ExprUnionAtIndex:
		return "union-at-index"
	default:
		return "invalid"
	}
}

// Expr is the right-hand side of a let binding.
type Expr struct {
	Kind ExprKind `msgpack:"kind"`

	Literal       Literal           `msgpack:"lit,omitempty"`
	Call          Call              `msgpack:"call,omitempty"`
	Struct        []Symbol          `msgpack:"struct,omitempty"`
	StructAtIndex StructAtIndexExpr `msgpack:"struct_at,omitempty"`
	Array         ArrayExpr         `msgpack:"array,omitempty"`
	Tag           TagExpr           `msgpack:"tag,omitempty"`
	GetTagID      GetTagIDExpr      `msgpack:"get_tag_id,omitempty"`
	UnionAtIndex  UnionAtIndexExpr  `msgpack:"union_at,omitempty"`
}

// LiteralKind enumerates literal shapes.
type LiteralKind uint8

const (
	LitInvalid LiteralKind = iota
	LitInt
	LitFloat
	LitDecimal
	LitBool
	LitByte
	LitStr
)

func (k LiteralKind) String() string {
	switch k {
	case LitInt:
		return "int"
	case LitFloat:
		return "float"
	case LitDecimal:
		return "decimal"
	case LitBool:
		return "bool"
	case LitByte:
		return "byte"
	case LitStr:
		return "str"
	default:
		return "invalid"
	}
}

// Literal is a constant. Int and Decimal carry 128 bits split into Lo and Hi.
type Literal struct {
	Kind  LiteralKind `msgpack:"kind"`
	Lo    int64       `msgpack:"lo,omitempty"`
	Hi    int64       `msgpack:"hi,omitempty"`
	Float float64     `msgpack:"float,omitempty"`
	Bool  bool        `msgpack:"bool,omitempty"`
	Byte  uint8       `msgpack:"byte,omitempty"`
	Str   string      `msgpack:"str,omitempty"`
}

// CallKind enumerates call targets.
type CallKind uint8

const (
	CallInvalid CallKind = iota
	// CallByName calls a procedure of this module.
	CallByName
	// CallLowLevel applies a primitive operation.
	CallLowLevel
	// CallForeign calls a runtime builtin by routine name.
	CallForeign
)

func (k CallKind) String() string {
	switch k {
	case CallByName:
		return "by-name"
	case CallLowLevel:
		return "low-level"
	case CallForeign:
		return "foreign"
	default:
		return "invalid"
	}
}

// Call is a call expression.
type Call struct {
	Kind    CallKind `msgpack:"kind"`
	Name    Symbol   `msgpack:"name,omitempty"`
	Op      LowLevel `msgpack:"op,omitempty"`
	Foreign string   `msgpack:"foreign,omitempty"`
	Args    []Symbol `msgpack:"args"`
}

// StructAtIndexExpr reads field Index of Structure.
type StructAtIndexExpr struct {
	Index        uint64     `msgpack:"index"`
	FieldLayouts []LayoutID `msgpack:"fields"`
	Structure    Symbol     `msgpack:"structure"`
}

// ListElemKind distinguishes literal and symbol list elements.
type ListElemKind uint8

const (
	ListElemLiteral ListElemKind = iota + 1
	ListElemSymbol
)

// ListElem is one element of a list literal.
type ListElem struct {
	Kind    ListElemKind `msgpack:"kind"`
	Literal Literal      `msgpack:"lit,omitempty"`
	Symbol  Symbol       `msgpack:"sym,omitempty"`
}

// ArrayExpr is a list literal.
type ArrayExpr struct {
	ElemLayout LayoutID   `msgpack:"elem_layout"`
	Elems      []ListElem `msgpack:"elems"`
}

// TagExpr builds a tag union value.
type TagExpr struct {
	Union     LayoutID `msgpack:"union"`
	TagID     TagID    `msgpack:"tag_id"`
	Arguments []Symbol `msgpack:"args"`
}

// GetTagIDExpr reads the discriminant of Structure.
type GetTagIDExpr struct {
	Structure Symbol   `msgpack:"structure"`
	Union     LayoutID `msgpack:"union"`
}

// UnionAtIndexExpr reads field Index of tag TagID of Structure.
type UnionAtIndexExpr struct {
	Structure Symbol   `msgpack:"structure"`
	TagID     TagID    `msgpack:"tag_id"`
	Union     LayoutID `msgpack:"union"`
	Index     uint64   `msgpack:"index"`
}

// IntLit builds an integer literal.
func IntLit(v int64) Expr {
	hi := int64(0)
	if v < 0 {
		hi = -1
	}
	return Expr{Kind: ExprLiteral, Literal: Literal{Kind: LitInt, Lo: v, Hi: hi}}
}

// BoolLit builds a bool literal.
func BoolLit(v bool) Expr {
	return Expr{Kind: ExprLiteral, Literal: Literal{Kind: LitBool, Bool: v}}
}

// StrLit builds a string literal.
func StrLit(s string) Expr {
	return Expr{Kind: ExprLiteral, Literal: Literal{Kind: LitStr, Str: s}}
}

// CallProc builds a call to a procedure of this module.
func CallProc(name Symbol, args ...Symbol) Expr {
	return Expr{Kind: ExprCall, Call: Call{Kind: CallByName, Name: name, Args: args}}
}

// CallOp builds a low-level call.
func CallOp(op LowLevel, args ...Symbol) Expr {
	return Expr{Kind: ExprCall, Call: Call{Kind: CallLowLevel, Op: op, Args: args}}
}

// CallForeignFn builds a call to a runtime builtin.
func CallForeignFn(name string, args ...Symbol) Expr {
	return Expr{Kind: ExprCall, Call: Call{Kind: CallForeign, Foreign: name, Args: args}}
}
