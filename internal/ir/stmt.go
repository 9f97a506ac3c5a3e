package ir

// StmtKind enumerates statement shapes.
type StmtKind uint8

const (
	StmtInvalid StmtKind = iota
	// StmtLet binds Symbol to Expr, then continues with Following.
	StmtLet
	// StmtSwitch branches on an integer, bool or float condition.
	StmtSwitch
	// StmtRet returns a symbol from the procedure.
	StmtRet
	// StmtJoin declares a join point and continues with Remainder.
	StmtJoin
	// StmtJump transfers control to a join point.
	StmtJump
	// StmtRefcounting applies a refcount modification, then continues with Following.
	StmtRefcounting
)

func (k StmtKind) String() string {
	switch k {
	case StmtLet:
		return "let"
	case StmtSwitch:
		return "switch"
	case StmtRet:
		return "ret"
	case StmtJoin:
		return "join"
	case StmtJump:
		return "jump"
	case StmtRefcounting:
		return "refcounting"
	default:
		return "invalid"
	}
}

// Stmt is one node of a procedure's statement tree.
type Stmt struct {
	Kind StmtKind `msgpack:"kind"`

	Let         LetStmt         `msgpack:"let,omitempty"`
	Switch      SwitchStmt      `msgpack:"switch,omitempty"`
	Ret         Symbol          `msgpack:"ret,omitempty"`
	Join        JoinStmt        `msgpack:"join,omitempty"`
	Jump        JumpStmt        `msgpack:"jump,omitempty"`
	Refcounting RefcountingStmt `msgpack:"rc,omitempty"`
}

// LetStmt binds one symbol.
type LetStmt struct {
	Symbol    Symbol   `msgpack:"sym"`
	Expr      Expr     `msgpack:"expr"`
	Layout    LayoutID `msgpack:"layout"`
	Following *Stmt    `msgpack:"next"`
}

// SwitchBranch is one non-default arm of a switch.
type SwitchBranch struct {
	Value uint64 `msgpack:"value"`
	Body  *Stmt  `msgpack:"body"`
}

// SwitchStmt compares Cond against each branch value in order.
type SwitchStmt struct {
	Cond       Symbol         `msgpack:"cond"`
	CondLayout LayoutID       `msgpack:"cond_layout"`
	Branches   []SwitchBranch `msgpack:"branches"`
	Default    *Stmt          `msgpack:"default"`
	RetLayout  LayoutID       `msgpack:"ret_layout"`
}

// Param is a typed join point parameter.
type Param struct {
	Symbol Symbol   `msgpack:"sym"`
	Layout LayoutID `msgpack:"layout"`
}

// JoinStmt declares join point ID. Remainder runs first and may jump into Body.
type JoinStmt struct {
	ID        JoinPointID `msgpack:"id"`
	Params    []Param     `msgpack:"params"`
	Body      *Stmt       `msgpack:"body"`
	Remainder *Stmt       `msgpack:"remainder"`
}

// JumpStmt passes Args to the parameters of join point ID.
type JumpStmt struct {
	ID   JoinPointID `msgpack:"id"`
	Args []Symbol    `msgpack:"args"`
}

// ModifyRcKind enumerates refcount modifications.
type ModifyRcKind uint8

const (
	ModifyInc ModifyRcKind = iota + 1
	ModifyDec
	// ModifyDecRef decrements only the outer allocation, never the children.
	ModifyDecRef
)

func (k ModifyRcKind) String() string {
	switch k {
	case ModifyInc:
		return "inc"
	case ModifyDec:
		return "dec"
	case ModifyDecRef:
		return "decref"
	default:
		return "invalid"
	}
}

// ModifyRc is one increment/decrement marker.
type ModifyRc struct {
	Kind   ModifyRcKind `msgpack:"kind"`
	Symbol Symbol       `msgpack:"sym"`
	Amount uint64       `msgpack:"amount,omitempty"`
}

// RefcountingStmt applies Modify then continues.
type RefcountingStmt struct {
	Modify    ModifyRc `msgpack:"modify"`
	Following *Stmt    `msgpack:"next"`
}

// Let builds a let statement.
func Let(sym Symbol, expr Expr, layout LayoutID, following *Stmt) *Stmt {
	return &Stmt{Kind: StmtLet, Let: LetStmt{Symbol: sym, Expr: expr, Layout: layout, Following: following}}
}

// Ret builds a return statement.
func Ret(sym Symbol) *Stmt {
	return &Stmt{Kind: StmtRet, Ret: sym}
}

// Jump builds a jump statement.
func Jump(id JoinPointID, args ...Symbol) *Stmt {
	return &Stmt{Kind: StmtJump, Jump: JumpStmt{ID: id, Args: args}}
}

// HelperProc names a procedure synthesized while expanding refcount statements.
type HelperProc struct {
	Symbol Symbol
	// Layout is the layout of the helper's value argument.
	Layout LayoutID
	Kind   ModifyRcKind
}
