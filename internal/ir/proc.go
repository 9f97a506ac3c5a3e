package ir

// LowLevel enumerates primitive operations.
type LowLevel uint8

const (
	LowLevelInvalid LowLevel = iota
	NumAdd
	NumSub
	NumMul
	NumLt
	NumLte
	NumGt
	NumGte
	Eq
	NotEq
	And
	Or
	Not
	NumNeg
	StrConcat
	StrEqual
	StrIsEmpty
	ListLen
	ListGetUnsafe
	ListAppend
	NumToStr
	numLowLevels
)

var lowLevelNames = [...]string{
	LowLevelInvalid: "invalid",
	NumAdd:          "num_add",
	NumSub:          "num_sub",
	NumMul:          "num_mul",
	NumLt:           "num_lt",
	NumLte:          "num_lte",
	NumGt:           "num_gt",
	NumGte:          "num_gte",
	Eq:              "eq",
	NotEq:           "not_eq",
	And:             "and",
	Or:              "or",
	Not:             "not",
	NumNeg:          "num_neg",
	StrConcat:       "str_concat",
	StrEqual:        "str_equal",
	StrIsEmpty:      "str_is_empty",
	ListLen:         "list_len",
	ListGetUnsafe:   "list_get_unsafe",
	ListAppend:      "list_append",
	NumToStr:        "num_to_str",
}

func (op LowLevel) String() string {
	if op < numLowLevels {
		return lowLevelNames[op]
	}
	return "invalid"
}

// Proc is one monomorphic procedure.
type Proc struct {
	Name      Symbol   `msgpack:"name"`
	Args      []Param  `msgpack:"args"`
	Body      *Stmt    `msgpack:"body"`
	RetLayout LayoutID `msgpack:"ret_layout"`
	// Exposed procedures are exported under ExportName, or their interned name.
	Exposed    bool   `msgpack:"exposed,omitempty"`
	ExportName string `msgpack:"export_name,omitempty"`
}

// Program is everything needed to build one module.
type Program struct {
	Interns *Interns        `msgpack:"interns"`
	Layouts *LayoutInterner `msgpack:"layouts"`
	Procs   []*Proc         `msgpack:"procs"`
}

// NewProgram returns an empty program with fresh interners.
func NewProgram() *Program {
	return &Program{Interns: NewInterns(), Layouts: NewLayoutInterner()}
}
