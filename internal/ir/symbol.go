package ir

import (
	"fmt"

	"fortio.org/safecast"
)

// Symbol identifies an IR value. Symbols are unique within a procedure.
type Symbol uint64

// NoSymbol marks an absent symbol.
const NoSymbol Symbol = 0

// IsValid reports whether the symbol was assigned by an Interns table.
func (s Symbol) IsValid() bool { return s != NoSymbol }

// JoinPointID labels a join point inside one procedure.
type JoinPointID uint32

// Interns maps symbols to their printable names. Symbol 0 is reserved.
type Interns struct {
	Names []string `msgpack:"names"`
}

// NewInterns creates an empty table with the reserved slot filled.
func NewInterns() *Interns {
	return &Interns{Names: []string{""}}
}

// NewSymbol allocates a fresh symbol with the given debug name.
func (in *Interns) NewSymbol(name string) Symbol {
	if len(in.Names) == 0 {
		in.Names = append(in.Names, "")
	}
	n, err := safecast.Conv[uint64](len(in.Names))
	if err != nil {
		panic(fmt.Errorf("symbol table overflow: %w", err))
	}
	in.Names = append(in.Names, name)
	return Symbol(n)
}

// Name returns the debug name of a symbol, falling back to a numbered form.
func (in *Interns) Name(sym Symbol) string {
	if in != nil && sym != NoSymbol && uint64(sym) < uint64(len(in.Names)) {
		if name := in.Names[sym]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("sym%d", uint64(sym))
}

// Len reports how many symbols (including the reserved one) exist.
func (in *Interns) Len() int {
	if in == nil {
		return 0
	}
	return len(in.Names)
}
