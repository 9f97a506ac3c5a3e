package layout

import (
	"fmt"
	"strings"

	"wasmgen/internal/ir"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized indicates a layout that contains itself by value.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	// LayoutErrInvalidID indicates a LayoutID missing from the interner.
	LayoutErrInvalidID
	// LayoutErrUnsupported indicates a layout the wasm32 target cannot represent.
	LayoutErrUnsupported
	// LayoutErrNoSuchTag indicates a tag id outside the union.
	LayoutErrNoSuchTag
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind   LayoutErrorKind
	Layout ir.LayoutID
	Cycle  []ir.LayoutID // for LayoutErrRecursiveUnsized
	Tag    ir.TagID      // for LayoutErrNoSuchTag
	Detail string        // for LayoutErrUnsupported
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("recursive layout has infinite size (layout#%d)", e.Layout)
		}
		parts := make([]string, 0, len(e.Cycle))
		for _, id := range e.Cycle {
			parts = append(parts, fmt.Sprintf("layout#%d", id))
		}
		return fmt.Sprintf("recursive layout has infinite size (cycle: %s)", strings.Join(parts, " -> "))
	case LayoutErrInvalidID:
		return fmt.Sprintf("unknown layout#%d", e.Layout)
	case LayoutErrUnsupported:
		return fmt.Sprintf("unsupported layout#%d: %s", e.Layout, e.Detail)
	case LayoutErrNoSuchTag:
		return fmt.Sprintf("tag %d does not exist in union layout#%d", e.Tag, e.Layout)
	default:
		return fmt.Sprintf("layout error kind=%d layout#%d", e.Kind, e.Layout)
	}
}
