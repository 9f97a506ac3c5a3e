package wasm32

import (
	"errors"
	"fmt"

	"wasmgen/internal/layout"
)

// ErrorKind classifies fatal code generation failures.
type ErrorKind uint8

const (
	// ErrRepresentation means a value's storage does not match what the expression needs.
	ErrRepresentation ErrorKind = iota + 1
	// ErrUnsupported means the construct has no lowering.
	ErrUnsupported
	// ErrFrameOverflow means the stack frame outgrew the stack.
	ErrFrameOverflow
	// ErrInternal means a lookup failed that an earlier pass guarantees.
	ErrInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrRepresentation:
		return "representation mismatch"
	case ErrUnsupported:
		return "unsupported"
	case ErrFrameOverflow:
		return "stack frame overflow"
	case ErrInternal:
		return "internal error"
	default:
		return fmt.Sprintf("error(%d)", uint8(k))
	}
}

// CompileError aborts the compilation of a module.
type CompileError struct {
	Kind   ErrorKind
	Proc   string
	Detail string
	Err    error
}

func (e *CompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Proc != "" {
		msg = e.Proc + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

func errorf(kind ErrorKind, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// layoutError converts a layout engine failure.
func layoutError(err error, what string) *CompileError {
	kind := ErrInternal
	var le *layout.LayoutError
	if errors.As(err, &le) && le.Kind == layout.LayoutErrUnsupported {
		kind = ErrUnsupported
	}
	return &CompileError{Kind: kind, Detail: what, Err: err}
}
