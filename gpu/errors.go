package gpu

import (
	"errors"
	"fmt"
)

// Code is a driver error code, modelled on the GL error enum.
type Code uint8

const (
	InvalidValue Code = iota + 1
	InvalidOperation
	OutOfMemory
	ContextLost
)

func (c Code) String() string {
	switch c {
	case InvalidValue:
		return "INVALID_VALUE"
	case InvalidOperation:
		return "INVALID_OPERATION"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case ContextLost:
		return "CONTEXT_LOST"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

// Error is returned by every failing Context call.
type Error struct {
	Code Code
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("gpu: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("gpu: %s: %s: %s", e.Op, e.Code, e.Msg)
}

func newError(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the driver code carried by err, or 0 when err is not a
// driver error.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}
