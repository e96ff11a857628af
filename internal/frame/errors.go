package frame

import (
	"errors"
	"fmt"
)

// PanicCode identifies misuse of the register file.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicNoFrame    PanicCode = 3001 // FR3001: pop without an active frame
	PanicStaleFrame PanicCode = 3002 // FR3002: frame already popped
	PanicBadIndex   PanicCode = 3003 // FR3003: register or parameter index out of range
)

// String returns the code as "FR3001".
func (c PanicCode) String() string {
	return fmt.Sprintf("FR%d", c)
}

// Error is the panic payload for register file misuse.
type Error struct {
	Code    PanicCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("panic %s: %s", e.Code, e.Message)
}

func fail(code PanicCode, format string, args ...any) {
	panic(&Error{Code: code, Message: fmt.Sprintf(format, args...)})
}

// ErrStackOverflow is returned by PushFrame when the register file is full.
var ErrStackOverflow = errors.New("register file overflow")
