package object

import (
	"errors"
	"fmt"
)

// PanicCode identifies misuse of the object heap.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicInvalidHandle PanicCode = 2001 // OB2001: handle never issued or zero
	PanicUseAfterFree  PanicCode = 2002 // OB2002: object already freed
	PanicDoubleFree    PanicCode = 2003 // OB2003: object freed twice
)

// String returns the code as "OB2001".
func (c PanicCode) String() string {
	return fmt.Sprintf("OB%d", c)
}

// Error is the panic payload for heap misuse.
type Error struct {
	Code    PanicCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("panic %s: %s", e.Code, e.Message)
}

func (h *Heap) panic(code PanicCode, msg string) {
	panic(&Error{Code: code, Message: msg})
}

var (
	// ErrReadOnly is returned when writing a ReadOnly property.
	ErrReadOnly = errors.New("property is read-only")
	// ErrNotConfigurable is returned when deleting a DontDelete property.
	ErrNotConfigurable = errors.New("property is not configurable")
	// ErrAccessor is returned when a data write hits an accessor property.
	ErrAccessor = errors.New("property is an accessor")
	// ErrPrototypeCycle is returned when a prototype change would create a cycle.
	ErrPrototypeCycle = errors.New("prototype cycle")
)
