package shape

import "fmt"

// PanicCode identifies a violated shape invariant.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicInvalidHandle     PanicCode = 1001 // SH1001: handle never issued or zero
	PanicUseAfterFree      PanicCode = 1002 // SH1002: handle generation is stale
	PanicMissingProperty   PanicCode = 1003 // SH1003: removing or reconfiguring an absent key
	PanicNotDictionary     PanicCode = 1004 // SH1004: in-place mutation of a shared shape
	PanicRefCountUnderflow PanicCode = 1005 // SH1005: release without matching retain
	PanicReplayMismatch    PanicCode = 1006 // SH1006: materialized offsets disagree with the chain
)

// String returns the code as "SH1001".
func (c PanicCode) String() string {
	return fmt.Sprintf("SH%d", c)
}

// Error is the panic payload for programmer errors in this package.
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
