// Package value defines the tagged runtime value stored in property slots and registers.
package value

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the runtime type of a Value.
type Kind uint8

const (
	// KindEmpty marks the absence of a value (no specific value, hole).
	KindEmpty Kind = iota
	KindUndefined
	KindNull
	KindBool
	KindNumber
	KindString
	// KindObject refers to a heap object by handle.
	KindObject
	// KindFunction is an object that can be called.
	KindFunction
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a small tagged union. Ref holds an object handle for object kinds.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Ref  uint64
}

var (
	// Empty is the zero Value.
	Empty = Value{}
	// Undefined is the undefined value.
	Undefined = Value{Kind: KindUndefined}
	// Null is the null value.
	Null = Value{Kind: KindNull}
)

// MakeBool wraps a boolean.
func MakeBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// MakeNumber wraps a number.
func MakeNumber(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// MakeString wraps a string.
func MakeString(s string) Value { return Value{Kind: KindString, Str: s} }

// MakeObject wraps an object handle.
func MakeObject(ref uint64) Value { return Value{Kind: KindObject, Ref: ref} }

// MakeFunction wraps a callable object handle.
func MakeFunction(ref uint64) Value { return Value{Kind: KindFunction, Ref: ref} }

// IsEmpty reports whether v carries no value.
func (v Value) IsEmpty() bool { return v.Kind == KindEmpty }

// IsObject reports whether v refers to a heap object.
func (v Value) IsObject() bool { return v.Kind == KindObject || v.Kind == KindFunction }

// Same reports identity equality. Numbers compare by bit pattern so NaN is
// the same as itself and +0 differs from -0.
func (v Value) Same(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return math.Float64bits(v.Num) == math.Float64bits(o.Num)
	case KindString:
		return v.Str == o.Str
	case KindObject, KindFunction:
		return v.Ref == o.Ref
	default:
		return true
	}
}

// String renders v for diagnostics and scenario output.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return "<empty>"
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindObject:
		return fmt.Sprintf("object#%d", v.Ref)
	case KindFunction:
		return fmt.Sprintf("function#%d", v.Ref)
	default:
		return v.Kind.String()
	}
}

// Parse reads the literal forms produced by String, plus bare words as strings.
func Parse(s string) Value {
	switch s {
	case "undefined":
		return Undefined
	case "null":
		return Null
	case "true":
		return MakeBool(true)
	case "false":
		return MakeBool(false)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return MakeNumber(n)
	}
	if u, err := strconv.Unquote(s); err == nil {
		return MakeString(u)
	}
	return MakeString(s)
}
