package proptable

import (
	"fmt"
	"strings"
)

// Attributes is the set of flags attached to a property.
type Attributes uint8

const (
	// ReadOnly properties reject writes.
	ReadOnly Attributes = 1 << iota
	// DontEnum properties are skipped by enumeration.
	DontEnum
	// DontDelete properties reject removal.
	DontDelete
	// Getter marks an accessor with a getter function.
	Getter
	// Setter marks an accessor with a setter function.
	Setter
)

// None is the empty attribute set.
const None Attributes = 0

// Accessor covers both accessor halves.
const Accessor = Getter | Setter

var attributeNames = [...]struct {
	flag Attributes
	name string
}{
	{ReadOnly, "ReadOnly"},
	{DontEnum, "DontEnum"},
	{DontDelete, "DontDelete"},
	{Getter, "Getter"},
	{Setter, "Setter"},
}

// Has reports whether every flag in f is set.
func (a Attributes) Has(f Attributes) bool { return a&f == f }

// IsAccessor reports whether either accessor half is present.
func (a Attributes) IsAccessor() bool { return a&Accessor != 0 }

// String renders the set as "ReadOnly|DontEnum", or "None".
func (a Attributes) String() string {
	if a == None {
		return "None"
	}
	parts := make([]string, 0, len(attributeNames))
	rest := a
	for _, n := range attributeNames {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseAttributes reads the String form. Names are case-insensitive.
func ParseAttributes(s string) (Attributes, error) {
	if s == "" || strings.EqualFold(s, "none") || s == "0" {
		return None, nil
	}
	var a Attributes
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, n := range attributeNames {
			if strings.EqualFold(part, n.name) {
				a |= n.flag
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown attribute %q", part)
		}
	}
	return a, nil
}
