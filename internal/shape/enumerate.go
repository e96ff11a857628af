package shape

import (
	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
)

// EnumerationMode selects which keys PropertyNames returns.
type EnumerationMode uint8

const (
	// ExcludeDontEnum skips DontEnum properties.
	ExcludeDontEnum EnumerationMode = iota
	// IncludeDontEnum returns every keyed property.
	IncludeDontEnum
)

// PropertyNames returns the keys of h in insertion order.
func (m *Manager) PropertyNames(h Handle, mode EnumerationMode) []ident.Key {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil {
		return nil
	}
	if mode == IncludeDontEnum {
		return s.table.Keys(nil)
	}
	return s.table.Keys(func(e proptable.Entry) bool { return !e.Attrs.Has(proptable.DontEnum) })
}

// EnumerationCache returns the enumerable keys of h, computing them once
// per shape. In-place dictionary edits drop the cached list.
func (m *Manager) EnumerationCache(h Handle) []ident.Key {
	s := m.arena.get(h)
	if !s.enumValid {
		s.enumNames = m.PropertyNames(h, ExcludeDontEnum)
		s.enumValid = true
	}
	return append([]ident.Key(nil), s.enumNames...)
}

// Each calls fn for every property of h in insertion order.
func (m *Manager) Each(h Handle, fn func(proptable.Entry) bool) {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table != nil {
		s.table.Each(fn)
	}
}
