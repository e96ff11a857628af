package shape

import (
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/value"
)

// Marker receives the references a shape holds during a collector trace.
type Marker interface {
	MarkValue(v value.Value)
	MarkShape(h Handle)
	// MarkWeakShape reports a reference that must not keep h alive.
	MarkWeakShape(h Handle)
}

// VisitChildren reports what h references. The prototype, the parent and
// every specific value are strong. Cached prototype chain members are
// reported as weak. Transition children are never visited.
func (m *Manager) VisitChildren(h Handle, mk Marker) {
	s := m.arena.get(h)
	if s.prototype.IsObject() {
		mk.MarkValue(s.prototype)
	}
	if s.previous != NoShape {
		mk.MarkShape(s.previous)
	}
	if s.chain != nil {
		for _, member := range s.chain.members {
			if _, ok := m.arena.lookup(member); ok {
				mk.MarkWeakShape(member)
			}
		}
	}
	if !s.edge.Specific.IsEmpty() {
		mk.MarkValue(s.edge.Specific)
	}
	if s.table != nil {
		s.table.Each(func(e proptable.Entry) bool {
			if !e.Specific.IsEmpty() {
				mk.MarkValue(e.Specific)
			}
			return true
		})
	}
}
