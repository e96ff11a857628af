package shape

import (
	"strconv"

	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

// maxChainLength stops chain construction on a prototype cycle.
const maxChainLength = 1 << 12

// PrototypeResolver maps a prototype value to the shape of that object.
// The object layer implements it.
type PrototypeResolver interface {
	ShapeOf(proto value.Value) (Handle, bool)
}

type chainCache struct {
	members []Handle
}

// PrototypeChain returns the shapes of the prototype objects above h,
// nearest first, building and caching the list on first use. The handles
// are not retained. The cache is a hint: callers must check each link with
// ValidatePrototypeChain before trusting it.
func (m *Manager) PrototypeChain(h Handle, r PrototypeResolver) []Handle {
	s := m.arena.get(h)
	if s.chain == nil {
		s.chain = m.buildChain(s, r)
	}
	return append([]Handle(nil), s.chain.members...)
}

// CachedPrototypeChain returns the cached chain of h without building one.
func (m *Manager) CachedPrototypeChain(h Handle) ([]Handle, bool) {
	s := m.arena.get(h)
	if s.chain == nil {
		return nil, false
	}
	return append([]Handle(nil), s.chain.members...), true
}

func (m *Manager) buildChain(s *Shape, r PrototypeResolver) *chainCache {
	c := &chainCache{}
	proto := s.prototype
	for proto.IsObject() && len(c.members) < maxChainLength {
		ph, ok := r.ShapeOf(proto)
		if !ok {
			break
		}
		ps, live := m.arena.lookup(ph)
		if !live {
			break
		}
		c.members = append(c.members, ph)
		m.addDependent(ps, s.self)
		proto = ps.prototype
	}
	m.counters.ChainBuilds++
	m.emit(trace.ScopeTransition, "chain", s.self.String(), "length", strconv.Itoa(len(c.members)))
	return c
}

// addDependent records d on member, pruning dead entries as it goes.
func (m *Manager) addDependent(member *Shape, d Handle) {
	kept := member.dependents[:0]
	found := false
	for _, h := range member.dependents {
		if _, ok := m.arena.lookup(h); !ok {
			continue
		}
		if h == d {
			found = true
		}
		kept = append(kept, h)
	}
	if !found {
		kept = append(kept, d)
	}
	member.dependents = kept
}

// invalidateDependents drops every cached chain that lists s.
func (m *Manager) invalidateDependents(s *Shape) {
	for _, d := range s.dependents {
		ds, ok := m.arena.lookup(d)
		if !ok || ds.chain == nil {
			continue
		}
		ds.chain = nil
		m.counters.ChainInvalidations++
	}
	s.dependents = nil
}

// InvalidatePrototypeChain drops the cached chain of h.
func (m *Manager) InvalidatePrototypeChain(h Handle) {
	s := m.arena.get(h)
	if s.chain != nil {
		s.chain = nil
		m.counters.ChainInvalidations++
	}
}

// ValidatePrototypeChain reports whether the cached chain of h still
// describes the live prototype objects link by link.
func (m *Manager) ValidatePrototypeChain(h Handle, r PrototypeResolver) bool {
	s := m.arena.get(h)
	if s.chain == nil {
		return false
	}
	proto := s.prototype
	for _, member := range s.chain.members {
		if !proto.IsObject() {
			return false
		}
		ph, ok := r.ShapeOf(proto)
		if !ok || ph != member {
			return false
		}
		ms, live := m.arena.lookup(member)
		if !live {
			return false
		}
		proto = ms.prototype
	}
	if proto.IsObject() {
		_, ok := r.ShapeOf(proto)
		return !ok
	}
	return true
}
