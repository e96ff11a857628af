package shape

import (
	"fmt"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

// growCapacity returns the storage capacity needed for size slots:
// the inline capacity, then the out-of-line capacity, then doubling.
func (m *Manager) growCapacity(capacity, size uint32) uint32 {
	outOfLine := uint32(m.cfg.Storage.OutOfLineCapacity) //nolint:gosec // validated positive
	for size > capacity {
		if capacity < outOfLine {
			capacity = outOfLine
		} else {
			capacity *= 2
		}
	}
	return capacity
}

// AddPropertyTransition returns the shape reached from h by adding key,
// and the offset the new property occupies.
//
// A recorded edge with the same key and attributes is reused when its
// specific value matches or it recorded none. Past the depth bound, from an
// uncacheable dictionary, or when key is already present the result is a
// fresh uncacheable dictionary. A cacheable dictionary yields a fresh
// cacheable dictionary.
func (m *Manager) AddPropertyTransition(h Handle, key ident.Key, attrs proptable.Attributes, specific value.Value) (Handle, uint32) {
	s := m.arena.get(h)
	if key == ident.NoKey {
		fail(PanicMissingProperty, "add of NoKey to shape %s", h)
	}
	if s.dictionary != NotDictionary {
		d := m.dictionaryCopy(s, s.dictionary)
		return d, m.dictionaryPut(m.arena.get(d), key, attrs, specific)
	}
	if limit := m.cfg.Shapes.SpecificThrashLimit; s.specificThrash >= limit {
		specific = value.Empty
	}
	edge := Edge{Key: key, Attrs: attrs, Specific: specific}
	if child, ok := s.transitions.lookup(m.arena, edge); ok {
		m.counters.TransitionHits++
		c := m.arena.get(child)
		c.refs++
		m.emit(trace.ScopeTransition, "add", "hit", "key", m.keyName(key), "shape", child.String())
		return child, c.offset
	}
	m.counters.TransitionMisses++

	if s.depth >= m.cfg.Shapes.MaxTransitionLength {
		m.counters.DepthFallbacks++
		m.emit(trace.ScopeManager, "dictionary", "transition chain too long", "from", h.String(), "depth", fmt.Sprint(s.depth))
		d := m.dictionaryCopy(s, UncacheableDictionary)
		return d, m.dictionaryPut(m.arena.get(d), key, attrs, specific)
	}
	// a parent whose table moved to a child must rebuild it to see its keys
	m.materialize(s)
	if s.table != nil && s.table.Contains(key) {
		m.counters.EdgeConflicts++
		m.emit(trace.ScopeManager, "dictionary", "edge conflict", "from", h.String(), "key", m.keyName(key))
		d := m.dictionaryCopy(s, UncacheableDictionary)
		return d, m.dictionaryPut(m.arena.get(d), key, attrs, specific)
	}
	if !specific.IsEmpty() && s.transitions.hasSpecialized(m.arena, edge) {
		m.counters.SpecificConflicts++
		edge.Specific = value.Empty
	}

	child := m.newChild(s, edge, 1)
	switch {
	case s.table != nil && !s.pinned:
		child.table = s.table
		s.table = nil
		m.counters.TablesMoved++
		child.table.PutAt(key, attrs, edge.Specific, child.offset)
	case s.isRoot():
		child.table = m.newTable()
		child.table.PutAt(key, attrs, edge.Specific, child.offset)
	}
	ch := m.link(s, child)
	m.emit(trace.ScopeTransition, "add", "miss", "key", m.keyName(key), "shape", ch.String(), "offset", fmt.Sprint(child.offset))
	return ch, child.offset
}

// AddAnonymousSlotsTransition reserves n storage slots not tied to any key.
// Edges are cached by count like property edges.
func (m *Manager) AddAnonymousSlotsTransition(h Handle, n uint32) Handle {
	s := m.arena.get(h)
	if s.dictionary != NotDictionary || s.depth >= m.cfg.Shapes.MaxTransitionLength {
		kind := s.dictionary
		if kind == NotDictionary {
			m.counters.DepthFallbacks++
			kind = UncacheableDictionary
		}
		d := m.dictionaryCopy(s, kind)
		ds := m.arena.get(d)
		ds.table.AddAnonymousSlots(n)
		ds.size = ds.table.Size()
		ds.capacity = m.growCapacity(ds.capacity, ds.size)
		return d
	}
	edge := Edge{Anonymous: n}
	if child, ok := s.transitions.lookup(m.arena, edge); ok {
		m.counters.TransitionHits++
		m.arena.get(child).refs++
		return child
	}
	m.counters.TransitionMisses++
	child := m.newChild(s, edge, n)
	switch {
	case s.table != nil && !s.pinned:
		child.table = s.table
		s.table = nil
		m.counters.TablesMoved++
		child.table.AddAnonymousSlots(n)
	case s.isRoot():
		child.table = m.newTable()
		child.table.AddAnonymousSlots(n)
	}
	ch := m.link(s, child)
	m.emit(trace.ScopeTransition, "anonymous", fmt.Sprintf("+%d", n), "shape", ch.String())
	return ch
}

func (m *Manager) newChild(s *Shape, edge Edge, slots uint32) *Shape {
	size := s.size + slots
	return &Shape{
		typeInfo:        s.typeInfo,
		prototype:       s.prototype,
		previous:        s.self,
		edge:            edge,
		offset:          s.size,
		size:            size,
		capacity:        m.growCapacity(s.capacity, size),
		depth:           s.depth + 1,
		specificThrash:  s.specificThrash,
		hasGetterSetter: s.hasGetterSetter || edge.Attrs.IsAccessor(),
	}
}

// link registers child under its parent and makes it retain the parent.
func (m *Manager) link(parent, child *Shape) Handle {
	parent.refs++
	ch := m.alloc(child)
	parent.transitions.add(m.arena, child)
	return ch
}

// fork copies s into an unlinked shape with a pinned table of its own.
func (m *Manager) fork(s *Shape, kind DictionaryKind) *Shape {
	m.materialize(s)
	var tbl *proptable.Table
	if s.table != nil {
		tbl = s.table.Clone()
	} else {
		tbl = m.newTable()
	}
	return &Shape{
		typeInfo:        s.typeInfo,
		prototype:       s.prototype,
		table:           tbl,
		pinned:          true,
		dictionary:      kind,
		size:            s.size,
		capacity:        s.capacity,
		depth:           s.depth,
		specificThrash:  s.specificThrash,
		hasGetterSetter: s.hasGetterSetter,
	}
}

func (m *Manager) dictionaryCopy(s *Shape, kind DictionaryKind) Handle {
	if s.dictionary > kind {
		kind = s.dictionary
	}
	d := m.alloc(m.fork(s, kind))
	m.emit(trace.ScopeManager, "to-dictionary", kind.String(), "from", s.self.String(), "shape", d.String())
	return d
}

// dictionaryPut inserts or overwrites key in a dictionary's own table.
func (m *Manager) dictionaryPut(d *Shape, key ident.Key, attrs proptable.Attributes, specific value.Value) uint32 {
	var offset uint32
	if e, ok := d.table.Get(key); ok {
		d.table.SetAttributes(key, attrs)
		d.table.SetSpecific(key, specific)
		offset = e.Offset
	} else {
		offset = d.table.Put(key, attrs, specific)
	}
	d.size = d.table.Size()
	d.capacity = m.growCapacity(d.capacity, d.size)
	d.hasGetterSetter = d.hasGetterSetter || attrs.IsAccessor()
	d.enumValid = false
	return offset
}

// ToCacheableDictionaryTransition returns a fresh dictionary copy of h.
// An uncacheable source stays uncacheable.
func (m *Manager) ToCacheableDictionaryTransition(h Handle) Handle {
	return m.dictionaryCopy(m.arena.get(h), CacheableDictionary)
}

// ToUncacheableDictionaryTransition returns a fresh uncacheable dictionary copy of h.
func (m *Manager) ToUncacheableDictionaryTransition(h Handle) Handle {
	return m.dictionaryCopy(m.arena.get(h), UncacheableDictionary)
}

// RemovePropertyTransition returns an uncacheable dictionary holding the
// layout of h without key, and the offset key occupied. The offset stays
// reserved and is recycled by the next insertion.
func (m *Manager) RemovePropertyTransition(h Handle, key ident.Key) (Handle, uint32) {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil || !s.table.Contains(key) {
		fail(PanicMissingProperty, "remove of absent key %q from shape %s", m.keyName(key), h)
	}
	d := m.dictionaryCopy(s, UncacheableDictionary)
	ds := m.arena.get(d)
	offset, _ := ds.table.Remove(key)
	m.counters.Removals++
	m.emit(trace.ScopeTransition, "remove", m.keyName(key), "shape", d.String(), "offset", fmt.Sprint(offset))
	return d, offset
}

// ChangePrototypeTransition returns an unshared copy of h with a new
// prototype, and invalidates every cached prototype chain that lists h.
func (m *Manager) ChangePrototypeTransition(h Handle, proto value.Value) Handle {
	s := m.arena.get(h)
	f := m.fork(s, s.dictionary)
	f.prototype = proto
	fh := m.alloc(f)
	m.counters.PrototypeChanges++
	m.invalidateDependents(s)
	m.emit(trace.ScopeManager, "prototype", proto.String(), "from", h.String(), "shape", fh.String())
	return fh
}

// AttributeChangeTransition returns an unshared copy of h with the
// attributes of key replaced.
func (m *Manager) AttributeChangeTransition(h Handle, key ident.Key, attrs proptable.Attributes) Handle {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil || !s.table.Contains(key) {
		fail(PanicMissingProperty, "attribute change of absent key %q on shape %s", m.keyName(key), h)
	}
	f := m.fork(s, s.dictionary)
	f.table.SetAttributes(key, attrs)
	f.hasGetterSetter = f.hasGetterSetter || attrs.IsAccessor()
	m.counters.AttributeChanges++
	fh := m.alloc(f)
	m.emit(trace.ScopeTransition, "attributes", attrs.String(), "key", m.keyName(key), "shape", fh.String())
	return fh
}

// DespecifyFunctionTransition returns an unshared copy of h where key no
// longer carries a specific value. Each call bumps the lineage's thrash
// counter; at the configured limit every specific value is dropped and
// later additions stop recording them.
func (m *Manager) DespecifyFunctionTransition(h Handle, key ident.Key) Handle {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil || !s.table.Contains(key) {
		fail(PanicMissingProperty, "despecify of absent key %q on shape %s", m.keyName(key), h)
	}
	f := m.fork(s, s.dictionary)
	f.specificThrash = s.specificThrash + 1
	if f.specificThrash >= m.cfg.Shapes.SpecificThrashLimit {
		f.table.ClearAllSpecific()
	} else {
		f.table.SetSpecific(key, value.Empty)
	}
	m.counters.Despecifications++
	fh := m.alloc(f)
	m.emit(trace.ScopeTransition, "despecify", m.keyName(key), "shape", fh.String(), "thrash", fmt.Sprint(f.specificThrash))
	return fh
}

// SpecificThrash returns how often the lineage of h was despecialized.
func (m *Manager) SpecificThrash(h Handle) int { return m.arena.get(h).specificThrash }

// FlattenDictionaryStructure compacts the offsets of a dictionary shape in
// place. It returns the old to new offset mapping the owner must apply to
// its storage, or nil when nothing moved. The dictionary kind is kept.
func (m *Manager) FlattenDictionaryStructure(h Handle) []int32 {
	s := m.arena.get(h)
	if s.dictionary == NotDictionary {
		fail(PanicNotDictionary, "flatten of shared shape %s", h)
	}
	remap := s.table.Compact()
	s.size = s.table.Size()
	s.enumValid = false
	if remap != nil {
		m.counters.Flattens++
		m.emit(trace.ScopeTable, "flatten", h.String(), "size", fmt.Sprint(s.size))
	}
	return remap
}

// AddPropertyWithoutTransition inserts key into a dictionary shape in place.
func (m *Manager) AddPropertyWithoutTransition(h Handle, key ident.Key, attrs proptable.Attributes, specific value.Value) uint32 {
	s := m.arena.get(h)
	if s.dictionary == NotDictionary {
		fail(PanicNotDictionary, "in-place add to shared shape %s", h)
	}
	m.counters.InPlaceDictionaryOp++
	return m.dictionaryPut(s, key, attrs, specific)
}

// RemovePropertyWithoutTransition removes key from an uncacheable
// dictionary in place and returns the freed offset.
func (m *Manager) RemovePropertyWithoutTransition(h Handle, key ident.Key) uint32 {
	s := m.arena.get(h)
	if s.dictionary != UncacheableDictionary {
		fail(PanicNotDictionary, "in-place remove from %s shape %s", s.dictionary, h)
	}
	offset, ok := s.table.Remove(key)
	if !ok {
		fail(PanicMissingProperty, "remove of absent key %q from shape %s", m.keyName(key), h)
	}
	s.enumValid = false
	m.counters.InPlaceDictionaryOp++
	m.counters.Removals++
	return offset
}

// SetAttributesWithoutTransition rewrites the attributes of key on a
// dictionary shape in place.
func (m *Manager) SetAttributesWithoutTransition(h Handle, key ident.Key, attrs proptable.Attributes) {
	s := m.arena.get(h)
	if s.dictionary == NotDictionary {
		fail(PanicNotDictionary, "in-place attribute change on shared shape %s", h)
	}
	if !s.table.SetAttributes(key, attrs) {
		fail(PanicMissingProperty, "attribute change of absent key %q on shape %s", m.keyName(key), h)
	}
	s.hasGetterSetter = s.hasGetterSetter || attrs.IsAccessor()
	s.enumValid = false
	m.counters.InPlaceDictionaryOp++
}
