package shape

import (
	"fmt"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/trace"
)

// MaterializePropertyMap builds the property table of h if it has none.
// Roots have an empty layout and stay table-less.
func (m *Manager) MaterializePropertyMap(h Handle) {
	m.materialize(m.arena.get(h))
}

// materialize walks up to the nearest shape holding a table, clones it and
// replays the edges below it. Only s keeps the result.
func (m *Manager) materialize(s *Shape) {
	if s.table != nil || s.isRoot() {
		return
	}
	var path []*Shape
	cur := s
	for cur.table == nil && cur.previous != NoShape {
		path = append(path, cur)
		cur = m.arena.get(cur.previous)
	}
	var tbl *proptable.Table
	if cur.table != nil {
		tbl = cur.table.Clone()
	} else {
		tbl = m.newTable()
	}
	for i := len(path) - 1; i >= 0; i-- {
		m.replay(tbl, path[i])
	}
	s.table = tbl
	m.counters.Materializations++
	m.counters.ReplayedEdges += uint64(len(path))
	m.emit(trace.ScopeTable, "materialize", s.self.String(), "replayed", fmt.Sprint(len(path)))

	if m.debug.VerifyMaterialize {
		if fresh := m.ReplayPropertyMap(s.self); !fresh.Equal(tbl) {
			fail(PanicReplayMismatch, "materialized table of %s differs from a full replay", s.self)
		}
	}
}

func (m *Manager) replay(tbl *proptable.Table, c *Shape) {
	if c.edge.Key == ident.NoKey {
		if first := tbl.AddAnonymousSlots(c.edge.Anonymous); first != c.offset {
			fail(PanicReplayMismatch, "anonymous edge of %s expects offset %d, table is at %d", c.self, c.offset, first)
		}
		return
	}
	if tbl.Size() != c.offset || tbl.Contains(c.edge.Key) {
		fail(PanicReplayMismatch, "edge %q of %s expects offset %d, table is at %d",
			m.keyName(c.edge.Key), c.self, c.offset, tbl.Size())
	}
	tbl.PutAt(c.edge.Key, c.edge.Attrs, c.edge.Specific, c.offset)
}

// ReplayPropertyMap rebuilds the layout of h from its lineage, ignoring
// every memoized table. Nothing is cached. Pinned tables are the only
// authority for their own layout and end the walk.
func (m *Manager) ReplayPropertyMap(h Handle) *proptable.Table {
	s := m.arena.get(h)
	var path []*Shape
	cur := s
	for !cur.pinned && cur.previous != NoShape {
		path = append(path, cur)
		cur = m.arena.get(cur.previous)
	}
	var tbl *proptable.Table
	if cur.pinned {
		tbl = cur.table.Clone()
	} else {
		tbl = m.newTable()
	}
	for i := len(path) - 1; i >= 0; i-- {
		m.replay(tbl, path[i])
	}
	return tbl
}

// Get returns the property entry for key in the layout of h.
func (m *Manager) Get(h Handle, key ident.Key) (proptable.Entry, bool) {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil {
		return proptable.Entry{}, false
	}
	return s.table.Get(key)
}

// Offset returns the storage offset of key, or -1.
func (m *Manager) Offset(h Handle, key ident.Key) int {
	e, ok := m.Get(h, key)
	if !ok {
		return -1
	}
	return int(e.Offset)
}

// PropertyCount returns the number of keyed properties of h.
func (m *Manager) PropertyCount(h Handle) int {
	s := m.arena.get(h)
	m.materialize(s)
	if s.table == nil {
		return 0
	}
	return s.table.Len()
}

// HasHoles reports whether the layout of h has freed offsets that a
// flatten would reclaim. Only dictionaries can have them.
func (m *Manager) HasHoles(h Handle) bool {
	s := m.arena.get(h)
	return s.dictionary != NotDictionary && s.table.HasHoles()
}

// TableStats returns the activity counters of the table currently held by h.
func (m *Manager) TableStats(h Handle) (proptable.Stats, bool) {
	s := m.arena.get(h)
	if s.table == nil {
		return proptable.Stats{}, false
	}
	return s.table.Stats(), true
}
