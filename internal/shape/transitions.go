package shape

import "hiddenclass/internal/value"

// edgePair holds the children reached through one (key, attrs) edge: one
// recorded without a specific value and one recorded with one.
type edgePair struct {
	plain       Handle
	specialized Handle
}

// transitionTable starts with a single inline child and becomes a map when
// a second child is added. It never shrinks back.
type transitionTable struct {
	single Handle
	m      map[edgeKey]*edgePair
}

func (t *transitionTable) isMap() bool { return t.m != nil }

func (t *transitionTable) len() int {
	if t.m == nil {
		if t.single != NoShape {
			return 1
		}
		return 0
	}
	n := 0
	for _, p := range t.m {
		if p.plain != NoShape {
			n++
		}
		if p.specialized != NoShape {
			n++
		}
	}
	return n
}

// lookup returns the child for e. A specialized child only matches an equal
// specific value; a plain child matches any request.
func (t *transitionTable) lookup(a *arena, e Edge) (Handle, bool) {
	if t.m == nil {
		if t.single == NoShape {
			return NoShape, false
		}
		child, ok := a.lookup(t.single)
		if !ok {
			t.single = NoShape
			return NoShape, false
		}
		if child.edge.cacheKey() != e.cacheKey() {
			return NoShape, false
		}
		if child.edge.Specific.IsEmpty() || (!e.Specific.IsEmpty() && child.edge.Specific.Same(e.Specific)) {
			return t.single, true
		}
		return NoShape, false
	}
	p, ok := t.m[e.cacheKey()]
	if !ok {
		return NoShape, false
	}
	if p.specialized != NoShape {
		if child, live := a.lookup(p.specialized); !live {
			p.specialized = NoShape
		} else if !e.Specific.IsEmpty() && child.edge.Specific.Same(e.Specific) {
			return p.specialized, true
		}
	}
	if p.plain != NoShape {
		if _, live := a.lookup(p.plain); live {
			return p.plain, true
		}
		p.plain = NoShape
	}
	return NoShape, false
}

// hasSpecialized reports whether a child with a different specific value
// already occupies the specialized slot for e.
func (t *transitionTable) hasSpecialized(a *arena, e Edge) bool {
	if t.m == nil {
		if child, ok := a.lookup(t.single); ok {
			return child.edge.cacheKey() == e.cacheKey() && !child.edge.Specific.IsEmpty()
		}
		return false
	}
	if p, ok := t.m[e.cacheKey()]; ok && p.specialized != NoShape {
		_, live := a.lookup(p.specialized)
		return live
	}
	return false
}

// add records child under its own edge.
func (t *transitionTable) add(a *arena, child *Shape) {
	if t.m == nil {
		if _, ok := a.lookup(t.single); !ok {
			t.single = child.self
			return
		}
		prev := a.get(t.single)
		t.m = make(map[edgeKey]*edgePair, 4)
		t.put(prev.self, prev.edge.cacheKey(), prev.edge.Specific)
		t.single = NoShape
	}
	t.put(child.self, child.edge.cacheKey(), child.edge.Specific)
}

func (t *transitionTable) put(h Handle, k edgeKey, specific value.Value) {
	p, ok := t.m[k]
	if !ok {
		p = &edgePair{}
		t.m[k] = p
	}
	if specific.IsEmpty() {
		p.plain = h
	} else {
		p.specialized = h
	}
}

// remove drops child if it is still registered.
func (t *transitionTable) remove(child *Shape) {
	if t.m == nil {
		if t.single == child.self {
			t.single = NoShape
		}
		return
	}
	k := child.edge.cacheKey()
	p, ok := t.m[k]
	if !ok {
		return
	}
	if p.plain == child.self {
		p.plain = NoShape
	}
	if p.specialized == child.self {
		p.specialized = NoShape
	}
	if p.plain == NoShape && p.specialized == NoShape {
		delete(t.m, k)
	}
}

// children returns every live child handle.
func (t *transitionTable) children(a *arena) []Handle {
	var out []Handle
	if t.m == nil {
		if _, ok := a.lookup(t.single); ok {
			out = append(out, t.single)
		}
		return out
	}
	for _, p := range t.m {
		for _, h := range [2]Handle{p.plain, p.specialized} {
			if _, ok := a.lookup(h); ok {
				out = append(out, h)
			}
		}
	}
	return out
}
