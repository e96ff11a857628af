package shape

import (
	"fmt"
	"sort"
	"strings"

	"hiddenclass/internal/config"
	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

// DebugContext carries debug toggles that would otherwise be process globals.
type DebugContext struct {
	// IgnoreLeaks makes CheckLeaks succeed even with live shapes.
	IgnoreLeaks bool
	// VerifyMaterialize replays the full chain after every materialization
	// and panics on disagreement.
	VerifyMaterialize bool
}

// Options configures a Manager.
type Options struct {
	Keys   *ident.Table
	Config config.Config
	Tracer trace.Tracer
	Debug  DebugContext
}

// Counters are cumulative statistics of one Manager.
type Counters struct {
	Created             uint64
	Freed               uint64
	TransitionHits      uint64
	TransitionMisses    uint64
	TablesMoved         uint64
	Materializations    uint64
	ReplayedEdges       uint64
	DepthFallbacks      uint64
	EdgeConflicts       uint64
	DictionaryShapes    uint64
	Removals            uint64
	PrototypeChanges    uint64
	AttributeChanges    uint64
	Despecifications    uint64
	SpecificConflicts   uint64
	Flattens            uint64
	ChainBuilds         uint64
	ChainInvalidations  uint64
	RetainCount         uint64
	ReleaseCount        uint64
	InPlaceDictionaryOp uint64
}

// Manager owns the shape arena of one engine. It is not safe for concurrent use.
//
// Every Handle returned by a Manager method is a new reference that the
// caller must Release, unless the method documents otherwise.
type Manager struct {
	keys   *ident.Table
	cfg    config.Config
	tracer trace.Tracer
	debug  DebugContext

	arena    *arena
	counters Counters
}

// NewManager creates a Manager. A nil key table gets a fresh one.
func NewManager(opts Options) *Manager {
	if opts.Keys == nil {
		opts.Keys = ident.NewTable()
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.Nop
	}
	if opts.Config == (config.Config{}) {
		opts.Config = config.Default()
	}
	return &Manager{
		keys:   opts.Keys,
		cfg:    opts.Config,
		tracer: opts.Tracer,
		debug:  opts.Debug,
		arena:  newArena(),
	}
}

// Keys returns the key table the manager hashes with.
func (m *Manager) Keys() *ident.Table { return m.keys }

// Config returns the active tunables.
func (m *Manager) Config() config.Config { return m.cfg }

func (m *Manager) newTable() *proptable.Table {
	return proptable.New(m.keys, m.cfg.Shapes.MinTableSize)
}

func (m *Manager) emit(scope trace.Scope, name, detail string, extra ...string) {
	if !m.tracer.Enabled() {
		return
	}
	trace.Point(m.tracer, scope, name, detail, extra...)
}

func (m *Manager) keyName(k ident.Key) string {
	if k == ident.NoKey {
		return "<anonymous>"
	}
	return m.keys.Name(k)
}

// alloc registers s with one reference held by the caller.
func (m *Manager) alloc(s *Shape) Handle {
	s.refs = 1
	h := m.arena.alloc(s)
	m.counters.Created++
	if s.dictionary != NotDictionary {
		m.counters.DictionaryShapes++
	}
	return h
}

// CreateShape returns a new root shape with an empty layout.
func (m *Manager) CreateShape(proto value.Value, info TypeInfo) Handle {
	s := &Shape{
		typeInfo:  info,
		prototype: proto,
		capacity:  uint32(m.cfg.Storage.InlineCapacity), //nolint:gosec // validated positive
	}
	h := m.alloc(s)
	m.emit(trace.ScopeManager, "create", h.String(), "type", info.Kind.String())
	return h
}

// Valid reports whether h refers to a live shape.
func (m *Manager) Valid(h Handle) bool {
	_, ok := m.arena.lookup(h)
	return ok
}

// Retain adds a reference to h and returns it.
func (m *Manager) Retain(h Handle) Handle {
	s := m.arena.get(h)
	s.refs++
	m.counters.RetainCount++
	return h
}

// Release drops a reference. A shape whose count reaches zero is freed,
// unregistered from its parent's transition table, and releases its parent.
func (m *Manager) Release(h Handle) {
	for h != NoShape {
		s := m.arena.get(h)
		if s.refs <= 0 {
			fail(PanicRefCountUnderflow, "release of shape %s with refcount %d", h, s.refs)
		}
		s.refs--
		m.counters.ReleaseCount++
		if s.refs > 0 {
			return
		}
		parent := s.previous
		if parent != NoShape {
			if p, ok := m.arena.lookup(parent); ok {
				p.transitions.remove(s)
			}
		}
		m.arena.release(h)
		m.counters.Freed++
		h = parent
	}
}

// RefCount returns the reference count of h.
func (m *Manager) RefCount(h Handle) int {
	return int(m.arena.get(h).refs)
}

// Prototype returns the prototype recorded on h.
func (m *Manager) Prototype(h Handle) value.Value { return m.arena.get(h).prototype }

// TypeInfo returns the type info recorded on h.
func (m *Manager) TypeInfo(h Handle) TypeInfo { return m.arena.get(h).typeInfo }

// Previous returns the parent of h without retaining it.
func (m *Manager) Previous(h Handle) Handle { return m.arena.get(h).previous }

// Depth returns the transition chain length of h.
func (m *Manager) Depth(h Handle) int { return m.arena.get(h).depth }

// IsDictionary reports whether h is in dictionary mode.
func (m *Manager) IsDictionary(h Handle) bool { return m.arena.get(h).dictionary != NotDictionary }

// DictionaryKind returns the dictionary state of h.
func (m *Manager) DictionaryKind(h Handle) DictionaryKind { return m.arena.get(h).dictionary }

// HasGetterSetter reports whether any property of h is an accessor.
func (m *Manager) HasGetterSetter(h Handle) bool { return m.arena.get(h).hasGetterSetter }

// StorageSize returns the number of storage slots an object with shape h uses.
func (m *Manager) StorageSize(h Handle) uint32 { return m.arena.get(h).size }

// StorageCapacity returns the storage length objects with shape h allocate.
func (m *Manager) StorageCapacity(h Handle) uint32 { return m.arena.get(h).capacity }

// TransitionState returns where h sits on the transition lattice.
func (m *Manager) TransitionState(h Handle) TransitionState {
	s := m.arena.get(h)
	switch s.dictionary {
	case CacheableDictionary:
		return StateCacheableDictionary
	case UncacheableDictionary:
		return StateUncacheableDictionary
	}
	if s.transitions.isMap() {
		return StateMap
	}
	return StateSingleSlot
}

// IsMaterialized reports whether h currently holds a property table.
func (m *Manager) IsMaterialized(h Handle) bool { return m.arena.get(h).table != nil }

// TransitionCount returns the number of live outgoing edges of h.
func (m *Manager) TransitionCount(h Handle) int {
	return len(m.arena.get(h).transitions.children(m.arena))
}

// Counters returns the cumulative statistics.
func (m *Manager) Counters() Counters { return m.counters }

// LiveShapes returns the number of shapes in the arena.
func (m *Manager) LiveShapes() int { return m.arena.live }

// Info is a read-only view of one shape for dumps.
type Info struct {
	Handle       Handle
	Previous     Handle
	Edge         string
	Offset       uint32
	Depth        int
	Size         uint32
	Capacity     uint32
	RefCount     int
	Dictionary   DictionaryKind
	State        TransitionState
	Materialized bool
	Pinned       bool
	Transitions  int
	Type         TypeKind
}

// Info describes h.
func (m *Manager) Info(h Handle) Info {
	s := m.arena.get(h)
	return m.info(s)
}

func (m *Manager) info(s *Shape) Info {
	in := Info{
		Handle:       s.self,
		Previous:     s.previous,
		Offset:       s.offset,
		Depth:        s.depth,
		Size:         s.size,
		Capacity:     s.capacity,
		RefCount:     int(s.refs),
		Dictionary:   s.dictionary,
		State:        m.TransitionState(s.self),
		Materialized: s.table != nil,
		Pinned:       s.pinned,
		Transitions:  s.transitions.len(),
		Type:         s.typeInfo.Kind,
	}
	if s.previous != NoShape {
		in.Edge = m.describeEdge(s.edge)
	}
	return in
}

func (m *Manager) describeEdge(e Edge) string {
	if e.Key == ident.NoKey {
		return fmt.Sprintf("+%d anonymous", e.Anonymous)
	}
	var sb strings.Builder
	sb.WriteString(m.keys.Name(e.Key))
	if e.Attrs != proptable.None {
		sb.WriteString(" [")
		sb.WriteString(e.Attrs.String())
		sb.WriteString("]")
	}
	if !e.Specific.IsEmpty() {
		sb.WriteString(" = ")
		sb.WriteString(e.Specific.String())
	}
	return sb.String()
}

// Walk calls fn for every live shape in handle order until fn returns false.
func (m *Manager) Walk(fn func(Info) bool) {
	m.arena.each(func(s *Shape) bool { return fn(m.info(s)) })
}

// Children returns the live transition children of h, sorted, without retaining them.
func (m *Manager) Children(h Handle) []Handle {
	out := m.arena.get(h).transitions.children(m.arena)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckLeaks reports shapes still referenced, unless leaks are ignored.
func (m *Manager) CheckLeaks() error {
	if m.debug.IgnoreLeaks || m.arena.live == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d shapes still alive:", m.arena.live)
	shown := 0
	m.arena.each(func(s *Shape) bool {
		if shown == 16 {
			sb.WriteString("\n  ...")
			return false
		}
		fmt.Fprintf(&sb, "\n  %s refs=%d depth=%d dictionary=%s", s.self, s.refs, s.depth, s.dictionary)
		shown++
		return true
	})
	m.emit(trace.ScopeManager, "leaks", fmt.Sprintf("%d live", m.arena.live))
	return fmt.Errorf("%s", sb.String())
}
