// Package shape implements hidden classes: shared, reference-counted layout
// descriptors linked by a transition graph.
//
// A shape is created by a transition from its parent and never changes
// afterwards, except that its property table may be built lazily or moved to
// a child, its transition table may grow, and a dictionary shape owned by a
// single object may be edited in place. Shapes live in an arena and are
// addressed by generation-checked handles. The parent link is the only
// owning edge; transition edges and cached prototype chains are weak.
package shape

import (
	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/value"
)

// TypeKind is the object class a shape describes.
type TypeKind uint8

const (
	TypeObject TypeKind = iota
	TypeFunction
	TypeArray
	TypeArguments
)

// String returns the kind name.
func (k TypeKind) String() string {
	switch k {
	case TypeObject:
		return "object"
	case TypeFunction:
		return "function"
	case TypeArray:
		return "array"
	case TypeArguments:
		return "arguments"
	default:
		return "unknown"
	}
}

// TypeFlags adjust how the object layer treats instances of a shape.
type TypeFlags uint8

const (
	// OverridesGetOwnProperty routes own lookups through the object before storage.
	OverridesGetOwnProperty TypeFlags = 1 << iota
	// OverridesVisitChildren means instances hold references outside their storage.
	OverridesVisitChildren
)

// TypeInfo is fixed for a lineage.
type TypeInfo struct {
	Kind  TypeKind
	Flags TypeFlags
}

// DictionaryKind is the dictionary state of a shape.
type DictionaryKind uint8

const (
	NotDictionary DictionaryKind = iota
	// CacheableDictionary shapes may be edited in place by additions only,
	// so offsets seen by an inline cache stay valid.
	CacheableDictionary
	// UncacheableDictionary shapes may lose properties in place and must not be cached.
	UncacheableDictionary
)

// String returns the kind name.
func (k DictionaryKind) String() string {
	switch k {
	case NotDictionary:
		return "none"
	case CacheableDictionary:
		return "cacheable"
	case UncacheableDictionary:
		return "uncacheable"
	default:
		return "unknown"
	}
}

// TransitionState is the position of a shape on the one-way lattice.
type TransitionState uint8

const (
	StateSingleSlot TransitionState = iota
	StateMap
	StateCacheableDictionary
	StateUncacheableDictionary
)

// String returns the state name.
func (s TransitionState) String() string {
	switch s {
	case StateSingleSlot:
		return "cacheable(single-slot)"
	case StateMap:
		return "cacheable(map)"
	case StateCacheableDictionary:
		return "dictionary(cacheable)"
	case StateUncacheableDictionary:
		return "dictionary(uncacheable)"
	default:
		return "unknown"
	}
}

// Edge describes the operation that produced a shape from its parent.
// Anonymous edges reserve Anonymous storage slots and have Key == NoKey.
type Edge struct {
	Key       ident.Key
	Attrs     proptable.Attributes
	Specific  value.Value
	Anonymous uint32
}

type edgeKey struct {
	key   ident.Key
	attrs proptable.Attributes
	anon  uint32
}

func (e Edge) cacheKey() edgeKey {
	return edgeKey{key: e.Key, attrs: e.Attrs, anon: e.Anonymous}
}

// Shape is one node of the transition graph. Fields are only touched by Manager.
type Shape struct {
	self      Handle
	typeInfo  TypeInfo
	prototype value.Value

	// previous is retained; NoShape for roots, forks and dictionaries.
	previous Handle
	edge     Edge
	offset   uint32
	size     uint32
	capacity uint32
	depth    int

	transitions transitionTable

	// table memoizes the layout until it is moved to a child. A pinned
	// table is the only record of the layout and is never moved.
	table  *proptable.Table
	pinned bool

	dictionary DictionaryKind

	chain      *chainCache
	dependents []Handle

	refs            int32
	specificThrash  int
	hasGetterSetter bool

	enumNames []ident.Key
	enumValid bool
}

// isRoot reports whether s starts a lineage with an empty layout.
func (s *Shape) isRoot() bool {
	return s.previous == NoShape && !s.pinned
}
