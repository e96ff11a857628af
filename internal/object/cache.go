package object

import (
	"fmt"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

// CacheState is the state of one inline cache.
type CacheState uint8

const (
	CacheUninitialized CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

// String returns the state name.
func (s CacheState) String() string {
	switch s {
	case CacheUninitialized:
		return "uninitialized"
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	default:
		return "unknown"
	}
}

type cacheEntry struct {
	shape  shape.Handle
	offset uint32
}

// PropertyCache is the inline cache of one own-property access site. It
// keys on shape identity; shape handles are never reissued so a stale
// entry simply stops matching.
type PropertyCache struct {
	state   CacheState
	entries []cacheEntry
	limit   int
	Hits    uint32
	Misses  uint32
}

// NewPropertyCache returns a cache holding up to limit shapes before it
// goes megamorphic.
func NewPropertyCache(limit int) *PropertyCache {
	if limit <= 0 {
		limit = 4
	}
	return &PropertyCache{limit: limit, entries: make([]cacheEntry, 0, limit)}
}

// State returns the cache state.
func (c *PropertyCache) State() CacheState { return c.state }

// String renders "polymorphic(3) hits=10 misses=3".
func (c *PropertyCache) String() string {
	if c.state == CachePolymorphic {
		return fmt.Sprintf("%s(%d) hits=%d misses=%d", c.state, len(c.entries), c.Hits, c.Misses)
	}
	return fmt.Sprintf("%s hits=%d misses=%d", c.state, c.Hits, c.Misses)
}

func (c *PropertyCache) lookup(sh shape.Handle) (uint32, bool) {
	for i, e := range c.entries {
		if e.shape != sh {
			continue
		}
		c.Hits++
		if i > 0 {
			copy(c.entries[1:i+1], c.entries[:i])
			c.entries[0] = e
		}
		return e.offset, true
	}
	c.Misses++
	return 0, false
}

func (c *PropertyCache) update(sh shape.Handle, offset uint32) {
	if c.state == CacheMegamorphic {
		return
	}
	for i := range c.entries {
		if c.entries[i].shape == sh {
			c.entries[i].offset = offset
			return
		}
	}
	if len(c.entries) == c.limit {
		c.state = CacheMegamorphic
		c.entries = c.entries[:0]
		return
	}
	c.entries = append(c.entries, cacheEntry{shape: sh, offset: offset})
	if len(c.entries) == 1 {
		c.state = CacheMonomorphic
	} else {
		c.state = CachePolymorphic
	}
}

// Reset clears the cache, keeping its counters.
func (c *PropertyCache) Reset() {
	c.state = CacheUninitialized
	c.entries = c.entries[:0]
}

// CachedGet reads an own data property through c, filling it on a miss.
// Prototype hits, accessors and uncacheable dictionaries are not cached.
func (h *Heap) CachedGet(c *PropertyCache, o Handle, key ident.Key) (value.Value, bool) {
	obj := h.Get(o)
	if off, ok := c.lookup(obj.Shape); ok {
		return obj.Storage[off], true
	}
	slot, ok := h.GetSlot(o, key)
	if !ok || slot.Holder != o || slot.Attrs.IsAccessor() || !h.IsCacheable(o) {
		return slot.Value, ok
	}
	if h.shapes.IsDictionary(obj.Shape) {
		h.Flatten(o)
		slot, _ = h.GetOwn(o, key)
	}
	c.update(obj.Shape, slot.Offset)
	return slot.Value, true
}

// CachedPut overwrites an existing own data property through c. Additions
// and writes that need a shape change go through Put and are not cached.
func (h *Heap) CachedPut(c *PropertyCache, o Handle, key ident.Key, v value.Value) error {
	obj := h.Get(o)
	if off, ok := c.lookup(obj.Shape); ok {
		obj.Storage[off] = v
		return nil
	}
	before := obj.Shape
	if err := h.Put(o, key, v, 0); err != nil {
		return err
	}
	if obj.Shape != before || !h.IsCacheable(o) {
		return nil
	}
	if e, ok := h.shapes.Get(obj.Shape, key); ok && e.Specific.IsEmpty() {
		c.update(obj.Shape, e.Offset)
	}
	return nil
}
