// Package proptable implements the open-addressed key to offset map behind every shape.
package proptable

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/value"
)

const (
	emptySlot   uint32 = 0
	deletedSlot uint32 = ^uint32(0)

	// DefaultMinSize is the smallest slot array a table allocates.
	DefaultMinSize = 16
)

// ErrDuplicateKey is wrapped by the panic raised when inserting a present key.
var ErrDuplicateKey = errors.New("duplicate key")

// Hasher supplies the precomputed hash of an interned key.
type Hasher interface {
	Hash(k ident.Key) uint32
}

// Entry is one property record.
type Entry struct {
	Key      ident.Key
	Offset   uint32
	Attrs    Attributes
	Specific value.Value
	hash     uint32
}

// Stats counts table activity for diagnostics.
type Stats struct {
	Lookups    uint64
	Collisions uint64
	Rehashes   uint64
}

// Table maps keys to storage offsets using open addressing with double hashing.
// Slots hold entry positions plus one; zero is empty and deletedSlot is a tombstone.
// Entries are kept in insertion order, removed ones are blanked until the next rehash.
type Table struct {
	hasher  Hasher
	minSize int

	slots    []uint32
	entries  []Entry
	keyCount int
	deleted  int

	freed      []uint32
	anonymous  []uint32
	nextOffset uint32

	stats Stats
}

// New returns an empty table. minSize is rounded up to a power of two.
func New(h Hasher, minSize int) *Table {
	size := DefaultMinSize
	if minSize > 0 {
		size = 8
		for size < minSize {
			size <<= 1
		}
	}
	return &Table{
		hasher:  h,
		minSize: size,
		slots:   make([]uint32, size),
	}
}

// doubleHash derives the probe step from the primary hash.
func doubleHash(key uint32) uint32 {
	key = ^key + (key >> 23)
	key ^= key << 12
	key ^= key >> 7
	key ^= key << 2
	key ^= key >> 20
	return key
}

// find returns the slot index holding key, or -1.
func (t *Table) find(key ident.Key, hash uint32) int {
	t.stats.Lookups++
	mask := uint32(len(t.slots) - 1)
	i := hash & mask
	var step uint32
	for {
		s := t.slots[i]
		if s == emptySlot {
			return -1
		}
		if s != deletedSlot && t.entries[s-1].Key == key {
			return int(i)
		}
		t.stats.Collisions++
		if step == 0 {
			step = 1 | doubleHash(hash)
		}
		i = (i + step) & mask
	}
}

// Get returns the entry for key.
func (t *Table) Get(key ident.Key) (Entry, bool) {
	if key == ident.NoKey || t.keyCount == 0 {
		return Entry{}, false
	}
	i := t.find(key, t.hasher.Hash(key))
	if i < 0 {
		return Entry{}, false
	}
	return t.entries[t.slots[i]-1], true
}

// Contains reports whether key is present.
func (t *Table) Contains(key ident.Key) bool {
	_, ok := t.Get(key)
	return ok
}

// Put inserts key at a recycled offset if one is free, else at the end of storage.
// Inserting a present key panics.
func (t *Table) Put(key ident.Key, attrs Attributes, specific value.Value) uint32 {
	var offset uint32
	if n := len(t.freed); n > 0 {
		offset = t.freed[n-1]
		t.freed = t.freed[:n-1]
	} else {
		offset = t.nextOffset
		t.nextOffset++
	}
	t.insert(Entry{Key: key, Offset: offset, Attrs: attrs, Specific: specific})
	return offset
}

// PutAt inserts key at a known offset. Replaying a transition chain uses this.
func (t *Table) PutAt(key ident.Key, attrs Attributes, specific value.Value, offset uint32) {
	for i, off := range t.freed {
		if off == offset {
			t.freed = append(t.freed[:i], t.freed[i+1:]...)
			break
		}
	}
	if offset >= t.nextOffset {
		t.nextOffset = offset + 1
	}
	t.insert(Entry{Key: key, Offset: offset, Attrs: attrs, Specific: specific})
}

func (t *Table) insert(e Entry) {
	if e.Key == ident.NoKey {
		panic(fmt.Errorf("proptable: insert of NoKey"))
	}
	e.hash = t.hasher.Hash(e.Key)
	if t.find(e.Key, e.hash) >= 0 {
		panic(fmt.Errorf("proptable: key %d: %w", e.Key, ErrDuplicateKey))
	}
	if (t.keyCount+t.deleted+1)*2 > len(t.slots) {
		size := len(t.slots)
		if t.deleted <= t.keyCount {
			size <<= 1
		}
		t.rehash(size)
	}
	pos, err := safecast.Conv[uint32](len(t.entries) + 1)
	if err != nil {
		panic(fmt.Errorf("len(entries) overflow: %w", err))
	}
	t.entries = append(t.entries, e)
	mask := uint32(len(t.slots) - 1)
	i := e.hash & mask
	var step uint32
	for t.slots[i] != emptySlot && t.slots[i] != deletedSlot {
		if step == 0 {
			step = 1 | doubleHash(e.hash)
		}
		i = (i + step) & mask
	}
	if t.slots[i] == deletedSlot {
		t.deleted--
	}
	t.slots[i] = pos
	t.keyCount++
}

// rehash rebuilds the slot array at size, dropping tombstones and blanked entries.
func (t *Table) rehash(size int) {
	t.stats.Rehashes++
	live := make([]Entry, 0, t.keyCount+1)
	for _, e := range t.entries {
		if e.Key != ident.NoKey {
			live = append(live, e)
		}
	}
	t.entries = live
	t.slots = make([]uint32, size)
	t.deleted = 0
	mask := uint32(size - 1)
	for n, e := range live {
		i := e.hash & mask
		var step uint32
		for t.slots[i] != emptySlot {
			if step == 0 {
				step = 1 | doubleHash(e.hash)
			}
			i = (i + step) & mask
		}
		t.slots[i] = uint32(n + 1) //nolint:gosec // bounded by the insert overflow check
	}
}

// Remove tombstones key and pushes its offset on the freed stack.
func (t *Table) Remove(key ident.Key) (uint32, bool) {
	if key == ident.NoKey || t.keyCount == 0 {
		return 0, false
	}
	i := t.find(key, t.hasher.Hash(key))
	if i < 0 {
		return 0, false
	}
	pos := t.slots[i] - 1
	offset := t.entries[pos].Offset
	t.entries[pos] = Entry{}
	t.slots[i] = deletedSlot
	t.keyCount--
	t.deleted++
	t.freed = append(t.freed, offset)
	return offset, true
}

func (t *Table) entryFor(key ident.Key) *Entry {
	if key == ident.NoKey || t.keyCount == 0 {
		return nil
	}
	i := t.find(key, t.hasher.Hash(key))
	if i < 0 {
		return nil
	}
	return &t.entries[t.slots[i]-1]
}

// SetAttributes replaces the attributes of key in place.
func (t *Table) SetAttributes(key ident.Key, attrs Attributes) bool {
	e := t.entryFor(key)
	if e == nil {
		return false
	}
	e.Attrs = attrs
	return true
}

// SetSpecific replaces the specific value of key in place.
func (t *Table) SetSpecific(key ident.Key, v value.Value) bool {
	e := t.entryFor(key)
	if e == nil {
		return false
	}
	e.Specific = v
	return true
}

// ClearAllSpecific drops every specific value.
func (t *Table) ClearAllSpecific() {
	for i := range t.entries {
		t.entries[i].Specific = value.Empty
	}
}

// AddAnonymousSlots reserves n storage slots not tied to any key and returns the first.
func (t *Table) AddAnonymousSlots(n uint32) uint32 {
	first := t.nextOffset
	for i := uint32(0); i < n; i++ {
		t.anonymous = append(t.anonymous, first+i)
	}
	t.nextOffset += n
	return first
}

// Len returns the number of live keys.
func (t *Table) Len() int { return t.keyCount }

// Size returns the number of storage slots the table addresses, freed ones included.
func (t *Table) Size() uint32 { return t.nextOffset }

// AnonymousSlots returns the number of reserved anonymous slots.
func (t *Table) AnonymousSlots() int { return len(t.anonymous) }

// HasHoles reports whether removed keys left offsets awaiting reuse.
func (t *Table) HasHoles() bool { return len(t.freed) > 0 }

// FreedOffsets returns the recycled offsets, most recent last.
func (t *Table) FreedOffsets() []uint32 { return append([]uint32(nil), t.freed...) }

// SlotCount returns the length of the slot array.
func (t *Table) SlotCount() int { return len(t.slots) }

// Stats returns the activity counters.
func (t *Table) Stats() Stats { return t.stats }

// Each calls fn for every live entry in insertion order until fn returns false.
func (t *Table) Each(fn func(Entry) bool) {
	for _, e := range t.entries {
		if e.Key == ident.NoKey {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// Keys returns keys in insertion order, filtered by keep when non-nil.
func (t *Table) Keys(keep func(Entry) bool) []ident.Key {
	out := make([]ident.Key, 0, t.keyCount)
	t.Each(func(e Entry) bool {
		if keep == nil || keep(e) {
			out = append(out, e.Key)
		}
		return true
	})
	return out
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	c := *t
	c.slots = append([]uint32(nil), t.slots...)
	c.entries = append([]Entry(nil), t.entries...)
	c.freed = append([]uint32(nil), t.freed...)
	c.anonymous = append([]uint32(nil), t.anonymous...)
	c.stats = Stats{}
	return &c
}

// Compact renumbers offsets densely: anonymous slots first, then keys in
// insertion order. It returns the old to new offset mapping indexed by old
// offset (-1 for freed slots), or nil when nothing moved.
func (t *Table) Compact() []int32 {
	remap := make([]int32, t.nextOffset)
	for i := range remap {
		remap[i] = -1
	}
	next := uint32(0)
	moved := false
	assign := func(old uint32) uint32 {
		if old != next {
			moved = true
		}
		remap[old] = int32(next) //nolint:gosec // offsets fit in int32 for any real object
		next++
		return next - 1
	}
	for i, off := range t.anonymous {
		t.anonymous[i] = assign(off)
	}
	for i := range t.entries {
		if t.entries[i].Key == ident.NoKey {
			continue
		}
		t.entries[i].Offset = assign(t.entries[i].Offset)
	}
	if next != t.nextOffset {
		moved = true
	}
	t.nextOffset = next
	t.freed = t.freed[:0]
	if !moved {
		return nil
	}
	return remap
}

// Equal reports whether both tables hold the same entries, in the same
// order, at the same offsets.
func (t *Table) Equal(o *Table) bool {
	if t.keyCount != o.keyCount || t.nextOffset != o.nextOffset || len(t.anonymous) != len(o.anonymous) {
		return false
	}
	a := t.Keys(nil)
	b := o.Keys(nil)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
		ea, _ := t.Get(a[i])
		eb, _ := o.Get(b[i])
		if ea.Offset != eb.Offset || ea.Attrs != eb.Attrs || !ea.Specific.Same(eb.Specific) {
			return false
		}
	}
	return true
}
