// Package ident interns property names into compact keys compared by identity.
package ident

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"
)

// Key identifies an interned property name. Two keys are equal iff they
// were produced by the same Table for the same normalized name.
type Key uint32

// NoKey is the invalid sentinel; anonymous slots use it.
const NoKey Key = 0

type entry struct {
	name  string
	hash  uint32
	index uint32
	isIdx bool
}

// Table stores interned names. It is not safe for concurrent use.
type Table struct {
	entries []entry
	index   map[string]Key
}

// NewTable constructs a table with slot 0 reserved for NoKey.
func NewTable() *Table {
	t := &Table{
		index: make(map[string]Key, 64),
	}
	t.entries = append(t.entries, entry{})
	return t
}

// Intern returns the key for name, allocating one on first use.
// Names are normalized to NFC so canonically equivalent spellings share a key.
func (t *Table) Intern(name string) Key {
	name = norm.NFC.String(name)
	if k, ok := t.index[name]; ok {
		return k
	}
	return t.internRaw(name)
}

// InternIndex returns the key for an array index in its canonical decimal form.
func (t *Table) InternIndex(i uint32) Key {
	return t.Intern(strconv.FormatUint(uint64(i), 10))
}

func (t *Table) internRaw(name string) Key {
	n, err := safecast.Conv[uint32](len(t.entries))
	if err != nil {
		panic(fmt.Errorf("len(entries) overflow: %w", err))
	}
	e := entry{name: name, hash: hashName(name)}
	if idx, ok := parseIndex(name); ok {
		e.index = idx
		e.isIdx = true
	}
	k := Key(n)
	t.entries = append(t.entries, e)
	t.index[name] = k
	return k
}

// Lookup returns the key for name without interning it.
func (t *Table) Lookup(name string) (Key, bool) {
	k, ok := t.index[norm.NFC.String(name)]
	return k, ok
}

// Name returns the interned spelling of k.
func (t *Table) Name(k Key) string {
	if k == NoKey || int(k) >= len(t.entries) {
		return ""
	}
	return t.entries[k].name
}

// Hash returns the precomputed hash of k.
func (t *Table) Hash(k Key) uint32 {
	if int(k) >= len(t.entries) {
		return 0
	}
	return t.entries[k].hash
}

// Index reports whether k names a canonical array index and returns it.
func (t *Table) Index(k Key) (uint32, bool) {
	if k == NoKey || int(k) >= len(t.entries) {
		return 0, false
	}
	e := t.entries[k]
	return e.index, e.isIdx
}

// Len returns the number of interned keys, excluding NoKey.
func (t *Table) Len() int {
	return len(t.entries) - 1
}

func hashName(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name)) //nolint:errcheck
	sum := h.Sum32()
	if sum == 0 {
		sum = 1
	}
	return sum
}

// parseIndex accepts canonical decimal indices below 2^32-1.
func parseIndex(name string) (uint32, bool) {
	if name == "" || len(name) > 10 {
		return 0, false
	}
	if len(name) > 1 && name[0] == '0' {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 10, 32)
	if err != nil || v == 0xFFFFFFFF {
		return 0, false
	}
	return uint32(v), true
}
