package proptable

import (
	"errors"
	"fmt"
	"testing"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/value"
)

// constHasher forces every key into the same probe sequence.
type constHasher struct{}

func (constHasher) Hash(ident.Key) uint32 { return 7 }

func newKeys(n int) (*ident.Table, []ident.Key) {
	tab := ident.NewTable()
	keys := make([]ident.Key, n)
	for i := range keys {
		keys[i] = tab.Intern(fmt.Sprintf("k%d", i))
	}
	return tab, keys
}

func TestPutGetRemove(t *testing.T) {
	names, keys := newKeys(3)
	tbl := New(names, 0)
	spec := value.MakeFunction(9)
	off := tbl.Put(keys[0], ReadOnly|DontEnum, spec)
	if off != 0 {
		t.Fatalf("first offset = %d, want 0", off)
	}
	e, ok := tbl.Get(keys[0])
	if !ok || e.Offset != 0 || e.Attrs != ReadOnly|DontEnum || !e.Specific.Same(spec) {
		t.Fatalf("Get = %+v,%v", e, ok)
	}
	if got := tbl.Put(keys[1], None, value.Empty); got != 1 {
		t.Fatalf("second offset = %d, want 1", got)
	}
	removed, ok := tbl.Remove(keys[0])
	if !ok || removed != 0 {
		t.Fatalf("Remove = %d,%v", removed, ok)
	}
	if _, ok := tbl.Get(keys[0]); ok {
		t.Fatalf("removed key still visible")
	}
	if got := tbl.Put(keys[2], None, value.Empty); got != 0 {
		t.Fatalf("freed offset not recycled: got %d", got)
	}
	if e, _ := tbl.Get(keys[1]); e.Offset != 1 {
		t.Fatalf("live offset changed: %d", e.Offset)
	}
	if tbl.Len() != 2 || tbl.Size() != 2 {
		t.Fatalf("Len=%d Size=%d", tbl.Len(), tbl.Size())
	}
}

func TestFreedOffsetsAreLIFO(t *testing.T) {
	names, keys := newKeys(6)
	tbl := New(names, 0)
	for _, k := range keys[:4] {
		tbl.Put(k, None, value.Empty)
	}
	tbl.Remove(keys[1])
	tbl.Remove(keys[3])
	if got := tbl.Put(keys[4], None, value.Empty); got != 3 {
		t.Fatalf("expected most recently freed offset 3, got %d", got)
	}
	if !tbl.HasHoles() {
		t.Fatalf("offset 1 is still free")
	}
	if got := tbl.Put(keys[5], None, value.Empty); got != 1 {
		t.Fatalf("expected offset 1, got %d", got)
	}
	if tbl.HasHoles() {
		t.Fatalf("every freed offset was reused")
	}
}

func TestTombstonesKeepProbeChains(t *testing.T) {
	_, keys := newKeys(5)
	tbl := New(constHasher{}, 0)
	for _, k := range keys {
		tbl.Put(k, None, value.Empty)
	}
	tbl.Remove(keys[1])
	tbl.Remove(keys[2])
	for _, k := range []ident.Key{keys[0], keys[3], keys[4]} {
		if _, ok := tbl.Get(k); !ok {
			t.Fatalf("key %d lost behind a tombstone", k)
		}
	}
	if tbl.Stats().Collisions == 0 {
		t.Fatalf("expected collisions with a constant hash")
	}
}

func TestGrowRehash(t *testing.T) {
	names, keys := newKeys(200)
	tbl := New(names, 16)
	for i, k := range keys {
		if got := tbl.Put(k, None, value.Empty); got != uint32(i) {
			t.Fatalf("offset for key %d = %d", i, got)
		}
	}
	if tbl.SlotCount() < 2*len(keys) {
		t.Fatalf("load factor exceeded: %d slots for %d keys", tbl.SlotCount(), len(keys))
	}
	if tbl.Stats().Rehashes == 0 {
		t.Fatalf("expected at least one rehash")
	}
	seen := make(map[uint32]bool)
	for i, k := range keys {
		e, ok := tbl.Get(k)
		if !ok || e.Offset != uint32(i) {
			t.Fatalf("key %d: %+v,%v", i, e, ok)
		}
		if seen[e.Offset] {
			t.Fatalf("duplicate offset %d", e.Offset)
		}
		seen[e.Offset] = true
	}
}

func TestChurnWithTombstones(t *testing.T) {
	names, keys := newKeys(64)
	tbl := New(names, 16)
	for round := 0; round < 10; round++ {
		for _, k := range keys {
			tbl.Put(k, None, value.Empty)
		}
		for _, k := range keys {
			if _, ok := tbl.Remove(k); !ok {
				t.Fatalf("round %d: remove failed", round)
			}
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d", tbl.Len())
	}
	if tbl.Size() != uint32(len(keys)) {
		t.Fatalf("storage should not grow across churn: %d", tbl.Size())
	}
}

func TestDuplicatePutPanics(t *testing.T) {
	names, keys := newKeys(1)
	tbl := New(names, 0)
	tbl.Put(keys[0], None, value.Empty)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey panic, got %v", r)
		}
	}()
	tbl.Put(keys[0], None, value.Empty)
}

func TestInsertionOrderAndClone(t *testing.T) {
	names, keys := newKeys(4)
	tbl := New(names, 0)
	for _, k := range keys {
		tbl.Put(k, None, value.Empty)
	}
	tbl.SetAttributes(keys[2], DontEnum)
	tbl.Remove(keys[1])
	got := tbl.Keys(func(e Entry) bool { return !e.Attrs.Has(DontEnum) })
	want := []ident.Key{keys[0], keys[3]}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	c := tbl.Clone()
	if !c.Equal(tbl) {
		t.Fatalf("clone differs")
	}
	c.Put(keys[1], None, value.Empty)
	if tbl.Contains(keys[1]) {
		t.Fatalf("clone shares state with original")
	}
}

func TestPutAtReplay(t *testing.T) {
	names, keys := newKeys(3)
	a := New(names, 0)
	for _, k := range keys {
		a.Put(k, None, value.Empty)
	}
	b := New(names, 0)
	for i, k := range keys {
		b.PutAt(k, None, value.Empty, uint32(i))
	}
	if !a.Equal(b) {
		t.Fatalf("replayed table differs from incremental one")
	}
}

func TestCompact(t *testing.T) {
	names, keys := newKeys(4)
	tbl := New(names, 0)
	tbl.AddAnonymousSlots(1)
	for _, k := range keys {
		tbl.Put(k, None, value.Empty)
	}
	tbl.Remove(keys[0])
	tbl.Remove(keys[2])
	remap := tbl.Compact()
	if remap == nil {
		t.Fatalf("expected a remap")
	}
	want := []int32{0, -1, 1, -1, 2}
	for i := range want {
		if remap[i] != want[i] {
			t.Fatalf("remap = %v, want %v", remap, want)
		}
	}
	if tbl.Size() != 3 || len(tbl.FreedOffsets()) != 0 {
		t.Fatalf("Size=%d freed=%v", tbl.Size(), tbl.FreedOffsets())
	}
	if e, _ := tbl.Get(keys[3]); e.Offset != 2 {
		t.Fatalf("k3 offset = %d", e.Offset)
	}
	if tbl.Compact() != nil {
		t.Fatalf("second compaction should be a no-op")
	}
}

func TestAttributesString(t *testing.T) {
	cases := map[Attributes]string{
		None:                 "None",
		ReadOnly:             "ReadOnly",
		DontEnum | DontDelete: "DontEnum|DontDelete",
		Accessor:             "Getter|Setter",
	}
	for a, want := range cases {
		if got := a.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", a, got, want)
		}
		back, err := ParseAttributes(want)
		if err != nil || back != a {
			t.Errorf("ParseAttributes(%q) = %v,%v", want, back, err)
		}
	}
	if _, err := ParseAttributes("Bogus"); err == nil {
		t.Errorf("expected error for unknown attribute")
	}
}

func BenchmarkGet(b *testing.B) {
	names, keys := newKeys(32)
	tbl := New(names, 0)
	for _, k := range keys {
		tbl.Put(k, None, value.Empty)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.Get(keys[i%len(keys)])
	}
}
