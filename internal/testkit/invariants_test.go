package testkit

import (
	"fmt"
	"testing"

	"hiddenclass/internal/object"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

func TestInvariantsHoldAcrossTransitions(t *testing.T) {
	m := shape.NewManager(shape.Options{})
	heap := object.NewHeap(m)
	keys := m.Keys()
	var objs []object.Handle
	for i := 0; i < 8; i++ {
		o := heap.New(value.Null)
		for j := 0; j <= i; j++ {
			if err := heap.Put(o, keys.Intern(fmt.Sprintf("k%d", j)), value.MakeNumber(float64(j)), proptable.None); err != nil {
				t.Fatal(err)
			}
		}
		objs = append(objs, o)
	}
	if err := heap.Delete(objs[5], keys.Intern("k2")); err != nil {
		t.Fatal(err)
	}
	if err := heap.SetPrototype(objs[3], value.MakeObject(uint64(objs[0]))); err != nil {
		t.Fatal(err)
	}
	if err := heap.Put(objs[3], keys.Intern("extra"), value.Null, proptable.None); err != nil {
		t.Fatal(err)
	}
	heap.SetAttributes(objs[7], keys.Intern("k1"), proptable.ReadOnly)

	if err := CheckAllShapes(m); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if err := CheckObjectInvariants(heap, objs...); err != nil {
		t.Fatalf("objects: %v", err)
	}
}

func TestCheckShapeInvariantsRejectsDeadShape(t *testing.T) {
	m := shape.NewManager(shape.Options{})
	h := m.CreateShape(value.Null, shape.TypeInfo{})
	m.Release(h)
	if err := CheckShapeInvariants(m, h); err == nil {
		t.Fatalf("expected an error for a released shape")
	}
}
