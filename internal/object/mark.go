package object

import (
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

// Reachability is the result of a mark pass.
type Reachability struct {
	Objects    map[Handle]bool
	Shapes     map[shape.Handle]bool
	WeakShapes map[shape.Handle]bool
}

type marker struct {
	heap    *Heap
	result  Reachability
	objects []Handle
	shapes  []shape.Handle
}

func (mk *marker) MarkValue(v value.Value) {
	if !v.IsObject() {
		return
	}
	o := Handle(v.Ref)
	if mk.result.Objects[o] {
		return
	}
	if _, ok := mk.heap.lookup(o); !ok {
		return
	}
	mk.result.Objects[o] = true
	mk.objects = append(mk.objects, o)
}

func (mk *marker) MarkShape(h shape.Handle) {
	if mk.result.Shapes[h] {
		return
	}
	mk.result.Shapes[h] = true
	mk.shapes = append(mk.shapes, h)
}

func (mk *marker) MarkWeakShape(h shape.Handle) {
	mk.result.WeakShapes[h] = true
}

// Reachable marks everything the roots keep alive. Transition edges and
// cached prototype chains do not keep shapes alive; shapes only reached
// through them end up in WeakShapes alone.
func (h *Heap) Reachable(roots ...Handle) Reachability {
	mk := &marker{
		heap: h,
		result: Reachability{
			Objects:    make(map[Handle]bool),
			Shapes:     make(map[shape.Handle]bool),
			WeakShapes: make(map[shape.Handle]bool),
		},
	}
	for _, r := range roots {
		mk.MarkValue(value.MakeObject(uint64(r)))
	}
	for len(mk.objects) > 0 || len(mk.shapes) > 0 {
		if n := len(mk.objects); n > 0 {
			o := mk.objects[n-1]
			mk.objects = mk.objects[:n-1]
			obj := h.Get(o)
			mk.MarkShape(obj.Shape)
			for _, v := range obj.Storage {
				mk.MarkValue(v)
			}
			for _, v := range obj.setters {
				mk.MarkValue(v)
			}
			continue
		}
		n := len(mk.shapes)
		s := mk.shapes[n-1]
		mk.shapes = mk.shapes[:n-1]
		h.shapes.VisitChildren(s, mk)
	}
	for s := range mk.result.WeakShapes {
		if mk.result.Shapes[s] {
			delete(mk.result.WeakShapes, s)
		}
	}
	return mk.result
}
