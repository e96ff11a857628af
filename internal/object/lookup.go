package object

import (
	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

// Slot describes where a property lookup found its value.
type Slot struct {
	Value  value.Value
	Setter value.Value
	Holder Handle
	Offset uint32
	Attrs  proptable.Attributes
	// Depth is 0 for own properties and n for the n-th prototype.
	Depth int
}

func (h *Heap) slotFor(holder Handle, obj *Object, e proptable.Entry, depth int) Slot {
	s := Slot{
		Value:  obj.Storage[e.Offset],
		Holder: holder,
		Offset: e.Offset,
		Attrs:  e.Attrs,
		Depth:  depth,
	}
	if e.Attrs.IsAccessor() {
		s.Setter = obj.setters[e.Offset]
	}
	return s
}

// GetOwn looks key up on o only.
func (h *Heap) GetOwn(o Handle, key ident.Key) (Slot, bool) {
	obj := h.Get(o)
	e, ok := h.shapes.Get(obj.Shape, key)
	if !ok {
		return Slot{}, false
	}
	return h.slotFor(o, obj, e, 0), true
}

// GetSlot looks key up on o and then along its prototype chain. The chain
// cached on the shape is checked link by link before it is used.
func (h *Heap) GetSlot(o Handle, key ident.Key) (Slot, bool) {
	obj := h.Get(o)
	if e, ok := h.shapes.Get(obj.Shape, key); ok {
		return h.slotFor(o, obj, e, 0), true
	}
	proto := h.shapes.Prototype(obj.Shape)
	if !proto.IsObject() {
		return Slot{}, false
	}
	h.counters.ProtoLookups++
	if _, cached := h.shapes.CachedPrototypeChain(obj.Shape); cached && !h.shapes.ValidatePrototypeChain(obj.Shape, h) {
		h.shapes.InvalidatePrototypeChain(obj.Shape)
		h.counters.ChainRevalidation++
	}
	chain := h.shapes.PrototypeChain(obj.Shape, h)
	for i, link := range chain {
		holder := Handle(proto.Ref)
		po, ok := h.lookup(holder)
		if !ok || po.Shape != link {
			return h.walkPrototypes(proto, key, i+1)
		}
		if e, ok := h.shapes.Get(link, key); ok {
			return h.slotFor(holder, po, e, i+1), true
		}
		proto = h.shapes.Prototype(link)
	}
	return Slot{}, false
}

// walkPrototypes is the uncached lookup used when a cached link is stale.
func (h *Heap) walkPrototypes(proto value.Value, key ident.Key, depth int) (Slot, bool) {
	for proto.IsObject() {
		holder := Handle(proto.Ref)
		po, ok := h.lookup(holder)
		if !ok {
			return Slot{}, false
		}
		if e, ok := h.shapes.Get(po.Shape, key); ok {
			return h.slotFor(holder, po, e, depth), true
		}
		proto = h.shapes.Prototype(po.Shape)
		depth++
	}
	return Slot{}, false
}

// Lookup returns the value of key as seen from o. Accessors yield their getter.
func (h *Heap) Lookup(o Handle, key ident.Key) (value.Value, bool) {
	s, ok := h.GetSlot(o, key)
	return s.Value, ok
}

// HasProperty reports whether key is visible from o.
func (h *Heap) HasProperty(o Handle, key ident.Key) bool {
	_, ok := h.GetSlot(o, key)
	return ok
}

// IsCacheable reports whether an inline cache may key on the shape of o.
func (h *Heap) IsCacheable(o Handle) bool {
	return h.shapes.DictionaryKind(h.Get(o).Shape) != shape.UncacheableDictionary
}
