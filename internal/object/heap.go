// Package object is the object layer on top of the shape manager: objects
// hold a shape and a storage array indexed by the offsets the shape assigns.
package object

import (
	"fmt"
	"slices"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

// Handle identifies an object. It is the Ref of object values.
type Handle uint64

// Object is one heap cell.
type Object struct {
	Shape   shape.Handle
	Storage []value.Value
	Alive   bool
	AllocID uint64

	// setters keeps the setter half of accessor properties by offset;
	// the getter lives in storage.
	setters map[uint32]value.Value
}

type rootKey struct {
	proto value.Value
	kind  shape.TypeKind
}

// Counters are cumulative heap statistics.
type Counters struct {
	Allocated         uint64
	Freed             uint64
	ShapeSwitches     uint64
	StorageGrowths    uint64
	ProtoLookups      uint64
	ChainRevalidation uint64
	Flattens          uint64
}

// Heap stores every object of one engine. Handles are monotonically
// increasing and never reused within a run.
type Heap struct {
	shapes *shape.Manager
	keys   *ident.Table

	next        Handle
	nextAllocID uint64
	objs        map[Handle]*Object

	// roots shares one empty shape per (prototype, kind).
	roots map[rootKey]shape.Handle

	counters Counters
}

// NewHeap creates an empty heap over shapes.
func NewHeap(shapes *shape.Manager) *Heap {
	return &Heap{
		shapes:      shapes,
		keys:        shapes.Keys(),
		next:        1,
		nextAllocID: 1,
		objs:        make(map[Handle]*Object, 128),
		roots:       make(map[rootKey]shape.Handle),
	}
}

// Shapes returns the shape manager behind the heap.
func (h *Heap) Shapes() *shape.Manager { return h.shapes }

// Counters returns the cumulative statistics.
func (h *Heap) Counters() Counters { return h.counters }

// Live returns the number of live objects.
func (h *Heap) Live() int {
	n := 0
	for _, obj := range h.objs {
		if obj.Alive {
			n++
		}
	}
	return n
}

func (h *Heap) rootShape(proto value.Value, kind shape.TypeKind) shape.Handle {
	k := rootKey{proto: proto, kind: kind}
	if root, ok := h.roots[k]; ok && h.shapes.Valid(root) {
		return root
	}
	root := h.shapes.CreateShape(proto, shape.TypeInfo{Kind: kind})
	h.roots[k] = root
	return root
}

func (h *Heap) alloc(sh shape.Handle) Handle {
	handle := h.next
	h.next++
	obj := &Object{
		Shape:   sh,
		Storage: make([]value.Value, h.shapes.StorageCapacity(sh)),
		Alive:   true,
		AllocID: h.nextAllocID,
	}
	h.nextAllocID++
	h.objs[handle] = obj
	h.counters.Allocated++
	return handle
}

// New allocates an empty object with the given prototype.
func (h *Heap) New(proto value.Value) Handle {
	return h.NewOfKind(proto, shape.TypeObject)
}

// NewOfKind allocates an empty object of kind with the given prototype.
// Objects created the same way share their root shape.
func (h *Heap) NewOfKind(proto value.Value, kind shape.TypeKind) Handle {
	return h.alloc(h.shapes.Retain(h.rootShape(proto, kind)))
}

// NewFunction allocates a function object that records its declared
// parameter count in an anonymous slot.
func (h *Heap) NewFunction(proto value.Value, arity int) Handle {
	root := h.rootShape(proto, shape.TypeFunction)
	sh := h.shapes.AddAnonymousSlotsTransition(root, 1)
	fn := h.alloc(sh)
	h.Get(fn).Storage[0] = value.MakeNumber(float64(arity))
	return fn
}

// Arity returns the declared parameter count of a function object.
func (h *Heap) Arity(fn Handle) int {
	obj := h.Get(fn)
	if h.shapes.TypeInfo(obj.Shape).Kind != shape.TypeFunction || len(obj.Storage) == 0 {
		return 0
	}
	return int(obj.Storage[0].Num)
}

// Get resolves a handle or panics.
func (h *Heap) Get(handle Handle) *Object {
	if handle == 0 {
		h.panic(PanicInvalidHandle, "invalid handle 0")
	}
	obj, ok := h.objs[handle]
	if !ok || obj == nil {
		h.panic(PanicInvalidHandle, fmt.Sprintf("invalid handle %d", handle))
	}
	if !obj.Alive {
		h.panic(PanicUseAfterFree, fmt.Sprintf("use after free: handle %d (alloc=%d)", handle, obj.AllocID))
	}
	return obj
}

func (h *Heap) lookup(handle Handle) (*Object, bool) {
	obj, ok := h.objs[handle]
	return obj, ok && obj != nil && obj.Alive
}

// Free releases the object's shape. The handle stays invalid afterwards.
func (h *Heap) Free(handle Handle) {
	if handle == 0 {
		h.panic(PanicInvalidHandle, "invalid handle 0")
	}
	obj, ok := h.objs[handle]
	if !ok || obj == nil {
		h.panic(PanicInvalidHandle, fmt.Sprintf("invalid handle %d", handle))
	}
	if !obj.Alive {
		h.panic(PanicDoubleFree, fmt.Sprintf("double free: handle %d (alloc=%d)", handle, obj.AllocID))
	}
	obj.Alive = false
	h.shapes.Release(obj.Shape)
	obj.Shape = shape.NoShape
	obj.Storage = nil
	obj.setters = nil
	h.counters.Freed++
}

// Close frees every live object and the shared root shapes.
func (h *Heap) Close() {
	handles := make([]Handle, 0, len(h.objs))
	for handle, obj := range h.objs {
		if obj.Alive {
			handles = append(handles, handle)
		}
	}
	slices.Sort(handles)
	for _, handle := range handles {
		h.Free(handle)
	}
	for k, root := range h.roots {
		if h.shapes.Valid(root) {
			h.shapes.Release(root)
		}
		delete(h.roots, k)
	}
}

// ShapeOf implements shape.PrototypeResolver.
func (h *Heap) ShapeOf(v value.Value) (shape.Handle, bool) {
	if !v.IsObject() {
		return shape.NoShape, false
	}
	obj, ok := h.lookup(Handle(v.Ref))
	if !ok {
		return shape.NoShape, false
	}
	return obj.Shape, true
}

// ShapeHandle returns the current shape of an object.
func (h *Heap) ShapeHandle(o Handle) shape.Handle { return h.Get(o).Shape }

// Prototype returns the prototype of an object.
func (h *Heap) Prototype(o Handle) value.Value {
	return h.shapes.Prototype(h.Get(o).Shape)
}

// switchShape moves obj to next, which the caller already owns, and grows
// storage to the new capacity.
func (h *Heap) switchShape(obj *Object, next shape.Handle) {
	if next == obj.Shape {
		h.shapes.Release(next)
		return
	}
	prev := obj.Shape
	obj.Shape = next
	h.ensureCapacity(obj)
	h.shapes.Release(prev)
	h.counters.ShapeSwitches++
}

func (h *Heap) ensureCapacity(obj *Object) {
	capacity := int(h.shapes.StorageCapacity(obj.Shape))
	if capacity > len(obj.Storage) {
		grown := make([]value.Value, capacity)
		copy(grown, obj.Storage)
		obj.Storage = grown
		h.counters.StorageGrowths++
	}
}

// specificFor returns the specific value recorded for v, if any. Only
// functions are recorded.
func specificFor(v value.Value) value.Value {
	if v.Kind == value.KindFunction {
		return v
	}
	return value.Empty
}

// Put writes an own data property, adding it with attrs if absent.
func (h *Heap) Put(o Handle, key ident.Key, v value.Value, attrs proptable.Attributes) error {
	obj := h.Get(o)
	if e, ok := h.shapes.Get(obj.Shape, key); ok {
		if e.Attrs.IsAccessor() {
			return fmt.Errorf("put %q: %w", h.keys.Name(key), ErrAccessor)
		}
		if e.Attrs.Has(proptable.ReadOnly) {
			return fmt.Errorf("put %q: %w", h.keys.Name(key), ErrReadOnly)
		}
		if !e.Specific.IsEmpty() && !e.Specific.Same(v) {
			h.switchShape(obj, h.shapes.DespecifyFunctionTransition(obj.Shape, key))
		}
		obj.Storage[e.Offset] = v
		return nil
	}
	var offset uint32
	if h.shapes.IsDictionary(obj.Shape) {
		offset = h.shapes.AddPropertyWithoutTransition(obj.Shape, key, attrs, specificFor(v))
		h.ensureCapacity(obj)
	} else {
		var next shape.Handle
		next, offset = h.shapes.AddPropertyTransition(obj.Shape, key, attrs, specificFor(v))
		h.switchShape(obj, next)
	}
	obj.Storage[offset] = v
	return nil
}

// DefineAccessor adds or replaces key with an accessor pair.
func (h *Heap) DefineAccessor(o Handle, key ident.Key, getter, setter value.Value, attrs proptable.Attributes) {
	obj := h.Get(o)
	attrs &^= proptable.Accessor
	if !getter.IsEmpty() {
		attrs |= proptable.Getter
	}
	if !setter.IsEmpty() {
		attrs |= proptable.Setter
	}
	var offset uint32
	if e, ok := h.shapes.Get(obj.Shape, key); ok {
		offset = e.Offset
		if e.Attrs != attrs {
			h.setAttributes(obj, key, attrs)
		}
	} else if h.shapes.IsDictionary(obj.Shape) {
		offset = h.shapes.AddPropertyWithoutTransition(obj.Shape, key, attrs, value.Empty)
		h.ensureCapacity(obj)
	} else {
		var next shape.Handle
		next, offset = h.shapes.AddPropertyTransition(obj.Shape, key, attrs, value.Empty)
		h.switchShape(obj, next)
	}
	obj.Storage[offset] = getter
	if obj.setters == nil {
		obj.setters = make(map[uint32]value.Value)
	}
	obj.setters[offset] = setter
}

// SetAttributes reconfigures an own property.
func (h *Heap) SetAttributes(o Handle, key ident.Key, attrs proptable.Attributes) bool {
	obj := h.Get(o)
	if _, ok := h.shapes.Get(obj.Shape, key); !ok {
		return false
	}
	h.setAttributes(obj, key, attrs)
	return true
}

func (h *Heap) setAttributes(obj *Object, key ident.Key, attrs proptable.Attributes) {
	if h.shapes.DictionaryKind(obj.Shape) == shape.UncacheableDictionary {
		h.shapes.SetAttributesWithoutTransition(obj.Shape, key, attrs)
		return
	}
	h.switchShape(obj, h.shapes.AttributeChangeTransition(obj.Shape, key, attrs))
}

// Delete removes an own property. Deleting an absent key succeeds.
func (h *Heap) Delete(o Handle, key ident.Key) error {
	obj := h.Get(o)
	e, ok := h.shapes.Get(obj.Shape, key)
	if !ok {
		return nil
	}
	if e.Attrs.Has(proptable.DontDelete) {
		return fmt.Errorf("delete %q: %w", h.keys.Name(key), ErrNotConfigurable)
	}
	var offset uint32
	if h.shapes.DictionaryKind(obj.Shape) == shape.UncacheableDictionary {
		offset = h.shapes.RemovePropertyWithoutTransition(obj.Shape, key)
	} else {
		var next shape.Handle
		next, offset = h.shapes.RemovePropertyTransition(obj.Shape, key)
		h.switchShape(obj, next)
	}
	obj.Storage[offset] = value.Empty
	delete(obj.setters, offset)
	return nil
}

// SetPrototype changes the prototype of an object.
func (h *Heap) SetPrototype(o Handle, proto value.Value) error {
	obj := h.Get(o)
	for p := proto; p.IsObject(); {
		if Handle(p.Ref) == o {
			return fmt.Errorf("set prototype of %d: %w", o, ErrPrototypeCycle)
		}
		po, ok := h.lookup(Handle(p.Ref))
		if !ok {
			break
		}
		p = h.shapes.Prototype(po.Shape)
	}
	if h.shapes.Prototype(obj.Shape).Same(proto) {
		return nil
	}
	h.switchShape(obj, h.shapes.ChangePrototypeTransition(obj.Shape, proto))
	return nil
}

// ToDictionary moves an object to a dictionary shape of its own.
func (h *Heap) ToDictionary(o Handle, kind shape.DictionaryKind) {
	obj := h.Get(o)
	if h.shapes.DictionaryKind(obj.Shape) >= kind && kind != shape.NotDictionary {
		return
	}
	if kind == shape.UncacheableDictionary {
		h.switchShape(obj, h.shapes.ToUncacheableDictionaryTransition(obj.Shape))
		return
	}
	h.switchShape(obj, h.shapes.ToCacheableDictionaryTransition(obj.Shape))
}

// Flatten compacts a dictionary object's storage to a dense range.
func (h *Heap) Flatten(o Handle) {
	obj := h.Get(o)
	if !h.shapes.IsDictionary(obj.Shape) {
		return
	}
	remap := h.shapes.FlattenDictionaryStructure(obj.Shape)
	if remap == nil {
		return
	}
	storage := make([]value.Value, len(obj.Storage))
	var setters map[uint32]value.Value
	if obj.setters != nil {
		setters = make(map[uint32]value.Value, len(obj.setters))
	}
	for old, to := range remap {
		if to < 0 {
			continue
		}
		storage[to] = obj.Storage[old]
		if s, ok := obj.setters[uint32(old)]; ok {
			setters[uint32(to)] = s
		}
	}
	obj.Storage = storage
	obj.setters = setters
	h.counters.Flattens++
}

// OwnKeys returns the enumerable own keys in insertion order. Dictionaries
// with holes are flattened first.
func (h *Heap) OwnKeys(o Handle) []ident.Key {
	obj := h.Get(o)
	if h.shapes.HasHoles(obj.Shape) {
		h.Flatten(o)
	}
	return h.shapes.EnumerationCache(obj.Shape)
}

// OwnKeyNames returns OwnKeys spelled out.
func (h *Heap) OwnKeyNames(o Handle) []string {
	keys := h.OwnKeys(o)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = h.keys.Name(k)
	}
	return names
}
