package frame

import (
	"math/bits"

	"fortio.org/safecast"

	"hiddenclass/internal/ident"
	"hiddenclass/internal/object"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

// Arguments exposes the actual arguments of one invocation. Declared
// parameters alias the frame's registers until the view is torn off;
// extra arguments are copied at construction, into an inline buffer when
// they fit. Everything else, including reassigned length and callee, lives
// on a shape-backed object created on first use.
type Arguments struct {
	frame   *CallFrame
	objects *object.Heap
	keys    *ident.Table

	callee              value.Value
	numParameters       int
	numArguments        int
	firstParameterIndex int

	// registers holds the parameters once torn off.
	registers []value.Value
	tornOff   bool

	inline       [InlineExtraCapacity]value.Value
	extras       []value.Value
	extrasOnHeap bool

	deleted []uint64

	overrodeLength bool
	overrodeCallee bool
	backing        object.Handle
}

// NewArguments builds the Arguments view of frame. objects holds the
// backing object for generic properties.
func NewArguments(frame *CallFrame, objects *object.Heap) *Arguments {
	frame.check()
	a := &Arguments{
		frame:               frame,
		objects:             objects,
		keys:                objects.Shapes().Keys(),
		callee:              frame.callee,
		numParameters:       frame.numParameters,
		numArguments:        frame.argc,
		firstParameterIndex: frame.paramStart + 1,
	}
	if n := frame.argc - frame.numParameters; n > 0 {
		argv := frame.start + 1
		src := frame.file.regs[argv+frame.numParameters : argv+frame.argc]
		if n <= InlineExtraCapacity {
			a.extras = a.inline[:n]
		} else {
			a.extras = make([]value.Value, n)
			a.extrasOnHeap = true
			frame.file.counters.HeapExtras++
		}
		copy(a.extras, src)
	}
	frame.live = append(frame.live, a)
	frame.file.counters.ArgumentsCreated++
	return a
}

// NumParameters returns the declared parameter count of the callee.
func (a *Arguments) NumParameters() int { return a.numParameters }

// NumArguments returns the number of actual arguments.
func (a *Arguments) NumArguments() int { return a.numArguments }

// FirstParameterIndex returns the register of parameter 0 in the frame window.
func (a *Arguments) FirstParameterIndex() int { return a.firstParameterIndex }

// IsTornOff reports whether the view owns its parameters.
func (a *Arguments) IsTornOff() bool { return a.tornOff }

// ExtrasOnHeap reports whether the extra arguments overflowed the inline buffer.
func (a *Arguments) ExtrasOnHeap() bool { return a.extrasOnHeap }

// Object returns the backing object, or 0 if none was needed yet.
func (a *Arguments) Object() object.Handle { return a.backing }

// Overrides reports whether length and callee were reassigned or deleted.
func (a *Arguments) Overrides() (length, callee bool) {
	return a.overrodeLength, a.overrodeCallee
}

func (a *Arguments) isDeleted(i int) bool {
	w := i / 64
	return w < len(a.deleted) && a.deleted[w]&(1<<(uint(i)%64)) != 0
}

// DeletedCount returns how many argument slots were deleted.
func (a *Arguments) DeletedCount() int {
	n := 0
	for _, w := range a.deleted {
		n += bits.OnesCount64(w)
	}
	return n
}

// fast reports whether index i is served from registers or extras.
func (a *Arguments) fast(i int) bool {
	return i >= 0 && i < a.numArguments && !a.isDeleted(i)
}

func (a *Arguments) slot(i int) *value.Value {
	if i >= a.numParameters {
		return &a.extras[i-a.numParameters]
	}
	if a.tornOff {
		return &a.registers[i]
	}
	return &a.frame.file.regs[a.firstParameterIndex+i]
}

func (a *Arguments) object() object.Handle {
	if a.backing == 0 {
		a.backing = a.objects.NewOfKind(value.Null, shape.TypeArguments)
	}
	return a.backing
}

func (a *Arguments) indexKey(i int) (ident.Key, bool) {
	idx, err := safecast.Conv[uint32](i)
	if err != nil {
		return ident.NoKey, false
	}
	return a.keys.InternIndex(idx), true
}

// Get returns argument i. Indices outside the actual arguments, or deleted
// ones, are read from the backing object.
func (a *Arguments) Get(i int) (value.Value, bool) {
	if a.fast(i) {
		return *a.slot(i), true
	}
	if a.backing == 0 {
		return value.Undefined, false
	}
	k, ok := a.indexKey(i)
	if !ok {
		return value.Undefined, false
	}
	return a.objects.Lookup(a.backing, k)
}

// Set assigns argument i. Before tear-off a write to a declared parameter
// is visible to the frame.
func (a *Arguments) Set(i int, v value.Value) error {
	if a.fast(i) {
		*a.slot(i) = v
		return nil
	}
	k, ok := a.indexKey(i)
	if !ok {
		fail(PanicBadIndex, "argument index %d out of range", i)
	}
	return a.objects.Put(a.object(), k, v, proptable.None)
}

// Delete removes argument i. Later reads of i fall through to the backing
// object.
func (a *Arguments) Delete(i int) error {
	if a.fast(i) {
		w := i / 64
		for len(a.deleted) <= w {
			a.deleted = append(a.deleted, 0)
		}
		a.deleted[w] |= 1 << (uint(i) % 64)
		return nil
	}
	if a.backing == 0 {
		return nil
	}
	k, ok := a.indexKey(i)
	if !ok {
		return nil
	}
	return a.objects.Delete(a.backing, k)
}

func (a *Arguments) generic(name string) value.Value {
	if a.backing == 0 {
		return value.Undefined
	}
	v, ok := a.objects.Lookup(a.backing, a.keys.Intern(name))
	if !ok {
		return value.Undefined
	}
	return v
}

// Length returns the length property: the argument count until script
// reassigns or deletes it.
func (a *Arguments) Length() value.Value {
	if !a.overrodeLength {
		return value.MakeNumber(float64(a.numArguments))
	}
	return a.generic("length")
}

// Callee returns the callee property.
func (a *Arguments) Callee() value.Value {
	if !a.overrodeCallee {
		return a.callee
	}
	return a.generic("callee")
}

// SetLength reassigns length; later reads go through the backing object.
func (a *Arguments) SetLength(v value.Value) error {
	a.overrodeLength = true
	return a.objects.Put(a.object(), a.keys.Intern("length"), v, proptable.DontEnum)
}

// SetCallee reassigns callee.
func (a *Arguments) SetCallee(v value.Value) error {
	a.overrodeCallee = true
	return a.objects.Put(a.object(), a.keys.Intern("callee"), v, proptable.DontEnum)
}

// DeleteLength removes length.
func (a *Arguments) DeleteLength() error {
	a.overrodeLength = true
	if a.backing == 0 {
		return nil
	}
	return a.objects.Delete(a.backing, a.keys.Intern("length"))
}

// DeleteCallee removes callee.
func (a *Arguments) DeleteCallee() error {
	a.overrodeCallee = true
	if a.backing == 0 {
		return nil
	}
	return a.objects.Delete(a.backing, a.keys.Intern("callee"))
}

// OwnKeys returns the live argument indices followed by the enumerable
// keys of the backing object.
func (a *Arguments) OwnKeys() []ident.Key {
	out := make([]ident.Key, 0, a.numArguments)
	for i := range a.numArguments {
		if a.isDeleted(i) {
			continue
		}
		if k, ok := a.indexKey(i); ok {
			out = append(out, k)
		}
	}
	if a.backing != 0 {
		out = append(out, a.objects.OwnKeys(a.backing)...)
	}
	return out
}

// CopyTo spreads the arguments into dst, apply style, and returns the
// number of values written. A reassigned numeric length is honored; holes
// read as undefined.
func (a *Arguments) CopyTo(dst []value.Value) int {
	n := min(a.numArguments, len(dst))
	if a.overrodeLength {
		n = 0
		// NaN fails both comparisons and copies nothing
		if l := a.Length(); l.Kind == value.KindNumber && l.Num > 0 {
			n = len(dst)
			if l.Num < float64(n) {
				n = int(l.Num)
			}
		}
	}
	for i := range n {
		v, ok := a.Get(i)
		if !ok || v.IsEmpty() {
			v = value.Undefined
		}
		dst[i] = v
	}
	return n
}

// TearOff copies the declared parameters out of the register window. The
// view no longer aliases the frame afterwards.
func (a *Arguments) TearOff() {
	if a.tornOff {
		return
	}
	n := min(a.numParameters, a.numArguments)
	a.registers = make([]value.Value, n)
	copy(a.registers, a.frame.file.regs[a.firstParameterIndex:a.firstParameterIndex+n])
	a.tornOff = true
	a.frame.file.counters.TearOffs++
	a.frame = nil
}
