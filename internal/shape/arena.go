package shape

import (
	"fmt"

	"fortio.org/safecast"
)

// Handle addresses a shape. The low 32 bits index the arena, the high 32
// bits carry the slot generation, so a handle to a freed shape never
// resolves to whatever reuses its slot. Zero is never issued.
type Handle uint64

// NoShape is the invalid handle.
const NoShape Handle = 0

func makeHandle(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx)) }

func (h Handle) index() uint32 { return uint32(h) }

func (h Handle) gen() uint32 { return uint32(h >> 32) }

// String renders the handle as "#idx.gen".
func (h Handle) String() string {
	if h == NoShape {
		return "#none"
	}
	return fmt.Sprintf("#%d.%d", h.index(), h.gen())
}

type arenaSlot struct {
	gen   uint32
	shape *Shape
}

// arena owns every shape. Slots are recycled through a free list and
// their generation is bumped on every free.
type arena struct {
	slots []arenaSlot
	free  []uint32
	live  int
}

func newArena() *arena {
	return &arena{slots: make([]arenaSlot, 1, 64)}
}

func (a *arena) alloc(s *Shape) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		n, err := safecast.Conv[uint32](len(a.slots))
		if err != nil {
			panic(fmt.Errorf("len(slots) overflow: %w", err))
		}
		idx = n
		a.slots = append(a.slots, arenaSlot{})
	}
	slot := &a.slots[idx]
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	slot.shape = s
	a.live++
	h := makeHandle(idx, slot.gen)
	s.self = h
	return h
}

// lookup resolves h without panicking.
func (a *arena) lookup(h Handle) (*Shape, bool) {
	idx := h.index()
	if h == NoShape || idx == 0 || int(idx) >= len(a.slots) {
		return nil, false
	}
	slot := a.slots[idx]
	if slot.shape == nil || slot.gen != h.gen() {
		return nil, false
	}
	return slot.shape, true
}

// get resolves h or panics with a stable code.
func (a *arena) get(h Handle) *Shape {
	idx := h.index()
	if h == NoShape || idx == 0 || int(idx) >= len(a.slots) {
		fail(PanicInvalidHandle, "invalid shape handle %s", h)
	}
	slot := a.slots[idx]
	if slot.shape == nil || slot.gen != h.gen() {
		fail(PanicUseAfterFree, "use after free: shape %s (slot generation %d)", h, slot.gen)
	}
	return slot.shape
}

func (a *arena) release(h Handle) {
	slot := &a.slots[h.index()]
	slot.shape = nil
	a.free = append(a.free, h.index())
	a.live--
}

// each visits live shapes in slot order.
func (a *arena) each(fn func(*Shape) bool) {
	for i := 1; i < len(a.slots); i++ {
		if s := a.slots[i].shape; s != nil {
			if !fn(s) {
				return
			}
		}
	}
}
