package frame

import (
	"errors"
	"math"
	"testing"

	"hiddenclass/internal/object"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/value"
)

func newHeap() *object.Heap {
	return object.NewHeap(shape.NewManager(shape.Options{}))
}

func numbers(vals ...float64) []value.Value {
	out := make([]value.Value, len(vals))
	for i, v := range vals {
		out[i] = value.MakeNumber(v)
	}
	return out
}

func expectPanic(t *testing.T, code PanicCode, fn func()) {
	t.Helper()
	defer func() {
		var e *Error
		err, _ := recover().(error)
		if !errors.As(err, &e) || e.Code != code {
			t.Fatalf("expected %s panic, got %v", code, err)
		}
	}()
	fn()
}

func TestExtraArgumentsStayInline(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	f, err := rf.PushFrame(value.MakeFunction(7), 2, value.Undefined, numbers(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	a := NewArguments(f, newHeap())
	if a.NumParameters() != 2 || a.NumArguments() != 5 {
		t.Fatalf("params=%d args=%d", a.NumParameters(), a.NumArguments())
	}
	if a.ExtrasOnHeap() {
		t.Fatalf("three extras must fit the inline buffer")
	}
	for i := 2; i < 5; i++ {
		v, ok := a.Get(i)
		if !ok || v.Num != float64(i+1) {
			t.Fatalf("arguments[%d] = %v,%v", i, v, ok)
		}
	}
	allocs := testing.AllocsPerRun(100, func() {
		for i := 2; i < 5; i++ {
			a.Get(i)
		}
	})
	if allocs != 0 {
		t.Fatalf("reading extras allocated %v times", allocs)
	}
}

func TestHeapExtrasAllocateMore(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	heap := newHeap()
	small, err := rf.PushFrame(value.Undefined, 2, value.Undefined, numbers(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	inline := testing.AllocsPerRun(50, func() { NewArguments(small, heap) })
	rf.PopFrame()

	big, err := rf.PushFrame(value.Undefined, 2, value.Undefined, numbers(1, 2, 3, 4, 5, 6, 7))
	if err != nil {
		t.Fatal(err)
	}
	onHeap := testing.AllocsPerRun(50, func() { NewArguments(big, heap) })
	if inline >= onHeap {
		t.Fatalf("inline extras cost %v allocations, heap extras %v", inline, onHeap)
	}
	a := NewArguments(big, heap)
	if !a.ExtrasOnHeap() {
		t.Fatalf("five extras must overflow the inline buffer")
	}
	if v, _ := a.Get(6); v.Num != 7 {
		t.Fatalf("arguments[6] = %v", v)
	}
	if rf.Counters().HeapExtras == 0 {
		t.Fatalf("heap extras not counted")
	}
}

func TestFrameLayout(t *testing.T) {
	rf := NewRegisterFile(64, nil)
	this := value.MakeString("this")
	f, err := rf.PushFrame(value.MakeFunction(1), 2, this, numbers(1, 2, 3, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	// [this a0..a4] [this a0 a1] [header] with the copy directly before the header
	if f.Base() != 6+3+CallFrameHeaderSize {
		t.Fatalf("base = %d", f.Base())
	}
	if !f.This().Same(this) || f.Param(0).Num != 1 || f.Param(1).Num != 2 {
		t.Fatalf("params = %v %v %v", f.This(), f.Param(0), f.Param(1))
	}
	if f.Header(HeaderArgumentCount).Num != 5 || !f.Header(HeaderCallee).Same(value.MakeFunction(1)) {
		t.Fatalf("header = %v %v", f.Header(HeaderArgumentCount), f.Header(HeaderCallee))
	}
	a := NewArguments(f, newHeap())
	if a.FirstParameterIndex() != 7 {
		t.Fatalf("first parameter index = %d", a.FirstParameterIndex())
	}

	g, err := rf.PushFrame(value.Undefined, 3, value.Undefined, numbers(9))
	if err != nil {
		t.Fatal(err)
	}
	if g.Header(HeaderCallerFrame).Num != float64(f.Base()) {
		t.Fatalf("caller frame = %v, want %d", g.Header(HeaderCallerFrame), f.Base())
	}
	if g.Param(0).Num != 9 || g.Param(2).Kind != value.KindUndefined {
		t.Fatalf("missing parameters must read undefined: %v %v", g.Param(0), g.Param(2))
	}
	if g.Base() != f.Base()+4+CallFrameHeaderSize {
		t.Fatalf("short call base = %d", g.Base())
	}
	rf.PopFrame()
	rf.PopFrame()
	if rf.Top() != 0 || rf.Depth() != 0 {
		t.Fatalf("top=%d depth=%d after popping everything", rf.Top(), rf.Depth())
	}
	if rf.HighWater() == 0 {
		t.Fatalf("high water not tracked")
	}
}

func TestParametersAliasUntilTearOff(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	f, err := rf.PushFrame(value.Undefined, 2, value.Undefined, numbers(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	a := NewArguments(f, newHeap())
	f.SetParam(0, value.MakeNumber(99))
	if v, _ := a.Get(0); v.Num != 99 {
		t.Fatalf("parameter write not visible: %v", v)
	}
	if err := a.Set(1, value.MakeNumber(42)); err != nil {
		t.Fatal(err)
	}
	if f.Param(1).Num != 42 {
		t.Fatalf("arguments write not visible to the frame: %v", f.Param(1))
	}
	if err := a.Set(2, value.MakeNumber(30)); err != nil {
		t.Fatal(err)
	}

	rf.PopFrame()
	if !a.IsTornOff() {
		t.Fatalf("popping the frame must tear off live views")
	}
	if _, err := rf.PushFrame(value.Undefined, 2, value.Undefined, numbers(-1, -2, -3)); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{99, 42, 30} {
		if v, _ := a.Get(i); v.Num != want {
			t.Fatalf("torn-off arguments[%d] = %v, want %v", i, v, want)
		}
	}
	if rf.Counters().TearOffs != 1 {
		t.Fatalf("tear-offs = %d", rf.Counters().TearOffs)
	}
}

func TestExplicitTearOffDetaches(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	f, _ := rf.PushFrame(value.Undefined, 1, value.Undefined, numbers(5))
	a := NewArguments(f, newHeap())
	a.TearOff()
	f.SetParam(0, value.MakeNumber(6))
	if v, _ := a.Get(0); v.Num != 5 {
		t.Fatalf("torn-off view still aliases the frame: %v", v)
	}
	rf.PopFrame()
	if rf.Counters().TearOffs != 1 {
		t.Fatalf("a second tear-off must be a no-op")
	}
}

func TestDeleteFallsThroughToBackingObject(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	heap := newHeap()
	f, _ := rf.PushFrame(value.Undefined, 2, value.Undefined, numbers(1, 2, 3, 4, 5))
	a := NewArguments(f, heap)
	if err := a.Delete(0); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Get(0); ok {
		t.Fatalf("deleted argument still readable")
	}
	if f.Param(0).Num != 1 {
		t.Fatalf("deleting an argument must not touch the parameter")
	}
	if a.DeletedCount() != 1 {
		t.Fatalf("deleted count = %d", a.DeletedCount())
	}
	if err := a.Set(0, value.MakeString("back")); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.Get(0); v.Str != "back" {
		t.Fatalf("generic write lost: %v", v)
	}
	if err := a.Set(9, value.MakeNumber(10)); err != nil {
		t.Fatal(err)
	}
	if a.Object() == 0 || heap.Shapes().TypeInfo(heap.ShapeHandle(a.Object())).Kind != shape.TypeArguments {
		t.Fatalf("backing object missing or of the wrong kind")
	}

	var names []string
	for _, k := range a.OwnKeys() {
		names = append(names, heap.Shapes().Keys().Name(k))
	}
	want := []string{"1", "2", "3", "4", "0", "9"}
	if len(names) != len(want) {
		t.Fatalf("OwnKeys = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("OwnKeys = %v, want %v", names, want)
		}
	}
}

func TestLengthAndCalleeOverrides(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	callee := value.MakeFunction(3)
	f, _ := rf.PushFrame(callee, 1, value.Undefined, numbers(1, 2, 3))
	a := NewArguments(f, newHeap())
	if a.Length().Num != 3 || !a.Callee().Same(callee) {
		t.Fatalf("length=%v callee=%v", a.Length(), a.Callee())
	}
	dst := make([]value.Value, 8)
	if n := a.CopyTo(dst); n != 3 || dst[2].Num != 3 {
		t.Fatalf("CopyTo = %d %v", n, dst[:n])
	}

	if err := a.SetLength(value.MakeNumber(2)); err != nil {
		t.Fatal(err)
	}
	if a.Length().Num != 2 {
		t.Fatalf("overridden length = %v", a.Length())
	}
	if n := a.CopyTo(dst); n != 2 {
		t.Fatalf("CopyTo after length override = %d", n)
	}
	if len(a.OwnKeys()) != 3 {
		t.Fatalf("length must not enumerate: %v", a.OwnKeys())
	}
	if err := a.DeleteLength(); err != nil {
		t.Fatal(err)
	}
	if a.Length().Kind != value.KindUndefined {
		t.Fatalf("deleted length = %v", a.Length())
	}

	if err := a.SetCallee(value.MakeString("replaced")); err != nil {
		t.Fatal(err)
	}
	if a.Callee().Str != "replaced" {
		t.Fatalf("callee = %v", a.Callee())
	}
	if err := a.DeleteCallee(); err != nil {
		t.Fatal(err)
	}
	if a.Callee().Kind != value.KindUndefined {
		t.Fatalf("deleted callee = %v", a.Callee())
	}
	if l, c := a.Overrides(); !l || !c {
		t.Fatalf("overrides = %v %v", l, c)
	}
}

func TestCopyToClampsOverriddenLength(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	f, _ := rf.PushFrame(value.MakeFunction(1), 1, value.Undefined, numbers(1, 2, 3))
	a := NewArguments(f, newHeap())
	cases := []struct {
		length float64
		want   int
	}{
		{math.Inf(1), 8},
		{1e300, 8},
		{math.NaN(), 0},
		{math.Inf(-1), 0},
		{-1, 0},
		{2.5, 2},
	}
	for _, tc := range cases {
		if err := a.SetLength(value.MakeNumber(tc.length)); err != nil {
			t.Fatal(err)
		}
		dst := make([]value.Value, 8)
		if n := a.CopyTo(dst); n != tc.want {
			t.Fatalf("length %v: CopyTo = %d, want %d", tc.length, n, tc.want)
		}
	}
	dst := make([]value.Value, 8)
	if err := a.SetLength(value.MakeNumber(math.Inf(1))); err != nil {
		t.Fatal(err)
	}
	a.CopyTo(dst)
	if dst[2].Num != 3 || dst[7].Kind != value.KindUndefined {
		t.Fatalf("spread = %v", dst)
	}
}

func TestRegisterFileLimits(t *testing.T) {
	rf := NewRegisterFile(16, nil)
	if _, err := rf.PushFrame(value.Undefined, 0, value.Undefined, numbers(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)); !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if rf.Top() != 0 || rf.Depth() != 0 {
		t.Fatalf("failed push changed the register file")
	}
	expectPanic(t, PanicNoFrame, rf.PopFrame)

	f, err := rf.PushFrame(value.Undefined, 1, value.Undefined, numbers(1))
	if err != nil {
		t.Fatal(err)
	}
	rf.PopFrame()
	expectPanic(t, PanicStaleFrame, func() { f.Param(0) })
	expectPanic(t, PanicStaleFrame, func() { NewArguments(f, newHeap()) })
}

func TestCloseLeavesNoShapes(t *testing.T) {
	rf := NewRegisterFile(0, nil)
	heap := newHeap()
	f, _ := rf.PushFrame(value.Undefined, 0, value.Undefined, numbers(1, 2))
	a := NewArguments(f, heap)
	if err := a.SetLength(value.MakeNumber(0)); err != nil {
		t.Fatal(err)
	}
	rf.PopFrame()
	heap.Close()
	if err := heap.Shapes().CheckLeaks(); err != nil {
		t.Fatalf("leaked shapes: %v", err)
	}
}
