// Package frame lays out call frames in a fixed register file and exposes
// the actual arguments of an invocation as an Arguments view.
//
// A frame occupies a contiguous window: the caller pushes `this` and the
// arguments, the declared parameters follow (copied when there are extra
// arguments, padded with undefined when there are too few), then a fixed
// header. Arguments views alias the window until the frame is popped, at
// which point they are torn off into storage of their own.
package frame

import (
	"fmt"

	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

const (
	// DefaultRegisterFileSize is the register count of a new register file.
	DefaultRegisterFileSize = 8192
	// CallFrameHeaderSize is the number of header registers per frame.
	CallFrameHeaderSize = 6
	// InlineExtraCapacity is the number of extra arguments an Arguments
	// view keeps without a heap allocation.
	InlineExtraCapacity = 4
)

// Header register slots, relative to the start of the header.
const (
	HeaderCallee = iota
	HeaderArgumentCount
	HeaderReturnPC
	HeaderCallerFrame
	HeaderCodeBlock
	HeaderScopeChain
)

// Counters are cumulative register file statistics.
type Counters struct {
	Pushes           uint64
	Pops             uint64
	ArgumentsCreated uint64
	TearOffs         uint64
	HeapExtras       uint64
}

// RegisterFile is the value stack every frame of one engine lives in.
// It never grows; PushFrame fails once it is full.
type RegisterFile struct {
	regs      []value.Value
	top       int
	highWater int
	frames    []*CallFrame
	tracer    trace.Tracer
	counters  Counters
}

// CallFrame is one activation in a RegisterFile.
type CallFrame struct {
	file *RegisterFile

	// start is the register of `this` as pushed by the caller.
	start int
	// paramStart is the register of `this` directly before the header.
	paramStart int
	// base is the first register after the header.
	base int

	numParameters int
	argc          int
	callee        value.Value

	live   []*Arguments
	popped bool
}

// NewRegisterFile allocates a register file of size registers. A size of
// zero or less selects DefaultRegisterFileSize.
func NewRegisterFile(size int, tracer trace.Tracer) *RegisterFile {
	if size <= 0 {
		size = DefaultRegisterFileSize
	}
	if tracer == nil {
		tracer = trace.Nop
	}
	return &RegisterFile{
		regs:   make([]value.Value, size),
		frames: make([]*CallFrame, 0, 16),
		tracer: tracer,
	}
}

// Size returns the register capacity.
func (rf *RegisterFile) Size() int { return len(rf.regs) }

// Top returns the first unused register.
func (rf *RegisterFile) Top() int { return rf.top }

// HighWater returns the highest Top seen so far.
func (rf *RegisterFile) HighWater() int { return rf.highWater }

// Depth returns the number of active frames.
func (rf *RegisterFile) Depth() int { return len(rf.frames) }

// Counters returns the cumulative statistics.
func (rf *RegisterFile) Counters() Counters { return rf.counters }

// Register returns register i.
func (rf *RegisterFile) Register(i int) value.Value {
	if i < 0 || i >= len(rf.regs) {
		fail(PanicBadIndex, "register %d out of range [0,%d)", i, len(rf.regs))
	}
	return rf.regs[i]
}

// Current returns the innermost frame, or nil.
func (rf *RegisterFile) Current() *CallFrame {
	if len(rf.frames) == 0 {
		return nil
	}
	return rf.frames[len(rf.frames)-1]
}

// PushFrame lays out a call of callee with `this` and args. When more
// arguments are passed than declared, `this` and the declared parameters
// are copied after them so the callee finds its parameters directly
// before the header.
func (rf *RegisterFile) PushFrame(callee value.Value, numParameters int, this value.Value, args []value.Value) (*CallFrame, error) {
	if numParameters < 0 {
		return nil, fmt.Errorf("push frame: negative parameter count %d", numParameters)
	}
	argc := len(args)
	need := 1 + argc + CallFrameHeaderSize
	switch {
	case argc > numParameters:
		need += 1 + numParameters
	case argc < numParameters:
		need += numParameters - argc
	}
	if rf.top+need > len(rf.regs) {
		return nil, fmt.Errorf("push frame of %d registers at %d/%d: %w", need, rf.top, len(rf.regs), ErrStackOverflow)
	}

	f := &CallFrame{
		file:          rf,
		start:         rf.top,
		numParameters: numParameters,
		argc:          argc,
		callee:        callee,
	}
	r := rf.top
	rf.regs[r] = this
	copy(rf.regs[r+1:], args)
	r += 1 + argc
	if argc > numParameters {
		f.paramStart = r
		rf.regs[r] = this
		copy(rf.regs[r+1:], args[:numParameters])
		r += 1 + numParameters
	} else {
		f.paramStart = f.start
		for ; r < f.start+1+numParameters; r++ {
			rf.regs[r] = value.Undefined
		}
	}

	caller := 0
	if cur := rf.Current(); cur != nil {
		caller = cur.base
	}
	header := rf.regs[r : r+CallFrameHeaderSize]
	header[HeaderCallee] = callee
	header[HeaderArgumentCount] = value.MakeNumber(float64(argc))
	header[HeaderReturnPC] = value.MakeNumber(0)
	header[HeaderCallerFrame] = value.MakeNumber(float64(caller))
	header[HeaderCodeBlock] = value.Undefined
	header[HeaderScopeChain] = value.Undefined
	f.base = r + CallFrameHeaderSize

	rf.top = f.base
	rf.highWater = max(rf.highWater, rf.top)
	rf.frames = append(rf.frames, f)
	rf.counters.Pushes++
	if rf.tracer.Enabled() {
		trace.Point(rf.tracer, trace.ScopeEngine, "push", fmt.Sprintf("depth=%d", len(rf.frames)),
			"argc", fmt.Sprint(argc), "params", fmt.Sprint(numParameters), "base", fmt.Sprint(f.base))
	}
	return f, nil
}

// PopFrame removes the innermost frame. Arguments views still bound to it
// are torn off first; the window is cleared so reuse is visible.
func (rf *RegisterFile) PopFrame() {
	f := rf.Current()
	if f == nil {
		fail(PanicNoFrame, "pop with no active frame")
	}
	for _, a := range f.live {
		a.TearOff()
	}
	f.live = nil
	clear(rf.regs[f.start:rf.top])
	rf.top = f.start
	f.popped = true
	rf.frames = rf.frames[:len(rf.frames)-1]
	rf.counters.Pops++
	if rf.tracer.Enabled() {
		trace.Point(rf.tracer, trace.ScopeEngine, "pop", fmt.Sprintf("depth=%d", len(rf.frames)))
	}
}

func (f *CallFrame) check() {
	if f.popped {
		fail(PanicStaleFrame, "frame at %d already popped", f.start)
	}
}

// Callee returns the function being called.
func (f *CallFrame) Callee() value.Value { return f.callee }

// NumParameters returns the declared parameter count.
func (f *CallFrame) NumParameters() int { return f.numParameters }

// ArgumentCount returns the number of actual arguments.
func (f *CallFrame) ArgumentCount() int { return f.argc }

// Base returns the first register after the header.
func (f *CallFrame) Base() int { return f.base }

// Popped reports whether the frame was popped.
func (f *CallFrame) Popped() bool { return f.popped }

// This returns the receiver as the callee sees it.
func (f *CallFrame) This() value.Value {
	f.check()
	return f.file.regs[f.paramStart]
}

// Header returns header register slot.
func (f *CallFrame) Header(slot int) value.Value {
	f.check()
	if slot < 0 || slot >= CallFrameHeaderSize {
		fail(PanicBadIndex, "header slot %d out of range", slot)
	}
	return f.file.regs[f.base-CallFrameHeaderSize+slot]
}

func (f *CallFrame) paramRegister(i int) int {
	if i < 0 || i >= f.numParameters {
		fail(PanicBadIndex, "parameter %d out of range [0,%d)", i, f.numParameters)
	}
	return f.paramStart + 1 + i
}

// Param returns declared parameter i.
func (f *CallFrame) Param(i int) value.Value {
	f.check()
	return f.file.regs[f.paramRegister(i)]
}

// SetParam assigns declared parameter i. Arguments views that have not
// been torn off observe the write.
func (f *CallFrame) SetParam(i int, v value.Value) {
	f.check()
	f.file.regs[f.paramRegister(i)] = v
}
