// Package engine wires one single-threaded runtime instance: key table,
// shape manager, object heap and register file. An Engine is not safe for
// concurrent use; independent engines may run on separate goroutines.
package engine

import (
	"errors"
	"fmt"

	"hiddenclass/internal/config"
	"hiddenclass/internal/frame"
	"hiddenclass/internal/ident"
	"hiddenclass/internal/object"
	"hiddenclass/internal/observ"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

// Option adjusts engine construction.
type Option func(*options)

type options struct {
	debug shape.DebugContext
	name  string
}

// WithDebug installs debug toggles on the shape manager.
func WithDebug(d shape.DebugContext) Option {
	return func(o *options) { o.debug = d }
}

// WithName labels the engine in trace events and statistics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Engine is one runtime instance.
type Engine struct {
	name   string
	cfg    config.Config
	tracer trace.Tracer
	span   *trace.Span

	Keys      *ident.Table
	Shapes    *shape.Manager
	Heap      *object.Heap
	Registers *frame.RegisterFile
	Timer     *observ.Timer

	closed bool
}

// New validates cfg and builds an engine. A nil tracer disables tracing.
func New(cfg config.Config, tracer trace.Tracer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if tracer == nil {
		tracer = trace.Nop
	}
	o := options{name: "engine"}
	for _, opt := range opts {
		opt(&o)
	}
	tracer = trace.Labeled(tracer, o.name)
	keys := ident.NewTable()
	shapes := shape.NewManager(shape.Options{Keys: keys, Config: cfg, Tracer: tracer, Debug: o.debug})
	e := &Engine{
		name:      o.name,
		cfg:       cfg,
		tracer:    tracer,
		Keys:      keys,
		Shapes:    shapes,
		Heap:      object.NewHeap(shapes),
		Registers: frame.NewRegisterFile(cfg.Frames.RegisterFileSize, tracer),
		Timer:     observ.NewTimer(),
	}
	e.span = trace.Begin(tracer, trace.ScopeEngine, e.name, 0)
	return e, nil
}

// Name returns the engine label.
func (e *Engine) Name() string { return e.name }

// Config returns the tunables the engine runs with.
func (e *Engine) Config() config.Config { return e.cfg }

// Tracer returns the engine tracer.
func (e *Engine) Tracer() trace.Tracer { return e.tracer }

// NewPropertyCache returns an inline cache sized by the configuration.
func (e *Engine) NewPropertyCache() *object.PropertyCache {
	return object.NewPropertyCache(e.cfg.Cache.PolymorphicEntries)
}

// Call pushes a frame for fn with this and args and builds its Arguments
// view. The caller pops the frame with Return.
func (e *Engine) Call(fn object.Handle, this value.Value, args []value.Value) (*frame.CallFrame, *frame.Arguments, error) {
	f, err := e.Registers.PushFrame(value.MakeFunction(uint64(fn)), e.Heap.Arity(fn), this, args)
	if err != nil {
		return nil, nil, err
	}
	return f, frame.NewArguments(f, e.Heap), nil
}

// Return pops the innermost frame.
func (e *Engine) Return() { e.Registers.PopFrame() }

// Close pops every frame, frees the heap and reports leaked shapes.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for e.Registers.Depth() > 0 {
		e.Registers.PopFrame()
	}
	e.Heap.Close()
	err := e.Shapes.CheckLeaks()
	detail := "clean"
	if err != nil {
		detail = "leaks"
	}
	e.span.End(detail)
	return errors.Join(err, e.tracer.Flush())
}
