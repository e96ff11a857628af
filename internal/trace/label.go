package trace

// Labeled returns a tracer that stamps engine on every event that does not
// already carry a label. Several engines can then share one output.
func Labeled(t Tracer, engine string) Tracer {
	if t == nil || !t.Enabled() || engine == "" {
		return t
	}
	return &labeled{Tracer: t, engine: engine}
}

type labeled struct {
	Tracer
	engine string
}

func (l *labeled) Emit(ev *Event) {
	if ev.Engine == "" {
		ev.Engine = l.engine
	}
	l.Tracer.Emit(ev)
}

// Unwrap returns the tracer events are forwarded to.
func (l *labeled) Unwrap() Tracer { return l.Tracer }
