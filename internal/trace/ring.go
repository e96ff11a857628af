package trace

import (
	"io"
	"sync"
)

// RingTracer keeps the most recent events in memory for a dump after a
// failed script.
type RingTracer struct {
	mu     sync.RWMutex
	buf    []Event
	next   int
	filled bool
	level  Level
}

// NewRingTracer returns a ring holding up to capacity events.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{buf: make([]Event, capacity), level: level}
}

// Emit stores a copy of ev, overwriting the oldest event when full.
func (t *RingTracer) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stored := *ev
	stored.Seq = NextSeq()

	t.mu.Lock()
	t.buf[t.next] = stored
	t.next++
	if t.next == len(t.buf) {
		t.next = 0
		t.filled = true
	}
	t.mu.Unlock()
}

// Snapshot returns the stored events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	return t.Events("")
}

// Events returns the stored events of one engine, oldest first. An empty
// engine selects everything. Heartbeats are always included.
func (t *RingTracer) Events(engine string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ordered := t.buf[:t.next]
	if t.filled {
		ordered = append(append(make([]Event, 0, len(t.buf)), t.buf[t.next:]...), t.buf[:t.next]...)
	}
	out := make([]Event, 0, len(ordered))
	for _, ev := range ordered {
		if engine == "" || ev.Engine == engine || ev.Kind == KindHeartbeat {
			out = append(out, ev)
		}
	}
	return out
}

// Dump writes every stored event to w.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	return t.DumpEngine(w, format, "")
}

// DumpEngine writes the stored events of one engine to w.
func (t *RingTracer) DumpEngine(w io.Writer, format Format, engine string) error {
	for _, ev := range t.Events(engine) {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored events.
func (t *RingTracer) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.filled {
		return len(t.buf)
	}
	return t.next
}

// Reset drops all stored events.
func (t *RingTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = 0
	t.filled = false
	clear(t.buf)
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
