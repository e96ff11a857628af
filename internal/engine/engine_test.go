package engine

import (
	"errors"
	"testing"

	"hiddenclass/internal/config"
	"hiddenclass/internal/frame"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/value"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Shapes.MinTableSize = 3
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected a validation error")
	}
}

func TestEngineRoundTrip(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelDetail)
	e, err := New(config.Default(), ring, WithName("round-trip"))
	if err != nil {
		t.Fatal(err)
	}
	x := e.Keys.Intern("x")
	o := e.Heap.New(value.Null)
	if err := e.Heap.Put(o, x, value.MakeNumber(1), proptable.None); err != nil {
		t.Fatal(err)
	}
	fn := e.Heap.NewFunction(value.Null, 2)
	_, args, err := e.Call(fn, value.MakeObject(uint64(o)), []value.Value{
		value.MakeNumber(1), value.MakeNumber(2), value.MakeNumber(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if args.NumParameters() != 2 || args.NumArguments() != 3 {
		t.Fatalf("arguments = %d/%d", args.NumParameters(), args.NumArguments())
	}
	if !args.Callee().Same(value.MakeFunction(uint64(fn))) {
		t.Fatalf("callee = %v", args.Callee())
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !args.IsTornOff() {
		t.Fatalf("Close must pop live frames")
	}
	events := ring.Snapshot()
	if len(events) == 0 {
		t.Fatalf("expected trace events in the ring")
	}
	for _, ev := range events {
		if ev.Engine != "round-trip" {
			t.Fatalf("event %s carries engine %q", ev.Name, ev.Engine)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCallOverflow(t *testing.T) {
	cfg := config.Default()
	cfg.Frames.RegisterFileSize = 8
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	fn := e.Heap.NewFunction(value.Null, 0)
	if _, _, err := e.Call(fn, value.Undefined, make([]value.Value, 4)); !errors.Is(err, frame.ErrStackOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}
