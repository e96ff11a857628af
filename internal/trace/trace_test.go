package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeEngine, false},
		{LevelError, ScopeEngine, false},
		{LevelPhase, ScopeManager, true},
		{LevelPhase, ScopeTransition, false},
		{LevelDetail, ScopeTransition, true},
		{LevelDetail, ScopeTable, false},
		{LevelDebug, ScopeTable, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestParseLevelAndMode(t *testing.T) {
	if l, err := ParseLevel("DETAIL"); err != nil || l != LevelDetail {
		t.Fatalf("ParseLevel = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
	if m, err := ParseMode("both"); err != nil || m != ModeBoth {
		t.Fatalf("ParseMode = %v, %v", m, err)
	}
	if f, err := ParseFormat("ndjson"); err != nil || f != FormatNDJSON {
		t.Fatalf("ParseFormat = %v, %v", f, err)
	}
}

func TestStreamNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelDetail, Mode: ModeStream, Format: FormatNDJSON, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	Point(tr, ScopeTransition, "add", "miss", "key", "x")
	Point(tr, ScopeTable, "materialize", "")
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if got["name"] != "add" || got["scope"] != "transition" {
		t.Fatalf("unexpected event %v", got)
	}
}

func TestRingWrapAndDump(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d"} {
		Point(r, ScopeTable, name, "")
	}
	events := r.Snapshot()
	if len(events) != 3 || events[0].Name != "b" || events[2].Name != "d" {
		t.Fatalf("unexpected snapshot %+v", events)
	}
	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatText); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.Contains(buf.String(), "• d") {
		t.Fatalf("text dump missing event: %q", buf.String())
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Reset left %d events", r.Len())
	}
}

func TestMultiAndRingLookup(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelPhase, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	span := Begin(tr, ScopeEngine, "run", 0)
	span.WithExtra("script", "a.hc").End("ok")
	ring, ok := Ring(tr)
	if !ok || ring.Len() != 2 {
		t.Fatalf("ring lookup failed: ok=%v", ok)
	}
	if !strings.Contains(buf.String(), "← run (ok) {script=a.hc}") {
		t.Fatalf("stream output %q", buf.String())
	}
}

func TestContext(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("expected Nop from empty context")
	}
	r := NewRingTracer(4, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	if FromContext(ctx) != Tracer(r) {
		t.Fatalf("tracer not propagated")
	}
	if tr, _ := New(Config{Level: LevelOff}); tr.Enabled() {
		t.Fatalf("off level must yield a disabled tracer")
	}
}

func TestLabeledStampsEngine(t *testing.T) {
	r := NewRingTracer(8, LevelPhase)
	tr := Labeled(r, "s1.hc")
	Point(tr, ScopeManager, "create", "#1.0")
	tr.Emit(&Event{Kind: KindPoint, Scope: ScopeManager, Name: "other", Engine: "s2.hc"})
	events := r.Snapshot()
	if len(events) != 2 || events[0].Engine != "s1.hc" || events[1].Engine != "s2.hc" {
		t.Fatalf("unexpected events %+v", events)
	}
	if ring, ok := Ring(tr); !ok || ring != r {
		t.Fatalf("Ring must see through the label")
	}
	if Labeled(Nop, "x") != Nop {
		t.Fatalf("disabled tracers are returned as is")
	}
	text := string(FormatEvent(&events[0], FormatText))
	if !strings.Contains(text, "[s1.hc] • create (#1.0)") {
		t.Fatalf("text %q", text)
	}
}

func TestSpanNesting(t *testing.T) {
	r := NewRingTracer(8, LevelPhase)
	root := Begin(r, ScopeEngine, "run", 0)
	ctx := WithSpan(context.Background(), root)
	if ParentID(ctx) != root.ID() {
		t.Fatalf("ParentID = %d, want %d", ParentID(ctx), root.ID())
	}
	child := Begin(r, ScopeEngine, "script", ParentID(ctx))
	child.WithExtra("lines", "3").End("ok")
	root.End("")

	events := r.Snapshot()
	if len(events) != 4 || events[1].ParentID != root.ID() || events[2].Extra["lines"] != "3" {
		t.Fatalf("unexpected events %+v", events)
	}
	inert := Begin(Nop, ScopeEngine, "ignored", 0)
	if inert.ID() != 0 || inert.End("") != 0 {
		t.Fatalf("spans of a disabled tracer must be inert")
	}
	if WithSpan(ctx, inert) != ctx {
		t.Fatalf("inert span must not change the context")
	}
}

func TestHeartbeatProbe(t *testing.T) {
	r := NewRingTracer(64, LevelPhase)
	h := StartHeartbeat(r, time.Millisecond, func() string { return "1/2 scripts" })
	deadline := time.Now().Add(5 * time.Second)
	for r.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Stop()
	h.Stop()
	events := r.Snapshot()
	if len(events) == 0 {
		t.Fatalf("no heartbeat within the deadline")
	}
	if ev := events[0]; ev.Kind != KindHeartbeat || ev.Detail != "#1 1/2 scripts" {
		t.Fatalf("unexpected beat %+v", ev)
	}
	if StartHeartbeat(Nop, time.Millisecond, nil) != nil {
		t.Fatalf("heartbeat on a disabled tracer")
	}
	var stopped *Heartbeat
	stopped.Stop()
}

func TestRingDumpEngine(t *testing.T) {
	r := NewRingTracer(8, LevelPhase)
	Point(Labeled(r, "a.hc"), ScopeManager, "create", "")
	Point(Labeled(r, "b.hc"), ScopeManager, "leaks", "1 live")
	r.Emit(&Event{Kind: KindHeartbeat, Scope: ScopeEngine, Name: "heartbeat"})
	var buf bytes.Buffer
	if err := r.DumpEngine(&buf, FormatText, "b.hc"); err != nil {
		t.Fatalf("DumpEngine: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "create") || !strings.Contains(out, "leaks") || !strings.Contains(out, "heartbeat") {
		t.Fatalf("dump %q", out)
	}
}
