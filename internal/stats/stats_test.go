package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/pprof/profile"

	"hiddenclass/internal/config"
	"hiddenclass/internal/engine"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/value"
)

func sampleSnapshot(t *testing.T) Snapshot {
	t.Helper()
	e, err := engine.New(config.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	for _, names := range [][]string{{"x", "y"}, {"x", "z"}, {"x", "y"}} {
		o := e.Heap.New(value.Null)
		for _, n := range names {
			if err := e.Heap.Put(o, e.Keys.Intern(n), value.MakeNumber(1), proptable.None); err != nil {
				t.Fatal(err)
			}
		}
	}
	d := e.Heap.New(value.Null)
	if err := e.Heap.Put(d, e.Keys.Intern("gone"), value.Null, proptable.None); err != nil {
		t.Fatal(err)
	}
	if err := e.Heap.Delete(d, e.Keys.Intern("gone")); err != nil {
		t.Fatal(err)
	}
	idx := e.Timer.Begin("execute")
	e.Timer.End(idx, "")
	return Capture(e, "sample.hc")
}

func TestCapture(t *testing.T) {
	s := sampleSnapshot(t)
	if s.Schema != SchemaVersion || s.Script != "sample.hc" {
		t.Fatalf("header = %q %q", s.Schema, s.Script)
	}
	// root, x, x->y, x->z and the removal dictionary
	if s.Live.Shapes != len(s.Tree) || s.Live.Shapes < 5 {
		t.Fatalf("live shapes = %d, tree = %d", s.Live.Shapes, len(s.Tree))
	}
	if s.Live.Dictionaries != 1 || s.Live.Objects != 4 || s.Live.MaxDepth != 2 {
		t.Fatalf("live = %+v", s.Live)
	}
	if s.Shapes.TransitionHits != 3 {
		t.Fatalf("transition hits = %d", s.Shapes.TransitionHits)
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	s := sampleSnapshot(t)
	path := filepath.Join(t.TempDir(), "snap.msgpack")
	if err := WriteFile(path, s); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Live != s.Live || got.Shapes != s.Shapes || len(got.Tree) != len(s.Tree) || got.Config != s.Config {
		t.Fatalf("round trip changed the snapshot:\n%+v\n%+v", got.Live, s.Live)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestDecodeRejectsFutureSchema(t *testing.T) {
	s := sampleSnapshot(t)
	s.Schema = "2.0.0"
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(&buf); err == nil || !strings.Contains(err.Error(), "incompatible") {
		t.Fatalf("expected an incompatible schema error, got %v", err)
	}
	if err := CheckSchema("1.4.2"); err != nil {
		t.Fatalf("same major must be accepted: %v", err)
	}
	if err := CheckSchema("not-a-version"); err == nil {
		t.Fatalf("garbage schema accepted")
	}
}

func TestWriteText(t *testing.T) {
	s := sampleSnapshot(t)
	var buf bytes.Buffer
	if err := WriteText(&buf, s, TextOptions{TreeLimit: 3}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"statistics: sample.hc", "TransitionHits", "transition tree", "more", "execute"} {
		if !strings.Contains(out, want) {
			t.Fatalf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colors rendered with Color off:\n%s", out)
	}
}

func TestProfile(t *testing.T) {
	s := sampleSnapshot(t)
	var buf bytes.Buffer
	if err := WriteProfile(&buf, s); err != nil {
		t.Fatal(err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Sample) != len(s.Tree) {
		t.Fatalf("samples = %d, want %d", len(p.Sample), len(s.Tree))
	}
	deepest := 0
	for _, smp := range p.Sample {
		deepest = max(deepest, len(smp.Location))
	}
	// root -> x -> y
	if deepest != 3 {
		t.Fatalf("deepest stack = %d", deepest)
	}
}
