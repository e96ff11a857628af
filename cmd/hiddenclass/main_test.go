package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hiddenclass/internal/config"
	"hiddenclass/internal/stats"
	"hiddenclass/internal/trace"
	"hiddenclass/internal/ui"
	"hiddenclass/internal/version"
)

const sampleScript = `
shape S0
add S1 = S0 x
add S2 = S1 y
expect S2 y 1
new o
set o x 1
get o x 1
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func testOptions() runOptions {
	return runOptions{cfg: config.Default(), statsFormat: "none", jobs: 2, verify: true, progress: "off"}
}

func TestColorEnabled(t *testing.T) {
	if on, err := colorEnabled("on", false); err != nil || !on {
		t.Fatalf("on = %v, %v", on, err)
	}
	if on, err := colorEnabled("off", true); err != nil || on {
		t.Fatalf("off = %v, %v", on, err)
	}
	if _, err := colorEnabled("sometimes", true); err == nil || !strings.Contains(err.Error(), "auto|on|off") {
		t.Fatalf("expected flag error, got %v", err)
	}
}

func TestExpandScripts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.hc", sampleScript)
	writeScript(t, dir, "a.hc", sampleScript)
	writeScript(t, dir, "notes.txt", "ignored")
	single := writeScript(t, t.TempDir(), "single.hc", sampleScript)

	got, err := expandScripts([]string{dir, single})
	if err != nil {
		t.Fatalf("expandScripts: %v", err)
	}
	want := []string{filepath.Join(dir, "a.hc"), filepath.Join(dir, "b.hc"), single}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := expandScripts([]string{t.TempDir()}); err == nil {
		t.Fatalf("expected error for a directory without scripts")
	}
}

func TestRunScriptsKeepsFailuresPerScript(t *testing.T) {
	dir := t.TempDir()
	good := writeScript(t, dir, "good.hc", sampleScript)
	bad := writeScript(t, dir, "bad.hc", "shape S0\nexpect S0 x 0\n")
	scripts := []string{good, bad}
	results := make([]*scriptResult, len(scripts))

	state := &runState{total: len(scripts)}
	events := make(chan ui.Event, 256)
	if err := runScripts(context.Background(), scripts, results, trace.Nop, testOptions(), state, events); err != nil {
		t.Fatalf("runScripts: %v", err)
	}
	close(events)

	if state.String() != "2/2 scripts" {
		t.Fatalf("state = %s", state)
	}
	if results[0].err != nil || !results[0].ran {
		t.Fatalf("good script: ran=%v err=%v", results[0].ran, results[0].err)
	}
	if results[0].snapshot.Live.Shapes == 0 {
		t.Fatalf("snapshot of good script is empty")
	}
	if results[1].err == nil || !strings.Contains(results[1].err.Error(), "bad.hc:2") {
		t.Fatalf("bad script error = %v", results[1].err)
	}

	final := map[string]ui.Status{}
	for ev := range events {
		final[ev.Script] = ev.Status
	}
	if final[good] != ui.StatusDone || final[bad] != ui.StatusError {
		t.Fatalf("final statuses %v", final)
	}
}

func TestRunScriptsSurvivesInvariantPanic(t *testing.T) {
	dir := t.TempDir()
	good := writeScript(t, dir, "good.hc", sampleScript)
	bad := writeScript(t, dir, "panics.hc", "call A 1 5\nargset A 5000000000 1\n")
	scripts := []string{bad, good}
	results := make([]*scriptResult, len(scripts))
	state := &runState{total: len(scripts)}
	if err := runScripts(context.Background(), scripts, results, trace.Nop, testOptions(), state, nil); err != nil {
		t.Fatalf("runScripts: %v", err)
	}
	if results[1].err != nil || !results[1].ran {
		t.Fatalf("good script: ran=%v err=%v", results[1].ran, results[1].err)
	}
	err := results[0].err
	if err == nil || !strings.Contains(err.Error(), "panics.hc:2") || !strings.Contains(err.Error(), "FR3003") {
		t.Fatalf("panicking script error = %v", err)
	}
}

func TestRunScriptParseError(t *testing.T) {
	path := writeScript(t, t.TempDir(), "broken.hc", `shape "S0`+"\n")
	res := runScript(context.Background(), path, trace.Nop, testOptions(), nil)
	if res.err == nil || res.ran {
		t.Fatalf("expected parse failure, got ran=%v err=%v", res.ran, res.err)
	}
}

func TestWriteStatsMsgpack(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "s.hc", sampleScript)
	res := runScript(context.Background(), script, trace.Nop, testOptions(), nil)
	if res.err != nil {
		t.Fatalf("run: %v", res.err)
	}

	opts := testOptions()
	opts.statsFormat = "msgpack"
	opts.out = filepath.Join(dir, "out")
	if err := writeStats(&bytes.Buffer{}, res, 1, 2, opts); err != nil {
		t.Fatalf("writeStats: %v", err)
	}
	snap, err := stats.ReadFile(filepath.Join(dir, "out", "01-s.hcs"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if snap.Script != script || snap.Live.Shapes != res.snapshot.Live.Shapes {
		t.Fatalf("round trip mismatch: %+v", snap.Live)
	}
}

func TestStatsPathSingle(t *testing.T) {
	got, err := statsPath("stats.hcs", "a/b.hc", 0, 1, ".hcs")
	if err != nil || got != "stats.hcs" {
		t.Fatalf("statsPath = %q, %v", got, err)
	}
}

func TestRenderVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	info := version.Get()
	info.GitCommit = ""
	if err := renderVersionJSON(&buf, info, versionOptions{format: "json", showHash: true}); err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded version.Info
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Version != version.Version || decoded.GitCommit != "unknown" || decoded.BuildDate != "" {
		t.Fatalf("decoded %+v", decoded)
	}
}
