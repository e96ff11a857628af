package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestGet(t *testing.T) {
	orig := GitCommit
	defer func() { GitCommit = orig }()
	GitCommit = "abc123"
	info := Get()
	if info.Version == "" || info.GitCommit != "abc123" || !strings.HasPrefix(info.GoVersion, "go") {
		t.Fatalf("info = %+v", info)
	}
}

func TestColored(t *testing.T) {
	origVersion, origNoColor := Version, color.NoColor
	defer func() { Version, color.NoColor = origVersion, origNoColor }()
	color.NoColor = true

	cases := map[string]string{
		"0.1.0-dev":            "0.1.0-dev",
		"1.2.3":                "1.2.3",
		"1.2.3-rc.1+build.123": "1.2.3-rc.1+build.123",
		"weird":                "weird",
	}
	for in, want := range cases {
		Version = in
		if got := Colored(); got != want {
			t.Fatalf("Colored(%q) = %q, want %q", in, got, want)
		}
	}
}
