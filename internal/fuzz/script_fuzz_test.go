package fuzztests

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"hiddenclass/internal/scenario"
)

func FuzzScriptParse(f *testing.F) {
	addScriptSeeds(f)
	f.Add([]byte(`set o name "unterminated`))
	f.Add([]byte("keys o /[a-z/ = a\n# only a comment\n\n"))
	f.Fuzz(func(t *testing.T, input []byte) {
		s, err := scenario.Parse("fuzz.hc", bytes.NewReader(clampSeed(input)))
		if err != nil {
			var se *scenario.Error
			if errors.As(err, &se) && se.Line <= 0 {
				t.Fatalf("error without line: %v", err)
			}
			return
		}
		last := 0
		for _, ln := range s.Lines {
			if ln.Cmd == "" || ln.Cmd != strings.ToLower(ln.Cmd) {
				t.Fatalf("line %d: bad command %q", ln.No, ln.Cmd)
			}
			if ln.No <= last {
				t.Fatalf("line numbers not increasing: %d after %d", ln.No, last)
			}
			last = ln.No
		}
	})
}
