// Package scenario runs small line-oriented scripts against an engine.
//
// Each line holds one command and its arguments separated by blanks.
// Double-quoted arguments may contain blanks; `#` starts a comment outside
// quotes. Commands that name a result use `NAME = SOURCE ...`.
package scenario

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Line is one parsed command.
type Line struct {
	No   int
	Cmd  string
	Args []string
	Text string
}

// Script is a parsed scenario.
type Script struct {
	Name  string
	Lines []Line
}

// Error ties a failure to a script line.
type Error struct {
	Script string
	Line   int
	Text   string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.Script, e.Line, e.Text, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// ParseFile reads and parses the script at path.
func ParseFile(path string) (s *Script, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return Parse(path, f)
}

// Parse reads a script from r.
func Parse(name string, r io.Reader) (*Script, error) {
	s := &Script{Name: name}
	sc := bufio.NewScanner(r)
	no := 0
	for sc.Scan() {
		no++
		text := strings.TrimSpace(sc.Text())
		fields, err := split(text)
		if err != nil {
			return nil, &Error{Script: name, Line: no, Text: text, Err: err}
		}
		if len(fields) == 0 {
			continue
		}
		s.Lines = append(s.Lines, Line{No: no, Cmd: strings.ToLower(fields[0]), Args: fields[1:], Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return s, nil
}

// split breaks a line into fields. Quoted fields keep their quotes so
// value parsing can tell "42" from 42.
func split(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote, escaped, have := false, false, false
	flush := func() {
		if have {
			fields = append(fields, cur.String())
			cur.Reset()
			have = false
		}
	}
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuote = !inQuote
			have = true
		case inQuote:
			cur.WriteRune(r)
		case r == '#':
			flush()
			return fields, nil
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated string")
	}
	flush()
	return fields, nil
}
