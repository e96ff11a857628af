package stats

import (
	"bufio"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// TextOptions tune WriteText.
type TextOptions struct {
	// Color enables ANSI colors for values.
	Color bool
	// TreeLimit caps the number of transition tree lines; zero hides the tree.
	TreeLimit int
	// EdgeWidth truncates edge labels in the tree.
	EdgeWidth int
}

var headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))

type row struct {
	name  string
	value string
	zero  bool
}

// counterRows lists the exported numeric fields of a counters struct.
func counterRows(v any) []row {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	rows := make([]row, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rv.Field(i)
		if !rt.Field(i).IsExported() {
			continue
		}
		var r row
		r.name = rt.Field(i).Name
		switch f.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			r.value, r.zero = fmt.Sprint(f.Int()), f.Int() == 0
		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			r.value, r.zero = fmt.Sprint(f.Uint()), f.Uint() == 0
		default:
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

type textWriter struct {
	w     *bufio.Writer
	opts  TextOptions
	value *color.Color
	zero  *color.Color
}

func (tw *textWriter) heading(title string) {
	if tw.opts.Color {
		title = headingStyle.Render(title)
	}
	fmt.Fprintf(tw.w, "%s\n", title)
}

func (tw *textWriter) rows(rows []row) {
	width := 0
	for _, r := range rows {
		width = max(width, runewidth.StringWidth(r.name))
	}
	for _, r := range rows {
		val := r.value
		if tw.opts.Color {
			if r.zero {
				val = tw.zero.Sprint(val)
			} else {
				val = tw.value.Sprint(val)
			}
		}
		fmt.Fprintf(tw.w, "  %s  %s\n", runewidth.FillRight(r.name, width), val)
	}
}

// WriteText renders s for a terminal.
func WriteText(w io.Writer, s Snapshot, opts TextOptions) error {
	if opts.EdgeWidth <= 0 {
		opts.EdgeWidth = 40
	}
	tw := &textWriter{
		w:     bufio.NewWriter(w),
		opts:  opts,
		value: color.New(color.FgCyan),
		zero:  color.New(color.FgHiBlack),
	}
	if opts.Color {
		tw.value.EnableColor()
		tw.zero.EnableColor()
	} else {
		tw.value.DisableColor()
		tw.zero.DisableColor()
	}

	title := "statistics"
	if s.Script != "" {
		title += ": " + s.Script
	}
	tw.heading(title)
	tw.heading("live")
	tw.rows(counterRows(s.Live))
	tw.heading("shapes")
	tw.rows(counterRows(s.Shapes))
	tw.heading("objects")
	tw.rows(counterRows(s.Heap))
	tw.heading("frames")
	tw.rows(counterRows(s.Frames))
	if len(s.Timings.Phases) > 0 {
		tw.heading("timings")
		var rows []row
		for _, p := range s.Timings.Phases {
			rows = append(rows, row{name: p.Name, value: fmt.Sprintf("%.3f ms", p.DurationMS)})
		}
		rows = append(rows, row{name: "total", value: fmt.Sprintf("%.3f ms", s.Timings.TotalMS)})
		tw.rows(rows)
	}
	if opts.TreeLimit > 0 && len(s.Tree) > 0 {
		tw.heading("transition tree")
		tw.tree(s.Tree)
	}
	return tw.w.Flush()
}

// tree prints the live shapes as a forest: roots, forks and dictionaries
// start a line at column zero, children are indented under their parent.
func (tw *textWriter) tree(nodes []Node) {
	children := make(map[uint64][]int, len(nodes))
	present := make(map[uint64]bool, len(nodes))
	for _, n := range nodes {
		present[n.Handle] = true
	}
	var roots []int
	for i, n := range nodes {
		if n.Parent == 0 || !present[n.Parent] {
			roots = append(roots, i)
			continue
		}
		children[n.Parent] = append(children[n.Parent], i)
	}
	for _, c := range children {
		sort.Ints(c)
	}

	printed := 0
	var visit func(i, indent int) bool
	visit = func(i, indent int) bool {
		if printed == tw.opts.TreeLimit {
			fmt.Fprintf(tw.w, "  ... %d more\n", len(nodes)-printed)
			return false
		}
		printed++
		n := nodes[i]
		label := n.Edge
		if label == "" {
			label = "<" + n.Type + ">"
		}
		label = runewidth.Truncate(label, tw.opts.EdgeWidth, "...")
		fmt.Fprintf(tw.w, "  %s%s %s", strings.Repeat("  ", indent), n.Name(), label)
		fmt.Fprintf(tw.w, " size=%d/%d refs=%d", n.Size, n.Capacity, n.Refs)
		if n.Dictionary != "" && n.Dictionary != "none" {
			fmt.Fprintf(tw.w, " %s", n.Dictionary)
		}
		fmt.Fprintln(tw.w)
		for _, c := range children[n.Handle] {
			if !visit(c, indent+1) {
				return false
			}
		}
		return true
	}
	for _, r := range roots {
		if !visit(r, 0) {
			return
		}
	}
}
