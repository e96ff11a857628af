package stats

import (
	"io"

	"github.com/google/pprof/profile"
)

// Profile converts the transition tree of s into a pprof profile. Each live
// shape is one sample whose stack is its lineage, leaf first, so tools can
// aggregate by edge. Sample values are shape count, storage slots and
// reference count.
func Profile(s Snapshot) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "shapes", Unit: "count"},
			{Type: "slots", Unit: "count"},
			{Type: "refs", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "shapes", Unit: "count"},
		Period:     1,
	}
	byHandle := make(map[uint64]int, len(s.Tree))
	for i, n := range s.Tree {
		byHandle[n.Handle] = i
	}
	locs := make([]*profile.Location, len(s.Tree))
	for i, n := range s.Tree {
		name := n.Edge
		if name == "" {
			name = "<" + n.Type + " " + n.Dictionary + ">"
		}
		fn := &profile.Function{
			ID:         uint64(i + 1),
			Name:       name,
			SystemName: n.Name(),
			Filename:   s.Script,
		}
		p.Function = append(p.Function, fn)
		locs[i] = &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn, Line: int64(n.Depth)}},
		}
		p.Location = append(p.Location, locs[i])
	}
	for i, n := range s.Tree {
		var stack []*profile.Location
		for cur, seen := i, 0; seen <= len(s.Tree); seen++ {
			stack = append(stack, locs[cur])
			parent, ok := byHandle[s.Tree[cur].Parent]
			if s.Tree[cur].Parent == 0 || !ok {
				break
			}
			cur = parent
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{1, int64(n.Size), int64(n.Refs)},
			Label: map[string][]string{
				"dictionary": {n.Dictionary},
				"state":      {n.State},
			},
		})
	}
	return p
}

// WriteProfile writes the gzipped pprof encoding of s.
func WriteProfile(w io.Writer, s Snapshot) error {
	return Profile(s).Write(w)
}
