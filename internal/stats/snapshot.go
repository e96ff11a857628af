// Package stats captures a statistics snapshot of an engine and renders it
// as text, msgpack or a pprof profile of the live transition tree.
package stats

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"hiddenclass/internal/config"
	"hiddenclass/internal/engine"
	"hiddenclass/internal/frame"
	"hiddenclass/internal/object"
	"hiddenclass/internal/observ"
	"hiddenclass/internal/shape"
)

// SchemaVersion is the snapshot format version. Readers accept any
// snapshot with the same major version.
const SchemaVersion = "1.0.0"

// Snapshot is everything a statistics dump shows.
type Snapshot struct {
	Schema  string          `msgpack:"schema"`
	Script  string          `msgpack:"script"`
	Config  config.Config   `msgpack:"config"`
	Shapes  shape.Counters  `msgpack:"shapes"`
	Heap    object.Counters `msgpack:"heap"`
	Frames  frame.Counters  `msgpack:"frames"`
	Live    Live            `msgpack:"live"`
	Tree    []Node          `msgpack:"tree"`
	Timings observ.Report   `msgpack:"timings"`
}

// Live summarizes what is alive at capture time.
type Live struct {
	Shapes            int `msgpack:"shapes"`
	Objects           int `msgpack:"objects"`
	Keys              int `msgpack:"keys"`
	Dictionaries      int `msgpack:"dictionaries"`
	Materialized      int `msgpack:"materialized"`
	MaxDepth          int `msgpack:"max_depth"`
	RegisterHighWater int `msgpack:"register_high_water"`
}

// Node is one live shape.
type Node struct {
	Handle       uint64 `msgpack:"handle"`
	Parent       uint64 `msgpack:"parent"`
	Edge         string `msgpack:"edge"`
	Type         string `msgpack:"type"`
	Depth        int    `msgpack:"depth"`
	Size         uint32 `msgpack:"size"`
	Capacity     uint32 `msgpack:"capacity"`
	Refs         int    `msgpack:"refs"`
	Dictionary   string `msgpack:"dictionary"`
	State        string `msgpack:"state"`
	Materialized bool   `msgpack:"materialized"`
	Transitions  int    `msgpack:"transitions"`
}

// Name returns the handle in the manager's notation.
func (n Node) Name() string { return shape.Handle(n.Handle).String() }

// Capture snapshots e. It must run before the engine is closed.
func Capture(e *engine.Engine, script string) Snapshot {
	s := Snapshot{
		Schema:  SchemaVersion,
		Script:  script,
		Config:  e.Config(),
		Shapes:  e.Shapes.Counters(),
		Heap:    e.Heap.Counters(),
		Frames:  e.Registers.Counters(),
		Timings: e.Timer.Report(),
	}
	s.Live.Objects = e.Heap.Live()
	s.Live.Keys = e.Keys.Len()
	s.Live.RegisterHighWater = e.Registers.HighWater()
	e.Shapes.Walk(func(in shape.Info) bool {
		s.Tree = append(s.Tree, Node{
			Handle:       uint64(in.Handle),
			Parent:       uint64(in.Previous),
			Edge:         in.Edge,
			Type:         in.Type.String(),
			Depth:        in.Depth,
			Size:         in.Size,
			Capacity:     in.Capacity,
			Refs:         in.RefCount,
			Dictionary:   in.Dictionary.String(),
			State:        in.State.String(),
			Materialized: in.Materialized,
			Transitions:  in.Transitions,
		})
		s.Live.Shapes++
		if in.Dictionary != shape.NotDictionary {
			s.Live.Dictionaries++
		}
		if in.Materialized {
			s.Live.Materialized++
		}
		s.Live.MaxDepth = max(s.Live.MaxDepth, in.Depth)
		return true
	})
	return s
}

// CheckSchema reports whether a snapshot written with schema can be read.
func CheckSchema(schema string) error {
	have, err := semver.NewVersion(schema)
	if err != nil {
		return fmt.Errorf("snapshot schema %q: %w", schema, err)
	}
	want := semver.MustParse(SchemaVersion)
	c, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0", want.Major()))
	if err != nil {
		return err
	}
	if !c.Check(have) {
		return fmt.Errorf("snapshot schema %s is incompatible with %s", have, want)
	}
	return nil
}
