// Package testkit holds invariant checkers shared by package tests and the
// scenario runner's verify mode.
package testkit

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"hiddenclass/internal/object"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
)

// CheckShapeInvariants verifies one shape:
// 1) a materialized table equals a fresh replay of the lineage
// 2) offsets are unique and below the storage size, which fits the capacity
// 3) a linked child sits one level below its parent
func CheckShapeInvariants(m *shape.Manager, h shape.Handle) error {
	if !m.Valid(h) {
		return fmt.Errorf("shape %s is not live", h)
	}
	info := m.Info(h)
	replay := m.ReplayPropertyMap(h)

	if info.Materialized {
		var have []proptable.Entry
		m.Each(h, func(e proptable.Entry) bool {
			have = append(have, e)
			return true
		})
		i := 0
		var mismatch error
		replay.Each(func(e proptable.Entry) bool {
			if i >= len(have) {
				mismatch = fmt.Errorf("shape %s: replay has extra key %d", h, e.Key)
				return false
			}
			got := have[i]
			if got.Key != e.Key || got.Offset != e.Offset || got.Attrs != e.Attrs || !got.Specific.Same(e.Specific) {
				mismatch = fmt.Errorf("shape %s: entry %d is %+v, replay says %+v", h, i, got, e)
				return false
			}
			i++
			return true
		})
		if mismatch != nil {
			return mismatch
		}
		if i != len(have) {
			return fmt.Errorf("shape %s: table has %d entries, replay %d", h, len(have), i)
		}
	}

	if replay.Size() != info.Size {
		return fmt.Errorf("shape %s: size %d, replayed layout addresses %d slots", h, info.Size, replay.Size())
	}
	if info.Size > info.Capacity {
		return fmt.Errorf("shape %s: size %d exceeds capacity %d", h, info.Size, info.Capacity)
	}
	seen := make(map[uint32]bool, replay.Len())
	var errs []error
	replay.Each(func(e proptable.Entry) bool {
		if e.Offset >= info.Size {
			errs = append(errs, fmt.Errorf("shape %s: offset %d out of range %d", h, e.Offset, info.Size))
		}
		if seen[e.Offset] {
			errs = append(errs, fmt.Errorf("shape %s: offset %d used twice", h, e.Offset))
		}
		seen[e.Offset] = true
		return true
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if info.Previous != shape.NoShape {
		if !m.Valid(info.Previous) {
			return fmt.Errorf("shape %s: parent %s is dead", h, info.Previous)
		}
		if pd := m.Depth(info.Previous); info.Depth != pd+1 {
			return fmt.Errorf("shape %s: depth %d under parent depth %d", h, info.Depth, pd)
		}
	}
	return nil
}

// CheckAllShapes runs CheckShapeInvariants over every live shape.
func CheckAllShapes(m *shape.Manager) error {
	var handles []shape.Handle
	m.Walk(func(in shape.Info) bool {
		handles = append(handles, in.Handle)
		return true
	})
	var errs []error
	for _, h := range handles {
		if err := CheckShapeInvariants(m, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckObjectInvariants verifies that every live object's storage covers
// its shape's layout.
func CheckObjectInvariants(heap *object.Heap, objs ...object.Handle) error {
	m := heap.Shapes()
	for _, o := range objs {
		obj := heap.Get(o)
		n, err := safecast.Conv[uint32](len(obj.Storage))
		if err != nil {
			return fmt.Errorf("object %d: storage length overflow: %w", o, err)
		}
		if size := m.StorageSize(obj.Shape); n < size {
			return fmt.Errorf("object %d: storage %d below shape size %d", o, n, size)
		}
	}
	return nil
}
