package fuzztests

import (
	"testing"

	"hiddenclass/internal/config"
	"hiddenclass/internal/ident"
	"hiddenclass/internal/proptable"
	"hiddenclass/internal/shape"
	"hiddenclass/internal/testkit"
	"hiddenclass/internal/value"
)

const maxOps = 256

// FuzzShapeOperations decodes the input as (op, arg) byte pairs applied to
// a set of held shapes, and checks every live shape after each step.
func FuzzShapeOperations(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, 0, 2, 1, 3})
	f.Add([]byte{0, 0, 2, 1, 0, 4, 6, 2, 4, 0})
	f.Add([]byte{0, 1, 0, 1, 3, 2, 5, 3, 7, 2, 1, 1})
	// re-add a key on a shape whose table moved to a child
	f.Add([]byte{0, 0, 0, 7, 0, 5, 0, 6})
	f.Fuzz(func(t *testing.T, input []byte) {
		cfg := config.Default()
		cfg.Shapes.MaxTransitionLength = 6
		cfg.Shapes.SpecificThrashLimit = 2
		m := shape.NewManager(shape.Options{
			Keys:   ident.NewTable(),
			Config: cfg,
			Debug:  shape.DebugContext{VerifyMaterialize: true},
		})
		var keys [6]ident.Key
		for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
			keys[i] = m.Keys().Intern(name)
		}

		held := []shape.Handle{m.CreateShape(value.Null, shape.TypeInfo{Kind: shape.TypeObject})}
		for i := 0; i+1 < len(input) && i/2 < maxOps; i += 2 {
			op, arg := input[i]%8, int(input[i+1])
			cur := held[arg%len(held)]
			key := keys[arg%len(keys)]
			// replay leaves memoized tables alone so adds see them as they are
			present := func() bool { return m.ReplayPropertyMap(cur).Contains(key) }

			switch op {
			case 0:
				h, _ := m.AddPropertyTransition(cur, key, proptable.None, value.Empty)
				held = append(held, h)
			case 1:
				if present() {
					h, _ := m.RemovePropertyTransition(cur, key)
					held = append(held, h)
				}
			case 2:
				held = append(held, m.ToCacheableDictionaryTransition(cur))
			case 3:
				held = append(held, m.ChangePrototypeTransition(cur, value.MakeObject(uint64(arg))))
			case 4:
				if len(held) > 1 {
					idx := arg % len(held)
					m.Release(held[idx])
					held = append(held[:idx], held[idx+1:]...)
				}
			case 5:
				if present() {
					held = append(held, m.AttributeChangeTransition(cur, key, proptable.DontEnum))
				}
			case 6:
				if m.IsDictionary(cur) && m.RefCount(cur) == 1 {
					m.FlattenDictionaryStructure(cur)
				}
			case 7:
				h, _ := m.AddPropertyTransition(cur, key, proptable.None, value.MakeFunction(uint64(arg)))
				held = append(held, h)
				if m.Offset(h, key) >= 0 && arg%3 == 0 {
					held = append(held, m.DespecifyFunctionTransition(h, key))
				}
			}
			if err := testkit.CheckAllShapes(m); err != nil {
				t.Fatalf("step %d (op %d): %v", i/2, op, err)
			}
		}

		for _, h := range held {
			m.Release(h)
		}
		if err := m.CheckLeaks(); err != nil {
			t.Fatalf("leaks: %v", err)
		}
	})
}
