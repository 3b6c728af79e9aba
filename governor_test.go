package statetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var levelNames = []string{"a", "b", "c", "d"}

// buildLevels makes a tree of objects depth links deep, four keys wide.
func buildLevels(depth int, ids Option) *Object {
	init := make(map[string]any, len(levelNames))
	for i, k := range levelNames {
		if depth == 1 {
			init[k] = i
		} else {
			init[k] = buildLevels(depth-1, ids)
		}
	}
	return NewObject(init, ids)
}

func child(t *testing.T, obj *Object, key string) *Object {
	v, ok := obj.Get(key)
	require.True(t, ok, key)
	c, ok := v.(*Object)
	require.True(t, ok, key)
	return c
}

// shake touches every level of a four level tree.
func shake(t *testing.T, root *Object, ids Option) {
	for _, k1 := range levelNames {
		for _, k2 := range levelNames {
			for _, k3 := range levelNames {
				leaves := child(t, child(t, child(t, root, k1), k2), k3)
				for _, k4 := range levelNames {
					require.NoError(t, leaves.Set(k4, k1+k2+k3+k4))
				}
			}
		}
	}
	a := child(t, root, "a")
	sub := buildLevels(2, ids)
	require.NoError(t, a.Set("b", sub))
	require.NoError(t, child(t, sub, "c").Set("d", "fresh"))
	require.NoError(t, root.Delete("d"))
	require.NoError(t, root.Set("e", 1))
}

func TestGovernor_Identities(t *testing.T) {
	nothing := func(Observer) Observer { return Immutable(nil) }
	same := func(o Observer) Observer { return o }

	tests := []struct {
		name        string
		left, right func(o Observer) Observer
		unordered   bool
	}{
		{
			name:  "skip skip shallow",
			left:  func(o Observer) Observer { return o.Skip(1).Skip(1).Shallow(0) },
			right: func(o Observer) Observer { return o.Skip(2).Shallow(0) },
		},
		{
			name:  "skip infinity",
			left:  func(o Observer) Observer { return o.Skip(Infinity) },
			right: same,
		},
		{
			name:  "shallow infinity",
			left:  func(o Observer) Observer { return o.Shallow(Infinity) },
			right: same,
		},
		{
			name:  "skip shallow",
			left:  func(o Observer) Observer { return o.Skip(1).Shallow(0) },
			right: func(o Observer) Observer { return o.Shallow(1) },
		},
		{
			name:  "shallow zero",
			left:  func(o Observer) Observer { return o.Shallow(0) },
			right: nothing,
		},
		{
			name:  "path split",
			left:  func(o Observer) Observer { return o.Path("a", "b") },
			right: func(o Observer) Observer { return o.Path("a").Path("b") },
		},
		{
			name:  "shallow path",
			left:  func(o Observer) Observer { return o.Shallow(1).Path("a") },
			right: func(o Observer) Observer { return o.Path("a").Shallow(0) },
		},
		{
			name:  "ignore commutes",
			left:  func(o Observer) Observer { return o.Ignore("a", "b").Ignore("c") },
			right: func(o Observer) Observer { return o.Ignore("c").Ignore("a", "b") },
		},
		{
			name:  "ignore path",
			left:  func(o Observer) Observer { return o.Ignore("a", "b").Path("a") },
			right: func(o Observer) Observer { return o.Path("a").Ignore("b") },
		},
		{
			name:  "shallow ignore",
			left:  func(o Observer) Observer { return o.Shallow(0).Ignore("a") },
			right: func(o Observer) Observer { return o.Ignore("a").Shallow(0) },
		},
		{
			name:  "ignored path",
			left:  func(o Observer) Observer { return o.Ignore("a").Path("a") },
			right: nothing,
		},
		{
			name:  "shallow ignored path",
			left:  func(o Observer) Observer { return o.Shallow(4).Ignore("a").Path("a") },
			right: nothing,
		},
		{
			name:      "path and ignore",
			left:      func(o Observer) Observer { return All(o.Path("a"), o.Ignore("a")) },
			right:     same,
			unordered: true,
		},
		{
			name:  "memo",
			left:  func(o Observer) Observer { return o.Memo() },
			right: same,
		},
		{
			name:  "memo memo",
			left:  func(o Observer) Observer { return o.Memo().Memo() },
			right: same,
		},
		{
			name: "map unwrap",
			left: func(o Observer) Observer {
				return o.Map(func(v any) any { return v.(Container).Observer() }, nil).Unwrap()
			},
			right: same,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := counterIDs(100)
			root := buildLevels(4, ids)
			var left, right recorder
			defer left.watch(tt.left(root.Observer()))()
			defer right.watch(tt.right(root.Observer()))()

			shake(t, root, ids)

			if tt.unordered {
				assert.ElementsMatch(t, right.paths(), left.paths())
			} else {
				assert.Equal(t, right.paths(), left.paths())
			}
		})
	}
}

func TestGovernor_Depths(t *testing.T) {
	ids := counterIDs(200)
	root := buildLevels(4, ids)
	var shallow, skip, tree recorder
	defer shallow.watch(root.Observer().Shallow(2))()
	defer skip.watch(root.Observer().Skip(3))()
	defer tree.watch(root.Observer().Tree("a").Shallow(0))()

	a := child(t, root, "a")
	require.NoError(t, child(t, child(t, a, "a"), "b").Set("a", "x"))
	require.NoError(t, child(t, child(t, a, "b"), "a").Set("d", "y"))
	require.NoError(t, child(t, root, "b").Set("c", 1))
	require.NoError(t, a.Set("c", 5))

	assert.Equal(t, []string{"b c", "a c"}, shallow.paths())
	assert.Equal(t, []string{"a a b a", "a b a d", "b c", "a c"}, skip.paths())
	assert.Equal(t, []string{"a b a d", "a c"}, tree.paths())
}

func TestGovernor_Panics(t *testing.T) {
	o := Mutable(nil)
	assert.Panics(t, func() { o.Shallow(-1) })
	assert.Panics(t, func() { o.Skip(-1) })
	assert.Panics(t, func() { o.Ignore() })
	assert.PanicsWithValue(t, ErrBrokenChain, func() { o.Skip(1).Get() })
}
