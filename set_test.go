package statetree

import (
	"slices"
	"testing"

	"github.com/drpcorg/statetree/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Elements(t *testing.T) {
	ids := counterIDs(500)
	a := NewObject(map[string]any{"name": "a"}, ids)
	b := NewObject(map[string]any{"name": "b"}, ids)
	s := NewSetOf([]Identified{b, a}, ids)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(a.ID()))
	var order []ident.ID
	for id := range s.Elements() {
		order = append(order, id)
	}
	assert.Equal(t, []ident.ID{a.ID(), b.ID()}, order)
	keys := slices.SortedFunc(s.Keys(), ident.Compare)
	assert.Equal(t, order, keys)

	var rec recorder
	defer rec.watch(s.Observer())()
	require.NoError(t, a.Set("name", "A"))
	assert.Equal(t, []string{a.ID().String() + " name"}, rec.paths())

	rec.reset()
	ok, err := s.DeleteElement(NewObject(nil, WithID(a.ID())))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteElement(a)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(a.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, a.Set("name", "gone"))
	require.Len(t, rec.events, 1)
	assert.Equal(t, Delete, rec.events[0].Kind)
	assert.Same(t, a, rec.events[0].Prev)
}

func TestSet_SetAndClear(t *testing.T) {
	ids := counterIDs(501)
	s := NewSet(nil, ids)
	id := ident.NewCounter(9).Next()
	var rec recorder
	defer rec.watch(s.Observer())()

	require.NoError(t, s.Set(id, 1))
	require.NoError(t, s.Set(id, 1))
	require.NoError(t, s.Set(id, 2))
	assert.ErrorIs(t, s.Set(ident.Nil, 1), ErrBadID)
	v, ok := s.Get(id)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	obj := NewObject(nil, ids)
	require.NoError(t, s.SetElement(obj))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	assert.Zero(t, s.Len())

	kinds := make([]Kind, len(rec.events))
	for i, ev := range rec.events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []Kind{Insert, Modify, Insert, Delete, Delete}, kinds)
	assert.Len(t, rec.commits, 4)
}

func TestSet_AssignThroughPath(t *testing.T) {
	ids := counterIDs(502)
	id := ident.NewCounter(10).Next()
	s := NewSet(map[ident.ID]any{id: "x"}, ids)
	p := s.Observer().Path(id)
	assert.Equal(t, "x", p.Get())
	require.NoError(t, p.Set("y"))
	v, _ := s.Get(id)
	assert.Equal(t, "y", v)
	assert.ErrorIs(t, s.Observer().Path("nope").Set(1), ErrBadKey)
}
