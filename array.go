package statetree

import (
	"slices"
	"sort"

	"github.com/drpcorg/statetree/fracindex"
	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/pkg/errors"
)

// Array is an ordered list. Every element is keyed by a fractional index
// that stays with it for life, however the list is spliced around it.
type Array struct {
	node
	id     ident.ID
	values []any
	byPos  []*Link
	rnd    fracindex.Rand
}

func NewArray(init []any, opts ...Option) *Array {
	o := buildOptions(opts)
	arr := &Array{
		id:     o.ID,
		rnd:    o.Rand,
		values: slices.Clone(init),
		byPos:  make([]*Link, len(init)),
	}
	arr.node.init(arr)
	for i, key := range fracindex.Sequence(len(init)) {
		l := &Link{node: &arr.node, key: key}
		link(l, childNode(init[i]), nil)
		arr.byPos[i] = l
	}
	return arr
}

func (a *Array) ID() ident.ID { return a.id }

func (a *Array) graph() *node { return &a.node }

func (a *Array) Observer() Observer {
	return Observer{s: containerSource{a}}
}

func (a *Array) Len() int { return len(a.values) }

func (a *Array) At(i int) (any, bool) {
	if i < 0 || i >= len(a.values) {
		return nil, false
	}
	return a.values[i], true
}

func (a *Array) KeyAt(i int) (fracindex.Index, bool) {
	if i < 0 || i >= len(a.byPos) {
		return fracindex.Zero, false
	}
	return a.byPos[i].key.(fracindex.Index), true
}

func (a *Array) Keys() []fracindex.Index {
	keys := make([]fracindex.Index, len(a.byPos))
	for i, l := range a.byPos {
		keys[i] = l.key.(fracindex.Index)
	}
	return keys
}

func (a *Array) Values() []any {
	return slices.Clone(a.values)
}

// Position is where key is, or would be inserted.
func (a *Array) Position(key fracindex.Index) int {
	return sort.Search(len(a.byPos), func(i int) bool {
		return fracindex.Compare(a.byPos[i].key.(fracindex.Index), key) >= 0
	})
}

// Lookup finds the element stored under key.
func (a *Array) Lookup(key fracindex.Index) (v any, pos int, ok bool) {
	pos = a.Position(key)
	if pos < len(a.byPos) && fracindex.Compare(a.byPos[pos].key.(fracindex.Index), key) == 0 {
		return a.values[pos], pos, true
	}
	return nil, pos, false
}

func (a *Array) SetAt(i int, v any) error {
	if i < 0 || i >= len(a.values) {
		return errors.Wrapf(statetree_errors.ErrOutOfRange, "index %d of %d", i, len(a.values))
	}
	if isEqual(a.values[i], v) {
		return nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	a.modify(i, v)
	return b.done(outer)
}

// Splice removes count elements at start and puts items in their place,
// like Array.prototype.splice. Replaced slots keep their keys; extra items
// get fresh keys between their neighbours.
func (a *Array) Splice(start, count int, items ...any) (removed []any, err error) {
	if start < 0 || start > len(a.values) {
		return nil, errors.Wrapf(statetree_errors.ErrOutOfRange, "splice start %d of %d", start, len(a.values))
	}
	count = max(0, min(count, len(a.values)-start))
	removed = slices.Clone(a.values[start : start+count])

	b, outer := begin(nil)
	defer b.abort(outer)

	same := min(count, len(items))
	for i := 0; i < same; i++ {
		if !isEqual(a.values[start+i], items[i]) {
			a.modify(start+i, items[i])
		}
	}

	switch {
	case count > len(items):
		from, to := start+same, start+count
		for i := from; i < to; i++ {
			l := a.byPos[i]
			linkApply(l, &Event{Kind: Delete, Key: l.key, Prev: a.values[i], ID: a.id})
			unlink(l)
		}
		a.values = slices.Delete(a.values, from, to)
		a.byPos = slices.Delete(a.byPos, from, to)
	case len(items) > count:
		a.insertAt(start+count, items[count:])
	}

	return removed, b.done(outer)
}

func (a *Array) insertAt(pos int, items []any) {
	var prev, next *fracindex.Index
	var before *Link
	if pos > 0 {
		k := a.byPos[pos-1].key.(fracindex.Index)
		prev = &k
	}
	if pos < len(a.byPos) {
		before = a.byPos[pos]
		k := before.key.(fracindex.Index)
		next = &k
	}
	keys := fracindex.Between(prev, next, len(items), a.rnd)

	links := make([]*Link, len(items))
	for i := range items {
		links[i] = &Link{node: &a.node, key: keys[i]}
	}
	a.values = slices.Insert(a.values, pos, items...)
	a.byPos = slices.Insert(a.byPos, pos, links...)

	for i, l := range links {
		link(l, childNode(items[i]), before)
		linkApply(l, &Event{Kind: Insert, Key: l.key, Value: items[i], ID: a.id})
	}
}

func (a *Array) modify(i int, v any) {
	l := a.byPos[i]
	prev := a.values[i]
	a.values[i] = v
	linkApply(l, &Event{Kind: Modify, Key: l.key, Value: v, Prev: prev, ID: a.id})
	relink(l, childNode(v))
}

func (a *Array) Push(items ...any) error {
	_, err := a.Splice(len(a.values), 0, items...)
	return err
}

func (a *Array) Unshift(items ...any) error {
	_, err := a.Splice(0, 0, items...)
	return err
}

// Pop returns nil on an empty array.
func (a *Array) Pop() (any, error) {
	if len(a.values) == 0 {
		return nil, nil
	}
	removed, err := a.Splice(len(a.values)-1, 1)
	return removed[0], err
}

func (a *Array) Shift() (any, error) {
	if len(a.values) == 0 {
		return nil, nil
	}
	removed, err := a.Splice(0, 1)
	return removed[0], err
}

// Fill overwrites every element with v.
func (a *Array) Fill(v any) error {
	items := make([]any, len(a.values))
	for i := range items {
		items[i] = v
	}
	_, err := a.Splice(0, len(items), items...)
	return err
}

// Put inserts v under an explicit key.
func (a *Array) Put(key fracindex.Index, v any) error {
	_, pos, ok := a.Lookup(key)
	if ok {
		return errors.Wrapf(statetree_errors.ErrAlreadyExists, "array key %s", key)
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	a.put(pos, key, v)
	return b.done(outer)
}

func (a *Array) put(pos int, key fracindex.Index, v any) {
	var before *Link
	if pos < len(a.byPos) {
		before = a.byPos[pos]
	}
	l := &Link{node: &a.node, key: key}
	a.values = slices.Insert(a.values, pos, v)
	a.byPos = slices.Insert(a.byPos, pos, l)
	link(l, childNode(v), before)
	linkApply(l, &Event{Kind: Insert, Key: key, Value: v, ID: a.id})
}

func (a *Array) lookup(key any) (any, bool) {
	k, ok := key.(fracindex.Index)
	if !ok {
		return nil, false
	}
	v, _, ok := a.Lookup(k)
	return v, ok
}

func (a *Array) assign(key any, v any) error {
	k, ok := key.(fracindex.Index)
	if !ok {
		return errors.Wrapf(statetree_errors.ErrBadKey, "array key %T", key)
	}
	_, pos, found := a.Lookup(k)
	if !found {
		return errors.Wrapf(statetree_errors.ErrNotFound, "array key %s", k)
	}
	return a.SetAt(pos, v)
}

func (a *Array) verify(ev *Event) (*Link, error) {
	key, ok := ev.Key.(fracindex.Index)
	if !ok {
		return nil, errors.Wrapf(statetree_errors.ErrBadKey, "array key %T", ev.Key)
	}
	_, pos, found := a.Lookup(key)
	switch ev.Kind {
	case Insert:
		if found {
			return nil, errors.Wrapf(statetree_errors.ErrAlreadyExists, "array key %s", key)
		}
		return nil, nil
	case Modify, Delete:
		if !found {
			return nil, errors.Wrapf(statetree_errors.ErrNotFound, "array key %s", key)
		}
		return a.byPos[pos], nil
	default:
		return nil, errors.Wrapf(statetree_errors.ErrBadEvent, "%s on an array", ev.Kind)
	}
}

// apply looks positions up again: earlier deltas of the same commit may
// have shifted them.
func (a *Array) apply(ev *Event, l *Link) {
	key := ev.Key.(fracindex.Index)
	_, pos, _ := a.Lookup(key)
	switch ev.Kind {
	case Insert:
		a.put(pos, key, ev.Value)
	case Modify:
		a.modify(pos, ev.Value)
	case Delete:
		linkApply(l, &Event{Kind: Delete, Key: key, Prev: a.values[pos], ID: a.id})
		unlink(l)
		a.values = slices.Delete(a.values, pos, pos+1)
		a.byPos = slices.Delete(a.byPos, pos, pos+1)
	}
}
