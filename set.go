package statetree

import (
	"iter"
	"slices"

	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/idmap"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/pkg/errors"
)

// Set is a container keyed by ids, usually the ids of the values it holds.
type Set struct {
	node
	id    ident.ID
	elems idmap.Map[*setElem]
}

type setElem struct {
	value any
	link  *Link
}

// NewSet creates a set holding init, linked in id order.
func NewSet(init map[ident.ID]any, opts ...Option) *Set {
	o := buildOptions(opts)
	s := &Set{id: o.ID}
	s.node.init(s)

	ids := make([]ident.ID, 0, len(init))
	for id := range init {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, ident.Compare)
	for _, id := range ids {
		l := &Link{node: &s.node, key: id}
		link(l, childNode(init[id]), nil)
		s.elems.Set(id, &setElem{value: init[id], link: l})
	}
	return s
}

// NewSetOf creates a set of values keyed by their own ids.
func NewSetOf(elems []Identified, opts ...Option) *Set {
	init := make(map[ident.ID]any, len(elems))
	for _, e := range elems {
		init[e.ID()] = e
	}
	return NewSet(init, opts...)
}

func (s *Set) ID() ident.ID { return s.id }

func (s *Set) graph() *node { return &s.node }

func (s *Set) Observer() Observer {
	return Observer{s: containerSource{s}}
}

func (s *Set) Len() int { return s.elems.Len() }

func (s *Set) Has(id ident.ID) bool { return s.elems.Has(id) }

func (s *Set) Get(id ident.ID) (any, bool) {
	e, ok := s.elems.Get(id)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Elements yields in link order.
func (s *Set) Elements() iter.Seq2[ident.ID, any] {
	return func(yield func(ident.ID, any) bool) {
		for l := s.node.links.next; l != &s.node.links; l = l.next {
			id := l.key.(ident.ID)
			e, _ := s.elems.Get(id)
			if !yield(id, e.value) {
				return
			}
		}
	}
}

func (s *Set) Keys() iter.Seq[ident.ID] {
	return s.elems.Keys()
}

func (s *Set) Set(id ident.ID, v any) error {
	if id.IsNil() {
		return errors.Wrap(statetree_errors.ErrBadID, "set element id")
	}
	e, ok := s.elems.Get(id)
	if ok && isEqual(e.value, v) {
		return nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	if ok {
		s.modify(e, v)
	} else {
		s.insert(id, v)
	}
	return b.done(outer)
}

func (s *Set) SetElement(v Identified) error {
	return s.Set(v.ID(), v)
}

func (s *Set) Delete(id ident.ID) (bool, error) {
	e, ok := s.elems.Get(id)
	if !ok {
		return false, nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	s.remove(e)
	return true, b.done(outer)
}

// DeleteElement removes v only if it is what the set holds under its id.
func (s *Set) DeleteElement(v Identified) (bool, error) {
	e, ok := s.elems.Get(v.ID())
	if !ok || !isEqual(e.value, v) {
		return false, nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	s.remove(e)
	return true, b.done(outer)
}

func (s *Set) Clear() error {
	if s.elems.Len() == 0 {
		return nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	for l := s.node.links.next; l != &s.node.links; {
		next := l.next
		e, _ := s.elems.Get(l.key.(ident.ID))
		s.remove(e)
		l = next
	}
	return b.done(outer)
}

func (s *Set) insert(id ident.ID, v any) {
	l := &Link{node: &s.node, key: id}
	s.elems.Set(id, &setElem{value: v, link: l})
	link(l, childNode(v), nil)
	linkApply(l, &Event{Kind: Insert, Key: id, Value: v, ID: s.id})
}

func (s *Set) modify(e *setElem, v any) {
	prev := e.value
	e.value = v
	linkApply(e.link, &Event{Kind: Modify, Key: e.link.key, Value: v, Prev: prev, ID: s.id})
	relink(e.link, childNode(v))
}

func (s *Set) remove(e *setElem) {
	id := e.link.key.(ident.ID)
	s.elems.Delete(id)
	linkApply(e.link, &Event{Kind: Delete, Key: id, Prev: e.value, ID: s.id})
	unlink(e.link)
}

func (s *Set) lookup(key any) (any, bool) {
	id, ok := key.(ident.ID)
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

func (s *Set) assign(key any, v any) error {
	id, ok := key.(ident.ID)
	if !ok {
		return errors.Wrapf(statetree_errors.ErrBadKey, "set key %T", key)
	}
	return s.Set(id, v)
}

func (s *Set) verify(ev *Event) (*Link, error) {
	id, ok := ev.Key.(ident.ID)
	if !ok || id.IsNil() {
		return nil, errors.Wrapf(statetree_errors.ErrBadKey, "set key %v", ev.Key)
	}
	e, found := s.elems.Get(id)
	switch ev.Kind {
	case Insert:
		if found {
			return nil, errors.Wrapf(statetree_errors.ErrAlreadyExists, "set element %s", id)
		}
		return nil, nil
	case Modify, Delete:
		if !found {
			return nil, errors.Wrapf(statetree_errors.ErrNotFound, "set element %s", id)
		}
		return e.link, nil
	default:
		return nil, errors.Wrapf(statetree_errors.ErrBadEvent, "%s on a set", ev.Kind)
	}
}

func (s *Set) apply(ev *Event, l *Link) {
	id := ev.Key.(ident.ID)
	switch ev.Kind {
	case Insert:
		s.insert(id, ev.Value)
	case Modify:
		e, _ := s.elems.Get(id)
		s.modify(e, ev.Value)
	case Delete:
		e, _ := s.elems.Get(id)
		s.remove(e)
	}
}
