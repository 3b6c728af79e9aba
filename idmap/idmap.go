// Package idmap is an open-addressing hash table keyed by ident.ID.
//
// Slots are probed linearly and deletions backward-shift the rest of the
// probe run, so the table never holds tombstones. The table doubles once a
// set would push the load above 80% and halves (down to MinSlots) when the
// load falls under 25%.
package idmap

import (
	"iter"

	"github.com/drpcorg/statetree/ident"
)

const MinSlots = 16

type Element[V any] struct {
	ID    ident.ID
	Value V
}

type Map[V any] struct {
	slots []*Element[V]
	size  int
}

func New[V any]() *Map[V] {
	return &Map[V]{}
}

func (m *Map[V]) Len() int {
	return m.size
}

func (m *Map[V]) mask() uint64 {
	return uint64(len(m.slots) - 1)
}

// find returns the slot holding id or the empty slot ending its probe run.
func (m *Map[V]) find(id ident.ID) int {
	mask := m.mask()
	i := id.Hash() & mask
	for {
		e := m.slots[i]
		if e == nil || e.ID == id {
			return int(i)
		}
		i = (i + 1) & mask
	}
}

func (m *Map[V]) GetElement(id ident.ID) *Element[V] {
	if m.size == 0 {
		return nil
	}
	return m.slots[m.find(id)]
}

func (m *Map[V]) Get(id ident.ID) (v V, ok bool) {
	e := m.GetElement(id)
	if e == nil {
		return v, false
	}
	return e.Value, true
}

func (m *Map[V]) Has(id ident.ID) bool {
	return m.GetElement(id) != nil
}

// SetElement stores e under e.ID, returning the element it displaced.
func (m *Map[V]) SetElement(e *Element[V]) (prev *Element[V]) {
	if len(m.slots) == 0 {
		m.slots = make([]*Element[V], MinSlots)
	}
	i := m.find(e.ID)
	if prev = m.slots[i]; prev != nil {
		m.slots[i] = e
		return prev
	}
	if (m.size+1)*5 > len(m.slots)*4 {
		m.resize(len(m.slots) * 2)
		i = m.find(e.ID)
	}
	m.slots[i] = e
	m.size++
	return nil
}

func (m *Map[V]) Set(id ident.ID, v V) *Element[V] {
	if e := m.GetElement(id); e != nil {
		e.Value = v
		return e
	}
	e := &Element[V]{ID: id, Value: v}
	m.SetElement(e)
	return e
}

func (m *Map[V]) Delete(id ident.ID) bool {
	_, ok := m.DeleteFunc(id, nil)
	return ok
}

// DeleteElement removes e only if e itself (not an equal id) is stored.
func (m *Map[V]) DeleteElement(e *Element[V]) bool {
	_, ok := m.DeleteFunc(e.ID, func(cur *Element[V]) bool { return cur == e })
	return ok
}

// DeleteFunc removes the element under id if match approves of it.
// A nil match approves of anything.
func (m *Map[V]) DeleteFunc(id ident.ID, match func(*Element[V]) bool) (*Element[V], bool) {
	if m.size == 0 {
		return nil, false
	}
	i := m.find(id)
	e := m.slots[i]
	if e == nil || (match != nil && !match(e)) {
		return nil, false
	}
	m.slots[i] = nil
	m.size--
	m.shift(i)
	if len(m.slots) > MinSlots && m.size*4 < len(m.slots) {
		m.resize(len(m.slots) / 2)
	}
	return e, true
}

// shift closes the hole at i by pulling later members of the probe run back.
func (m *Map[V]) shift(hole int) {
	mask := m.mask()
	i := uint64(hole)
	for j := (i + 1) & mask; m.slots[j] != nil; j = (j + 1) & mask {
		home := m.slots[j].ID.Hash() & mask
		// j may move to i unless its home lies cyclically in (i, j]
		if (j-home)&mask >= (j-i)&mask {
			m.slots[i] = m.slots[j]
			m.slots[j] = nil
			i = j
		}
	}
}

func (m *Map[V]) resize(n int) {
	old := m.slots
	m.slots = make([]*Element[V], n)
	for _, e := range old {
		if e != nil {
			m.slots[m.find(e.ID)] = e
		}
	}
}

func (m *Map[V]) Clear() {
	m.slots = nil
	m.size = 0
}

func (m *Map[V]) Elements() iter.Seq[*Element[V]] {
	return func(yield func(*Element[V]) bool) {
		for _, e := range m.slots {
			if e != nil && !yield(e) {
				return
			}
		}
	}
}

func (m *Map[V]) Keys() iter.Seq[ident.ID] {
	return func(yield func(ident.ID) bool) {
		for e := range m.Elements() {
			if !yield(e.ID) {
				return
			}
		}
	}
}

func (m *Map[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for e := range m.Elements() {
			if !yield(e.Value) {
				return
			}
		}
	}
}
