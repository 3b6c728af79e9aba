package statetree

import (
	"slices"

	"github.com/drpcorg/statetree/statetree_errors"
)

// Observer is a read/write/subscribe view. Views are values: every
// transform returns a new Observer and leaves the receiver alone.
// The zero Observer reads nil and cannot be written.
type Observer struct {
	s source
}

type source interface {
	get() any
	set(v any) error
	register(s subscriber) func()
	// broken sources cannot be read at all
	broken() bool
	immutable() bool
}

// Null never changes and reads nil.
var Null = Observer{}

func (o Observer) src() source {
	if o.s == nil {
		return constSource{}
	}
	return o.s
}

// Get panics with ErrBrokenChain on views that lost their value, such as
// Skip and Tree.
func (o Observer) Get() any {
	s := o.src()
	if s.broken() {
		panic(statetree_errors.ErrBrokenChain)
	}
	return s.get()
}

func (o Observer) Set(v any) error {
	return setOn(o.src(), v)
}

func (o Observer) IsImmutable() bool {
	return o.src().immutable()
}

func (o Observer) Broken() bool {
	return o.src().broken()
}

// value reads like Get but yields nil on a broken chain.
func (o Observer) value() any {
	return valueOf(o.src())
}

func valueOf(s source) any {
	if s.broken() {
		return nil
	}
	return s.get()
}

func setOn(s source, v any) error {
	if s.immutable() {
		return statetree_errors.ErrImmutable
	}
	return s.set(v)
}

func once(f func()) func() {
	done := false
	return func() {
		if !done {
			done = true
			f()
		}
	}
}

// WatchCommit calls fn once per batch with every event that reached this
// view. Keys starting with an underscore are not followed.
func (o Observer) WatchCommit(fn Listener) func() {
	return o.src().register(subscriber{listener: fn, governor: watchGovernor})
}

// Watch calls fn for each event. The first error is returned to the
// mutator; the remaining events are still delivered.
func (o Observer) Watch(fn func(ev *Event) error) func() {
	return o.WatchCommit(func(c Commit, _ any) error {
		var first error
		for _, ev := range c {
			if err := fn(ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// Effect runs fn now and after every change of the view's own value.
// Whatever fn returns is called before the next run and on dispose.
func (o Observer) Effect(fn func(v any, c Commit) func()) func() {
	var cleanup func()
	run := func(c Commit) {
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
		cleanup = fn(o.value(), c)
	}
	dispose := o.src().register(subscriber{
		listener: func(c Commit, _ any) error {
			run(c)
			return nil
		},
		governor: Block,
	})
	run(nil)
	return once(func() {
		dispose()
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
	})
}

// Defined yields the first value satisfying pred, which defaults to
// non-nil, and closes.
func (o Observer) Defined(pred func(v any) bool) <-chan any {
	if pred == nil {
		pred = func(v any) bool { return v != nil }
	}
	ch := make(chan any, 1)
	if v := o.value(); pred(v) {
		ch <- v
		close(ch)
		return ch
	}
	var dispose func()
	done := false
	dispose = o.src().register(subscriber{
		listener: func(Commit, any) error {
			if v := o.value(); !done && pred(v) {
				done = true
				ch <- v
				close(ch)
				dispose()
			}
			return nil
		},
		governor: Block,
	})
	return ch
}

type constSource struct {
	value any
}

func (c constSource) get() any                   { return c.value }
func (c constSource) set(any) error              { return statetree_errors.ErrImmutable }
func (c constSource) register(subscriber) func() { return func() {} }
func (c constSource) broken() bool               { return false }
func (c constSource) immutable() bool            { return true }

type mutableSource struct {
	value any
	regs  []*registration
}

// Mutable holds a plain value. Set emits one Synthetic event when the
// value changes. A Mutable of an Observer is that Observer.
func Mutable(v any) Observer {
	if o, ok := v.(Observer); ok {
		return o
	}
	return Observer{s: &mutableSource{value: v}}
}

func (m *mutableSource) get() any { return m.value }

func (m *mutableSource) set(v any) error {
	if isEqual(m.value, v) {
		return nil
	}
	prev := m.value
	m.value = v
	b, outer := begin(nil)
	defer b.abort(outer)
	ev := &Event{Kind: Synthetic, Value: v, Prev: prev, Time: b.time, Args: b.args}
	for _, r := range slices.Clone(m.regs) {
		b.enqueue(r, ev)
	}
	return b.done(outer)
}

func (m *mutableSource) register(s subscriber) func() {
	r := &registration{subscriber: s}
	m.regs = append(m.regs, r)
	return r.disposer(func() {
		m.regs = slices.DeleteFunc(m.regs, func(x *registration) bool { return x == r })
	})
}

func (m *mutableSource) broken() bool    { return false }
func (m *mutableSource) immutable() bool { return false }

type immutableSource struct {
	parent source
}

// Immutable wraps a value, or an Observer, so that it cannot be set.
func Immutable(v any) Observer {
	if o, ok := v.(Observer); ok {
		return Observer{s: immutableSource{parent: o.src()}}
	}
	return Observer{s: constSource{value: v}}
}

func (i immutableSource) get() any                     { return i.parent.get() }
func (i immutableSource) set(any) error                { return statetree_errors.ErrImmutable }
func (i immutableSource) register(s subscriber) func() { return i.parent.register(s) }
func (i immutableSource) broken() bool                 { return i.parent.broken() }
func (i immutableSource) immutable() bool              { return true }

// containerSource reads as the container itself and follows its links.
type containerSource struct {
	c Container
}

func (c containerSource) get() any        { return c.c }
func (c containerSource) set(any) error   { return statetree_errors.ErrImmutable }
func (c containerSource) broken() bool    { return false }
func (c containerSource) immutable() bool { return true }

func (c containerSource) register(s subscriber) func() {
	return register(c.c.graph(), s)
}
