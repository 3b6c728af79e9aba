package statetree

import (
	"fmt"

	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/pkg/errors"
)

// chained forwards everything to the parent; transforms override what
// they change.
type chained struct {
	parent source
}

func (c chained) get() any                     { return c.parent.get() }
func (c chained) set(v any) error              { return setOn(c.parent, v) }
func (c chained) register(s subscriber) func() { return c.parent.register(s) }
func (c chained) broken() bool                 { return c.parent.broken() }
func (c chained) immutable() bool              { return c.parent.immutable() }

type mapSource struct {
	chained
	forward, backward func(any) any
}

// Map derives a value with forward. Listeners fire only when the derived
// value changes. Without backward the view is read-only.
func (o Observer) Map(forward, backward func(any) any) Observer {
	return Observer{s: &mapSource{chained: chained{o.src()}, forward: forward, backward: backward}}
}

func (m *mapSource) get() any {
	return m.forward(valueOf(m.parent))
}

func (m *mapSource) set(v any) error {
	return setOn(m.parent, m.backward(v))
}

func (m *mapSource) broken() bool    { return false }
func (m *mapSource) immutable() bool { return m.backward == nil }

func (m *mapSource) register(s subscriber) func() {
	cache := m.get()
	inner := s
	inner.listener = func(c Commit, args any) error {
		v := m.get()
		if isEqual(v, cache) {
			return nil
		}
		cache = v
		return s.listener(c, args)
	}
	return m.parent.register(inner)
}

type unwrapSource struct {
	chained
}

// Unwrap flattens a view whose value is itself an Observer.
func (o Observer) Unwrap() Observer {
	return Observer{s: unwrapSource{chained{o.src()}}}
}

func (u unwrapSource) get() any {
	v := u.parent.get()
	if inner, ok := v.(Observer); ok {
		return inner.Get()
	}
	return v
}

func (u unwrapSource) set(v any) error {
	if inner, ok := valueOf(u.parent).(Observer); ok {
		return inner.Set(v)
	}
	return setOn(u.parent, v)
}

func (u unwrapSource) immutable() bool { return false }

func (u unwrapSource) register(s subscriber) func() {
	var inner func()
	follow := func() {
		if inner != nil {
			inner()
			inner = nil
		}
		if o, ok := valueOf(u.parent).(Observer); ok {
			inner = o.src().register(s)
		}
	}
	outer := s
	outer.listener = func(c Commit, args any) error {
		follow()
		return s.listener(c, args)
	}
	dispose := u.parent.register(outer)
	follow()
	return once(func() {
		dispose()
		if inner != nil {
			inner()
		}
	})
}

type setterSource struct {
	chained
	fn func(v any, set func(any) error) error
}

// Setter routes writes through fn, which may transform, split or refuse
// them.
func (o Observer) Setter(fn func(v any, set func(any) error) error) Observer {
	return Observer{s: setterSource{chained: chained{o.src()}, fn: fn}}
}

func (s setterSource) set(v any) error {
	return s.fn(v, func(x any) error { return setOn(s.parent, x) })
}

func (s setterSource) immutable() bool { return false }

type lifetimeSource struct {
	chained
	setup     func() func()
	count     int
	teardown  func()
	reentrant bool
}

// Lifetime runs setup when the first listener arrives and its result when
// the last one leaves.
func (o Observer) Lifetime(setup func() func()) Observer {
	return Observer{s: &lifetimeSource{chained: chained{o.src()}, setup: setup}}
}

func (l *lifetimeSource) register(s subscriber) func() {
	if l.reentrant {
		return l.parent.register(s)
	}
	if l.count == 0 {
		l.reentrant = true
		func() {
			defer func() { l.reentrant = false }()
			l.teardown = l.setup()
		}()
	}
	l.count++
	dispose := l.parent.register(s)
	return once(func() {
		dispose()
		l.count--
		if l.count == 0 && l.teardown != nil {
			t := l.teardown
			l.teardown = nil
			t()
		}
	})
}

// governed narrows the parent's registrations with extra governors. Cut
// views lose their value: they only exist to listen.
type governed struct {
	chained
	compose func(Governor) Governor
	cut     bool
}

func (g governed) register(s subscriber) func() {
	s.governor = g.compose(s.governor)
	return g.parent.register(s)
}

func (g governed) broken() bool    { return g.cut || g.parent.broken() }
func (g governed) immutable() bool { return g.cut || g.parent.immutable() }

// Shallow stops listeners level links below the view. Shallow(0) hears
// nothing at all.
func (o Observer) Shallow(level int) Observer {
	if level < 0 {
		panic(fmt.Sprintf("statetree: shallow level %d", level))
	}
	sg := shallowGovernor(level)
	return Observer{s: governed{
		chained: chained{o.src()},
		compose: func(g Governor) Governor { return And(sg, g) },
	}}
}

// Skip hides the first level links from listeners' governors, which take
// over below them. The view itself cannot be read.
func (o Observer) Skip(level int) Observer {
	if level < 0 {
		panic(fmt.Sprintf("statetree: skip level %d", level))
	}
	sg := skipGovernor(level)
	return Observer{s: governed{
		chained: chained{o.src()},
		compose: func(g Governor) Governor { return Chain(sg, g) },
		cut:     true,
	}}
}

// Tree follows only links keyed name, recursively, and hands every other
// link to the listeners' governors.
func (o Observer) Tree(name any) Observer {
	tg := treeGovernor(name)
	return Observer{s: governed{
		chained: chained{o.src()},
		compose: func(g Governor) Governor { return Chain(tg, g) },
		cut:     true,
	}}
}

// Ignore hides the subtree at path from listeners.
func (o Observer) Ignore(path ...any) Observer {
	if len(path) == 0 {
		panic("statetree: ignore needs a path")
	}
	ig := ignoreGovernor(path)
	return Observer{s: governed{
		chained: chained{o.src()},
		compose: func(g Governor) Governor { return And(ig, g) },
	}}
}

type pathSource struct {
	governed
	keys []any
}

// Path descends through containers by key. A missing step reads nil.
func (o Observer) Path(keys ...any) Observer {
	if len(keys) == 0 {
		return o
	}
	pg := pathGovernor(keys)
	return Observer{s: pathSource{
		governed: governed{
			chained: chained{o.src()},
			compose: func(g Governor) Governor { return Chain(pg, g) },
		},
		keys: keys,
	}}
}

func walk(v any, keys []any) any {
	for _, k := range keys {
		c, ok := v.(Container)
		if !ok || c == nil {
			return nil
		}
		v, _ = c.lookup(k)
	}
	return v
}

func (p pathSource) get() any {
	return walk(p.parent.get(), p.keys)
}

func (p pathSource) set(v any) error {
	return setPath(p.parent, p.keys, v)
}

func setPath(parent source, keys []any, v any) error {
	if len(keys) == 0 {
		return setOn(parent, v)
	}
	last := len(keys) - 1
	c, ok := walk(valueOf(parent), keys[:last]).(Container)
	if !ok || c == nil {
		return errors.Wrapf(statetree_errors.ErrNotFound, "path %v", keys[:last])
	}
	return c.assign(keys[last], v)
}

func (p pathSource) immutable() bool { return false }

type anyPathSource struct {
	chained
	paths [][]any
}

// AnyPath reads several paths at once as a []any and hears all of them
// through a single registration.
func (o Observer) AnyPath(paths ...[]any) Observer {
	return Observer{s: &anyPathSource{chained: chained{o.src()}, paths: paths}}
}

func (a *anyPathSource) get() any {
	root := a.parent.get()
	out := make([]any, len(a.paths))
	for i, p := range a.paths {
		out[i] = walk(root, p)
	}
	return out
}

func (a *anyPathSource) set(v any) error {
	vs, ok := v.([]any)
	if !ok || len(vs) != len(a.paths) {
		return errors.Wrapf(statetree_errors.ErrOutOfRange, "want %d values", len(a.paths))
	}
	for i, p := range a.paths {
		if err := setPath(a.parent, p, vs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *anyPathSource) immutable() bool { return false }

func (a *anyPathSource) register(s subscriber) func() {
	govs := make([]Governor, len(a.paths))
	for i, p := range a.paths {
		if len(p) == 0 {
			govs[i] = s.governor
			continue
		}
		govs[i] = Chain(pathGovernor(p), s.governor)
	}
	s.governor = mux(a, govs)
	return a.parent.register(s)
}

type muxInfo struct {
	owner any
	infos []Info
}

// mux runs several governors side by side. A branch that blocks stays
// nil below; the link is followed while any branch is alive.
func mux(owner any, govs []Governor) Governor {
	return func(info Info, l *Link, p *Entry) (Info, bool) {
		var in []Info
		if info != Default {
			in = info.(*muxInfo).infos
		}
		out := make([]Info, len(govs))
		alive := false
		for i, g := range govs {
			gi := Default
			if in != nil {
				if gi = in[i]; gi == nil {
					continue
				}
			}
			if next, ok := g(gi, l, p); ok {
				out[i] = next
				alive = true
			}
		}
		if !alive {
			return nil, false
		}
		return &muxInfo{owner: owner, infos: out}, true
	}
}

type defSource struct {
	chained
	def any
	dyn *Observer
}

// Def reads def in place of nil. When def is an Observer the view follows
// it for as long as the parent stays nil.
func (o Observer) Def(def any) Observer {
	d := &defSource{chained: chained{o.src()}, def: def}
	if obs, ok := def.(Observer); ok {
		d.dyn = &obs
	}
	return Observer{s: d}
}

func (d *defSource) get() any {
	if v := d.parent.get(); v != nil {
		return v
	}
	if d.dyn != nil {
		return d.dyn.value()
	}
	return d.def
}

func (d *defSource) register(s subscriber) func() {
	dispose := d.parent.register(s)
	if d.dyn == nil {
		return dispose
	}
	var fallback func()
	follow := func() {
		if fallback != nil {
			fallback()
			fallback = nil
		}
		if valueOf(d.parent) == nil {
			fallback = d.dyn.src().register(s)
		}
	}
	watch := d.parent.register(subscriber{
		listener: func(Commit, any) error {
			follow()
			return nil
		},
		governor: Block,
	})
	follow()
	return once(func() {
		dispose()
		watch()
		if fallback != nil {
			fallback()
		}
	})
}

type selector struct {
	parent   source
	selValue any
	defValue any
	groups   map[any][]*selectorSlot
	prev     any
	dispose  func()
}

type selectorSlot struct {
	s subscriber
}

type selectorSource struct {
	sel *selector
	key any
}

// Selector makes per-key views over o that read selValue when o holds
// their key and defValue otherwise. A change of o only wakes the views of
// the old and the new key. Keys must be comparable.
func (o Observer) Selector(selValue, defValue any) func(key any) Observer {
	sel := &selector{
		parent:   o.src(),
		selValue: selValue,
		defValue: defValue,
		groups:   map[any][]*selectorSlot{},
	}
	return func(key any) Observer {
		return Observer{s: &selectorSource{sel: sel, key: key}}
	}
}

func (s *selector) changed(c Commit, args any) error {
	v := valueOf(s.parent)
	if isEqual(v, s.prev) {
		return nil
	}
	slots := append(append([]*selectorSlot(nil), s.groups[s.prev]...), s.groups[v]...)
	s.prev = v
	var first error
	for _, sl := range slots {
		if err := sl.s.listener(c, args); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ss *selectorSource) get() any {
	if isEqual(valueOf(ss.sel.parent), ss.key) {
		return ss.sel.selValue
	}
	return ss.sel.defValue
}

// set selects this view's key, the only value it accepts.
func (ss *selectorSource) set(v any) error {
	if !isEqual(v, ss.key) {
		return errors.Wrapf(statetree_errors.ErrImmutable, "selector for %v cannot select %v", ss.key, v)
	}
	return setOn(ss.sel.parent, v)
}

func (ss *selectorSource) broken() bool    { return ss.sel.parent.broken() }
func (ss *selectorSource) immutable() bool { return ss.sel.parent.immutable() }

func (ss *selectorSource) register(s subscriber) func() {
	sel := ss.sel
	if sel.dispose == nil {
		sel.prev = valueOf(sel.parent)
		sel.dispose = sel.parent.register(subscriber{listener: sel.changed, governor: Block})
	}
	slot := &selectorSlot{s: s}
	sel.groups[ss.key] = append(sel.groups[ss.key], slot)
	return once(func() {
		group := sel.groups[ss.key]
		for i, x := range group {
			if x == slot {
				group = append(group[:i:i], group[i+1:]...)
				break
			}
		}
		if len(group) == 0 {
			delete(sel.groups, ss.key)
		} else {
			sel.groups[ss.key] = group
		}
		if len(sel.groups) == 0 {
			sel.dispose()
			sel.dispose = nil
		}
	})
}

type allSource struct {
	deps []Observer
}

// All combines views into one that reads and writes a []any.
func All(deps ...Observer) Observer {
	return Observer{s: allSource{deps: deps}}
}

func getAll(deps []Observer) any {
	out := make([]any, len(deps))
	for i, d := range deps {
		out[i] = d.value()
	}
	return out
}

func setAll(deps []Observer, v any) error {
	vs, ok := v.([]any)
	if !ok || len(vs) != len(deps) {
		return errors.Wrapf(statetree_errors.ErrOutOfRange, "want %d values", len(deps))
	}
	for i, d := range deps {
		if err := d.Set(vs[i]); err != nil {
			return err
		}
	}
	return nil
}

func registerAll(deps []Observer, s subscriber) func() {
	disposers := make([]func(), len(deps))
	for i, d := range deps {
		disposers[i] = d.src().register(s)
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

func (a allSource) get() any        { return getAll(a.deps) }
func (a allSource) set(v any) error { return setAll(a.deps, v) }
func (a allSource) broken() bool    { return false }
func (a allSource) immutable() bool { return false }

func (a allSource) register(s subscriber) func() {
	return once(registerAll(a.deps, s))
}

type allOfSource struct {
	deps source
}

// AllOf is All over a changing list: deps holds a []Observer, or an Array
// of Observers.
func AllOf(deps Observer) Observer {
	return Observer{s: allOfSource{deps: deps.src()}}
}

func (a allOfSource) list() []Observer {
	switch v := valueOf(a.deps).(type) {
	case []Observer:
		return v
	case *Array:
		out := make([]Observer, 0, v.Len())
		for _, x := range v.values {
			if o, ok := x.(Observer); ok {
				out = append(out, o)
			}
		}
		return out
	}
	return nil
}

func (a allOfSource) get() any        { return getAll(a.list()) }
func (a allOfSource) set(v any) error { return setAll(a.list(), v) }
func (a allOfSource) broken() bool    { return false }
func (a allOfSource) immutable() bool { return false }

func (a allOfSource) register(s subscriber) func() {
	var inner func()
	refresh := func() {
		if inner != nil {
			inner()
		}
		inner = registerAll(a.list(), s)
	}
	outer := a.deps.register(subscriber{
		listener: func(c Commit, args any) error {
			refresh()
			return s.listener(c, args)
		},
		governor: shallowGovernor(1),
	})
	refresh()
	return once(func() {
		outer()
		inner()
	})
}
