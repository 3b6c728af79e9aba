package statetree

import "slices"

// memo shares one upstream registration among any number of listeners on
// one or more derived views. Listeners of view k always run after those of
// view k-1.
type memo struct {
	parent   source
	groups   [][]*memoSlot
	count    int
	cache    any
	upstream func()
}

type memoSlot struct {
	s       subscriber
	removed bool
}

type memoSource struct {
	m     *memo
	group int
}

// Memo caches the value of o while anyone listens and registers upstream
// once for all of them.
func (o Observer) Memo() Observer {
	return o.MemoN(1)[0]
}

// MemoN returns n views sharing one upstream registration, delivered in
// order.
func (o Observer) MemoN(n int) []Observer {
	m := &memo{parent: o.src(), groups: make([][]*memoSlot, n)}
	out := make([]Observer, n)
	for i := range out {
		out[i] = Observer{s: &memoSource{m: m, group: i}}
	}
	return out
}

func (ms *memoSource) get() any {
	if ms.m.count > 0 {
		return ms.m.cache
	}
	return ms.m.parent.get()
}

func (ms *memoSource) set(v any) error {
	if ms.m.count > 0 && isEqual(v, ms.m.cache) {
		return nil
	}
	return setOn(ms.m.parent, v)
}

func (ms *memoSource) broken() bool    { return ms.m.parent.broken() }
func (ms *memoSource) immutable() bool { return ms.m.parent.immutable() }

func (ms *memoSource) register(s subscriber) func() {
	m := ms.m
	slot := &memoSlot{s: subscriber{listener: s.listener, governor: s.governor}}
	m.groups[ms.group] = append(m.groups[ms.group], slot)
	m.count++
	m.rebuild()
	return once(func() {
		slot.removed = true
		m.groups[ms.group] = slices.DeleteFunc(m.groups[ms.group], func(x *memoSlot) bool { return x == slot })
		m.count--
		m.rebuild()
	})
}

// rebuild swaps the upstream registration for one muxing the governors of
// the current slots. The old registration goes only after the new one is in
// place, so upstream lifetimes do not restart.
func (m *memo) rebuild() {
	old := m.upstream
	m.upstream = nil
	if old != nil {
		defer old()
	}
	if m.count == 0 {
		m.cache = nil
		return
	}
	var slots []*memoSlot
	for _, g := range m.groups {
		slots = append(slots, g...)
	}
	govs := make([]Governor, len(slots))
	for i, sl := range slots {
		govs[i] = sl.s.governor
	}
	m.cache = valueOf(m.parent)
	m.upstream = m.parent.register(subscriber{
		listener: func(c Commit, args any) error { return m.deliver(slots, c, args) },
		governor: mux(m, govs),
	})
}

func (m *memo) deliver(slots []*memoSlot, c Commit, args any) error {
	m.cache = valueOf(m.parent)
	var first error
	for i, sl := range slots {
		if sl.removed {
			continue
		}
		var sub Commit
		for _, ev := range c {
			if ev.entry == nil || m.admits(ev.entry.info, i) {
				sub = append(sub, ev)
			}
		}
		if len(sub) == 0 {
			continue
		}
		if err := sl.s.listener(sub, args); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// admits peels the governor infos stacked between the upstream and this
// memo to tell whether slot followed the link an event came from.
func (m *memo) admits(info Info, slot int) bool {
	for {
		switch in := info.(type) {
		case chainInfo:
			if !in.second {
				return true
			}
			info = in.info
		case andInfo:
			info = in.b
		case *muxInfo:
			if in.owner == m {
				return in.infos[slot] != nil
			}
			for _, sub := range in.infos {
				if sub != nil && m.admits(sub, slot) {
					return true
				}
			}
			return false
		default:
			return true
		}
	}
}
