package statetree

// node is a container's place in the propagation graph. It heads two rings:
// the container's links in order, and the entries registered on it.
type node struct {
	owner Container
	links Link
	regs  Entry
}

func (n *node) init(owner Container) {
	n.owner = owner
	n.links.node = n
	n.links.next, n.links.prev = &n.links, &n.links
	n.regs.regNext, n.regs.regPrev = &n.regs, &n.regs
}

// Link is the edge from a container to the value stored under one key.
type Link struct {
	node  *node
	key   any
	child *node

	next, prev *Link
	fan        Entry
}

func (l *Link) Key() any { return l.key }

// Container is the one holding this link.
func (l *Link) Container() Container { return l.node.owner }

// Entry is one registration attached to a link. Entries form a tree that
// mirrors the part of the container graph a registration admits.
type Entry struct {
	link   *Link
	parent *Entry
	info   Info
	reg    *registration
	live   bool

	next, prev       *Entry
	regNext, regPrev *Entry

	children             *Entry
	childNext, childPrev *Entry
}

// Link is nil for the root entry of a registration.
func (e *Entry) Link() *Link { return e.link }

func (e *Entry) Parent() *Entry { return e.parent }

func (e *Entry) Info() Info { return e.info }

// Depth counts links between the entry and its registration root.
func (e *Entry) Depth() (d int) {
	for ; e.link != nil; e = e.parent {
		d++
	}
	return
}

func childNode(v any) *node {
	if c, ok := v.(Container); ok && c != nil {
		return c.graph()
	}
	return nil
}

// cyclic reports whether target is already on the way from e up to its root.
func cyclic(e *Entry, target *node) bool {
	for ; e.link != nil; e = e.parent {
		if e.link.node == target {
			return true
		}
	}
	return false
}

func createLinkEntry(l *Link, parent *Entry, info Info) *Entry {
	child := &Entry{link: l, parent: parent, info: info, reg: parent.reg}

	child.childNext = parent.children
	if child.childNext != nil {
		child.childNext.childPrev = child
	}
	parent.children = child

	child.next = &l.fan
	child.prev = l.fan.prev
	l.fan.prev = child
	child.prev.next = child

	if l.child == nil {
		return nil
	}
	if cyclic(child, l.child) {
		child.regNext, child.regPrev = child, child
		return nil
	}
	return child
}

func addListener(n *node, parent *Entry) {
	r := parent.reg

	parent.regNext = n.regs.regNext
	n.regs.regNext.regPrev = parent
	n.regs.regNext = parent
	parent.regPrev = &n.regs
	parent.live = true

	for l := n.links.next; l != &n.links; l = l.next {
		if info, ok := r.governor(parent.info, l, parent); ok {
			if child := createLinkEntry(l, parent, info); child != nil {
				addListener(l.child, child)
			}
		}
	}

	if r.onAdd != nil {
		r.onAdd(n, parent)
	}
}

func removeListener(n *node, parent *Entry) {
	parent.regPrev.regNext = parent.regNext
	parent.regNext.regPrev = parent.regPrev
	parent.live = false

	for e := parent.children; e != nil; e = e.childNext {
		e.prev.next = e.next
		e.next.prev = e.prev
		if e.link.child != nil {
			removeListener(e.link.child, e)
		}
	}
	parent.children = nil

	r := parent.reg
	if parent.regPrev != parent && r.onRemove != nil {
		r.onRemove(n, parent)
	}
}

func (n *node) entries() (out []*Entry) {
	for e := n.regs.regNext; e != &n.regs; e = e.regNext {
		out = append(out, e)
	}
	return
}

// link attaches l to its container before the given sibling (nil for the
// tail) and lets every registration on the container decide about it.
func link(l *Link, child *node, before *Link) {
	l.child = child
	if before == nil {
		before = &l.node.links
	}
	l.next = before
	l.prev = before.prev
	l.prev.next = l
	before.prev = l

	l.fan.next, l.fan.prev = &l.fan, &l.fan

	for _, e := range l.node.entries() {
		if !e.live {
			continue
		}
		if info, ok := e.reg.governor(e.info, l, e); ok {
			if c := createLinkEntry(l, e, info); c != nil {
				addListener(child, c)
			}
		}
	}
}

// relink points l at a new child. Entries drop everything below the old
// child and rebuild against the new one.
func relink(l *Link, child *node) {
	old := l.child
	if old == child {
		return
	}
	l.child = child

	for e := l.fan.next; e != &l.fan; e = e.next {
		if old != nil {
			removeListener(old, e)
		}
		e.children = nil
		if child == nil {
			continue
		}
		if cyclic(e, child) {
			e.regNext, e.regPrev = e, e
			continue
		}
		addListener(child, e)
	}
}

func unlink(l *Link) {
	l.prev.next = l.next
	l.next.prev = l.prev

	for e := l.fan.next; e != &l.fan; e = e.next {
		if e.childPrev != nil {
			e.childPrev.childNext = e.childNext
		} else {
			e.parent.children = e.childNext
		}
		if e.childNext != nil {
			e.childNext.childPrev = e.childPrev
		}
		if l.child != nil {
			removeListener(l.child, e)
		}
	}
}

// linkApply queues ev for every entry on l in the running batch.
func linkApply(l *Link, ev *Event) {
	b := inflight
	if b == nil {
		panic("statetree: link event outside of a batch")
	}
	for e := l.fan.next; e != &l.fan; e = e.next {
		d := *ev
		d.entry = e
		d.Time = b.time
		d.Args = b.args
		b.enqueue(e.reg, &d)
	}
}

// register attaches a new registration rooted at n.
func register(n *node, s subscriber) func() {
	r := &registration{subscriber: s}
	root := &Entry{info: Default, reg: r}
	addListener(n, root)
	return r.disposer(func() { removeListener(n, root) })
}
