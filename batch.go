package statetree

import "time"

// Listener receives every event of one batch that reached its registration,
// in emission order.
type Listener func(c Commit, args any) error

type subscriber struct {
	listener Listener
	governor Governor
	onAdd    func(n *node, parent *Entry)
	onRemove func(n *node, parent *Entry)
}

type registration struct {
	subscriber

	// open is the delivery still accepting events, if its round is current
	open    *delivery
	removed bool
}

type delivery struct {
	r     *registration
	c     Commit
	round int
}

// disposer wraps detach so that it runs once.
func (r *registration) disposer(detach func()) func() {
	return func() {
		if r.removed {
			return
		}
		r.removed = true
		r.open = nil
		detach()
	}
}

type batch struct {
	time  time.Time
	args  any
	queue []*delivery
	pos   int
	round int
	err   error
}

// inflight is the batch collecting events right now. Mutations made while
// one is open, including those made by listeners, join it.
var inflight *batch

var now = time.Now

func begin(args any) (b *batch, outer bool) {
	if inflight != nil {
		return inflight, false
	}
	inflight = &batch{time: now(), args: args}
	return inflight, true
}

func (b *batch) enqueue(r *registration, ev *Event) {
	if r.removed {
		return
	}
	if d := r.open; d != nil && d.round == b.round {
		d.c = append(d.c, ev)
		return
	}
	d := &delivery{r: r, c: Commit{ev}, round: b.round}
	r.open = d
	b.queue = append(b.queue, d)
}

// fail keeps the first error of the batch.
func (b *batch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// done delivers the batch if this caller opened it. Listeners may mutate
// further; what they emit is queued behind everything already queued and
// delivered in the same loop.
func (b *batch) done(outer bool) error {
	if !outer {
		return nil
	}
	defer b.release()
	for ; b.pos < len(b.queue); b.pos++ {
		d := b.queue[b.pos]
		b.queue[b.pos] = nil
		if d.r.open == d {
			d.r.open = nil
		}
		if d.r.removed {
			continue
		}
		b.round++
		if err := d.r.listener(d.c, b.args); err != nil {
			b.fail(err)
		}
	}
	return b.err
}

func (b *batch) release() {
	for _, d := range b.queue[min(b.pos, len(b.queue)):] {
		if d != nil && d.r.open == d {
			d.r.open = nil
		}
	}
	b.queue = nil
	if inflight == b {
		inflight = nil
	}
}

// abort is deferred by mutators so a panic does not leave the batch open.
func (b *batch) abort(outer bool) {
	if outer && inflight == b {
		b.release()
	}
}

// Atomic runs fn with every mutation it makes, directly or through
// listeners, collected into one batch. Listeners see args.
func Atomic(fn func() error, args any) (err error) {
	b, outer := begin(args)
	defer b.abort(outer)
	err = fn()
	if derr := b.done(outer); err == nil {
		err = derr
	}
	return err
}
