package statetree

import (
	"slices"
	"time"

	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/drpcorg/statetree/utils"
	"github.com/pkg/errors"
)

// KnownFunc reports whether the receiving side of a digest already holds
// a container. Unknown containers have to be sent in full.
type KnownFunc func(c Container) bool

type DigestOptions struct {
	// Interval between automatic flushes. Zero means Flush is called by hand.
	Interval time.Duration
	// Ignore drops commits whose batch args it matches, typically those a
	// network applied on behalf of the peer it reports to.
	Ignore func(args any) bool
	// Clock schedules the flushes. Its callbacks must run on the goroutine
	// that owns the network, so utils.RealClock only works behind a
	// utils.Loop.
	Clock utils.Clock
}

func (o *DigestOptions) Validate() error {
	if o.Interval < 0 {
		return errors.Errorf("digest interval %s", o.Interval)
	}
	if o.Interval > 0 && o.Clock == nil {
		return errors.Wrapf(statetree_errors.ErrNoClock, "digest interval %s", o.Interval)
	}
	return nil
}

type DigestOption func(*DigestOptions)

func WithInterval(d time.Duration) DigestOption {
	return func(o *DigestOptions) { o.Interval = d }
}

func WithIgnore(f func(args any) bool) DigestOption {
	return func(o *DigestOptions) { o.Ignore = f }
}

func WithClock(c utils.Clock) DigestOption {
	return func(o *DigestOptions) { o.Clock = c }
}

type change struct {
	ev  *Event
	seq int
}

// Digest coalesces the changes of a window into the shortest commit that
// takes a replica from the window's start to its end.
type Digest struct {
	net  *Network
	cb   func(c Commit, known KnownFunc) error
	opts DigestOptions

	// seen holds whether a container whose membership changed during the
	// window was tracked when the window opened.
	seen    map[*node]bool
	changes map[*Link]*change
	deleted map[*node]map[any]*Link
	seq     int
	derefs  []func()

	timer    utils.Timer
	flushing bool
	again    bool
	removed  bool
}

// Digest starts collecting changes for cb.
func (n *Network) Digest(cb func(c Commit, known KnownFunc) error, opts ...DigestOption) (*Digest, error) {
	var o DigestOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	d := &Digest{
		net:     n,
		cb:      cb,
		opts:    o,
		seen:    map[*node]bool{},
		changes: map[*Link]*change{},
		deleted: map[*node]map[any]*Link{},
	}
	n.digests = append(n.digests, d)
	n.stats.digests.Add(1)
	return d, nil
}

func (d *Digest) added(nd *node) {
	if _, ok := d.seen[nd]; !ok {
		d.seen[nd] = false
	}
}

func (d *Digest) dropped(nd *node) {
	if _, ok := d.seen[nd]; !ok {
		d.seen[nd] = true
	}
}

func (d *Digest) known(nd *node) bool {
	if v, ok := d.seen[nd]; ok {
		return v
	}
	return d.net.resolved(nd)
}

func (d *Digest) commit(c Commit, args any) {
	if d.opts.Ignore != nil && d.opts.Ignore(args) {
		return
	}
	var last *Event
	for _, ev := range c {
		if ev.entry == nil || ev.entry.link == nil {
			continue
		}
		// one event reaches us once per path to its container
		if last != nil && last.entry.link == ev.entry.link && last.Kind == ev.Kind &&
			isEqual(last.Value, ev.Value) && isEqual(last.Prev, ev.Prev) {
			continue
		}
		last = ev
		l := ev.entry.link
		if !d.known(l.node) {
			continue
		}
		d.record(l, ev)
	}
	if len(d.changes) > 0 && d.opts.Interval > 0 && d.timer == nil {
		d.timer = d.opts.Clock.AfterFunc(d.opts.Interval, d.tick)
	}
}

func (d *Digest) record(l *Link, ev *Event) {
	key := l
	if ev.Kind == Insert {
		if old := d.deleted[l.node][ev.Key]; old != nil {
			delete(d.deleted[l.node], ev.Key)
			key = old
		}
	}
	prev := d.changes[key]
	if key != l {
		delete(d.changes, key)
	}
	if ev.Kind == Delete {
		byKey := d.deleted[l.node]
		if byKey == nil {
			byKey = map[any]*Link{}
			d.deleted[l.node] = byKey
		}
		byKey[ev.Key] = l
	}

	if prev == nil {
		d.seq++
		d.changes[l] = &change{ev: cloneEvent(ev), seq: d.seq}
		return
	}

	next := cloneEvent(prev.ev)
	next.Time, next.Args, next.entry = ev.Time, ev.Args, ev.entry
	switch {
	case prev.ev.Kind == Delete && ev.Kind == Insert:
		if isEqual(prev.ev.Prev, ev.Value) {
			delete(d.changes, l)
			return
		}
		next.Kind, next.Value = Modify, ev.Value
	case prev.ev.Kind == Insert && ev.Kind == Delete:
		delete(d.changes, l)
		return
	case ev.Kind == Delete:
		next.Kind, next.Value = Delete, nil
	default:
		next.Value = ev.Value
		if next.Kind == Modify && isEqual(next.Prev, next.Value) {
			delete(d.changes, l)
			return
		}
	}
	d.changes[l] = &change{ev: next, seq: prev.seq}
}

func cloneEvent(ev *Event) *Event {
	c := *ev
	return &c
}

func (d *Digest) tick() {
	d.timer = nil
	if err := d.Flush(); err != nil {
		d.net.log.Warn("digest flush failed", "err", err)
	}
}

// Flush hands everything collected so far to the callback. A flush
// requested from inside the callback runs right after it returns.
func (d *Digest) Flush() error {
	if d.flushing {
		d.again = true
		return nil
	}
	d.flushing = true
	defer func() { d.flushing = false }()

	var first error
	for {
		d.again = false
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		changes := make([]*change, 0, len(d.changes))
		for _, ch := range d.changes {
			changes = append(changes, ch)
		}
		slices.SortFunc(changes, func(a, b *change) int { return a.seq - b.seq })
		seen := d.seen
		derefs := d.derefs
		d.changes = map[*Link]*change{}
		d.deleted = map[*node]map[any]*Link{}
		d.seen = map[*node]bool{}
		d.derefs = nil

		known := func(c Container) bool {
			if c == nil {
				return false
			}
			if v, ok := seen[c.graph()]; ok {
				return v
			}
			return d.net.resolved(c.graph())
		}
		commit := make(Commit, len(changes))
		for i, ch := range changes {
			commit[i] = ch.ev
		}
		for _, f := range derefs {
			f()
		}
		if len(commit) > 0 {
			d.net.stats.deltas.Add(uint64(len(commit)))
			d.net.stats.flushSize.Add(float64(len(commit)))
			d.net.log.Debug("digest flush", "deltas", len(commit))
			if err := d.cb(commit, known); err != nil && first == nil {
				first = err
			}
		}
		if !d.again {
			break
		}
	}
	if len(d.changes) > 0 && d.opts.Interval > 0 && d.timer == nil && !d.removed {
		d.timer = d.opts.Clock.AfterFunc(d.opts.Interval, d.tick)
	}
	return first
}

// Remove flushes one last time and detaches the digest.
func (d *Digest) Remove() error {
	if d.removed {
		return nil
	}
	err := d.Flush()
	d.removed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.net.digests = slices.DeleteFunc(d.net.digests, func(x *Digest) bool { return x == d })
	d.net.stats.digests.Add(-1)
	for _, f := range d.derefs {
		f()
	}
	d.derefs = nil
	return err
}
