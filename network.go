package statetree

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/idmap"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/drpcorg/statetree/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

type NetworkOptions struct {
	Logger utils.Logger
	// Tombstones is how many removed ids are remembered for error messages.
	Tombstones int
}

func (o *NetworkOptions) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelWarn)
	}
	if o.Tombstones <= 0 {
		o.Tombstones = 256
	}
}

type NetworkOption func(*NetworkOptions)

func WithLogger(l utils.Logger) NetworkOption {
	return func(o *NetworkOptions) { o.Logger = l }
}

func WithTombstones(n int) NetworkOption {
	return func(o *NetworkOptions) { o.Tombstones = n }
}

// tracked is a reachable container. Containers sharing an id are chained;
// the head is the one remote commits address.
type tracked struct {
	n           *node
	occurrences int
	next        *tracked
}

type retainer struct {
	root *Entry
	net  *Network
	n    *node
}

func (r *retainer) release() {
	if r.root.live {
		removeListener(r.n, r.root)
	}
	delete(r.net.retainers, r.n)
	r.net.log.Debug("retainer released", "id", r.n.owner.ID().String())
}

type retainedInfo struct {
	info Info
}

type networkStats struct {
	tracked  atomic.Int64
	digests  atomic.Int64
	applied  atomic.Uint64
	rejected atomic.Uint64
	deltas   atomic.Uint64

	// deltas per non-empty flush
	flushSize utils.Mean
}

// Network tracks every container reachable from an observer, applies
// remote commits to them and feeds local changes to digests.
type Network struct {
	opts       NetworkOptions
	log        utils.Logger
	tracked    idmap.Map[*tracked]
	digests    []*Digest
	retainers  map[*node]*retainer
	tombstones *lru.Cache[ident.ID, time.Time]
	dispose    func()
	initErr    error
	stats      networkStats
}

// NewNetwork starts tracking obs. Two distinct containers sharing an id
// make it fail.
func NewNetwork(obs Observer, opts ...NetworkOption) (*Network, error) {
	var o NetworkOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.SetDefaults()
	tombs, err := lru.New[ident.ID, time.Time](o.Tombstones)
	if err != nil {
		return nil, err
	}
	n := &Network{
		opts:       o,
		log:        o.Logger,
		retainers:  map[*node]*retainer{},
		tombstones: tombs,
	}
	n.dispose = obs.src().register(subscriber{
		listener: n.commit,
		governor: Pass,
		onAdd:    n.onAdd,
		onRemove: n.onRemove,
	})
	if n.initErr != nil {
		n.dispose()
		return nil, n.initErr
	}
	return n, nil
}

func (n *Network) onAdd(nd *node, _ *Entry) {
	id := nd.owner.ID()
	head, ok := n.tracked.Get(id)
	if !ok {
		n.tracked.Set(id, &tracked{n: nd, occurrences: 1})
		n.stats.tracked.Add(1)
		n.tombstones.Remove(id)
		for _, d := range n.digests {
			d.added(nd)
		}
		if r := n.retainers[nd]; r != nil {
			r.release()
		}
		return
	}
	t := head
	for {
		if t.n == nd {
			t.occurrences++
			return
		}
		if t.next == nil {
			break
		}
		t = t.next
	}
	t.next = &tracked{n: nd, occurrences: 1}
	n.log.Warn("conflicting container id", "id", id.String())
	err := errors.Wrapf(statetree_errors.ErrConflictingID, "container %s", id)
	if b := inflight; b != nil {
		b.fail(err)
	} else if n.initErr == nil {
		n.initErr = err
	}
}

func (n *Network) onRemove(nd *node, e *Entry) {
	id := nd.owner.ID()
	head, _ := n.tracked.Get(id)
	var prev *tracked
	t := head
	for t != nil && t.n != nd {
		prev, t = t, t.next
	}
	if t == nil {
		panic(fmt.Sprintf("statetree: untracked container %s left the network", id))
	}
	if t.occurrences--; t.occurrences > 0 {
		return
	}
	if prev != nil {
		prev.next = t.next
		return
	}
	for _, d := range n.digests {
		d.dropped(nd)
	}
	if t.next != nil {
		n.tracked.Set(id, t.next)
		for _, d := range n.digests {
			d.added(t.next.n)
		}
		return
	}
	n.tracked.Delete(id)
	n.stats.tracked.Add(-1)
	n.tombstones.Add(id, now())
	if len(n.digests) > 0 {
		n.retain(nd, e)
	}
}

// retain keeps watching the direct links of a container that left the
// network until every digest has flushed. Should it come back, or should
// the removal be reverted in the same window, its changes are not lost.
func (n *Network) retain(nd *node, e *Entry) {
	if n.retainers[nd] != nil {
		return
	}
	gov := e.reg.governor
	reg := &registration{subscriber: subscriber{
		listener: n.commit,
		governor: func(info Info, l *Link, p *Entry) (Info, bool) {
			ri, ok := info.(retainedInfo)
			if !ok {
				return nil, false
			}
			return gov(ri.info, l, p)
		},
	}}
	r := &retainer{
		root: &Entry{info: retainedInfo{info: e.info}, reg: reg},
		net:  n,
		n:    nd,
	}
	n.retainers[nd] = r
	addListener(nd, r.root)

	pending := len(n.digests)
	for _, d := range n.digests {
		d.derefs = append(d.derefs, once(func() {
			if pending--; pending == 0 && n.retainers[nd] == r {
				r.release()
			}
		}))
	}
}

// resolved reports whether nd is the container its id resolves to.
func (n *Network) resolved(nd *node) bool {
	t, ok := n.tracked.Get(nd.owner.ID())
	return ok && t.n == nd
}

func (n *Network) commit(c Commit, args any) error {
	for _, d := range append([]*Digest(nil), n.digests...) {
		d.commit(c, args)
	}
	return nil
}

// Has reports whether a container with this id is reachable.
func (n *Network) Has(id ident.ID) bool {
	return n.tracked.Has(id)
}

func (n *Network) Lookup(id ident.ID) (Container, bool) {
	t, ok := n.tracked.Get(id)
	if !ok {
		return nil, false
	}
	return t.n.owner, true
}

// Len is the number of distinct ids tracked.
func (n *Network) Len() int {
	return n.tracked.Len()
}

func (n *Network) Logger() utils.Logger {
	return n.log
}

// Flush pushes every digest's pending changes out now.
func (n *Network) Flush() error {
	var first error
	for _, d := range append([]*Digest(nil), n.digests...) {
		if err := d.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type linkKey struct {
	n   *node
	key any
}

type step struct {
	c    Container
	link *Link
	ev   *Event
}

// Apply checks every delta of c against the current state and then
// applies all of them in one batch, or none. Listeners see args.
func (n *Network) Apply(c Commit, args any) error {
	plan := make([]step, len(c))
	touched := make(map[linkKey]bool, len(c))
	for i, ev := range c {
		t, ok := n.tracked.Get(ev.ID)
		if !ok {
			if at, gone := n.tombstones.Get(ev.ID); gone {
				return n.reject(errors.Wrapf(statetree_errors.ErrUnknownContainer,
					"delta %d: container %s was removed at %s", i, ev.ID, at.Format(time.RFC3339Nano)))
			}
			return n.reject(errors.Wrapf(statetree_errors.ErrUnknownContainer, "delta %d: container %s", i, ev.ID))
		}
		cont := t.n.owner
		l, err := cont.verify(ev)
		if err != nil {
			return n.reject(errors.Wrapf(err, "delta %d", i))
		}
		k := linkKey{n: t.n, key: ev.Key}
		if touched[k] {
			return n.reject(errors.Wrapf(statetree_errors.ErrDuplicateAction, "delta %d: %s key %v", i, ev.ID, ev.Key))
		}
		touched[k] = true
		plan[i] = step{c: cont, link: l, ev: ev}
	}

	b, outer := begin(args)
	defer b.abort(outer)
	for _, s := range plan {
		s.c.apply(s.ev, s.link)
	}
	n.stats.applied.Add(1)
	return b.done(outer)
}

func (n *Network) reject(err error) error {
	n.stats.rejected.Add(1)
	n.log.Debug("commit rejected", "err", err)
	return err
}

// Remove flushes and destroys every digest and stops tracking. Nothing may
// stay tracked afterwards.
func (n *Network) Remove() {
	for len(n.digests) > 0 {
		if err := n.digests[0].Remove(); err != nil {
			n.log.Warn("final flush failed", "err", err)
		}
	}
	for _, r := range n.retainers {
		r.release()
	}
	n.dispose()
	if n.tracked.Len() != 0 {
		panic(fmt.Sprintf("statetree: %d containers still tracked after remove", n.tracked.Len()))
	}
}
