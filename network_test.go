package statetree

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drpcorg/statetree/fracindex"
	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietNetwork(t *testing.T, o Observer, opts ...NetworkOption) *Network {
	t.Helper()
	net, err := NewNetwork(o, append([]NetworkOption{WithLogger(utils.DiscardLogger())}, opts...)...)
	require.NoError(t, err)
	return net
}

func digest(t *testing.T, net *Network, cb func(Commit, KnownFunc) error, opts ...DigestOption) *Digest {
	t.Helper()
	d, err := net.Digest(cb, opts...)
	require.NoError(t, err)
	return d
}

// replica builds the same small document, ids and array keys included,
// for every call with the same src.
func replica(src uint64) (root, obj *Object, arr *Array) {
	ids := counterIDs(src)
	obj = NewObject(map[string]any{"x": 1}, ids)
	arr = NewArray([]any{"a", "b"}, ids, WithRand(rand.New(rand.NewSource(int64(src)))))
	root = NewObject(map[string]any{"obj": obj, "list": arr}, ids)
	return root, obj, arr
}

// collect keeps what a digest emits.
type collect struct {
	commits []Commit
	known   []KnownFunc
}

func (c *collect) cb(commit Commit, known KnownFunc) error {
	c.commits = append(c.commits, commit)
	c.known = append(c.known, known)
	return nil
}

func (c *collect) last(t *testing.T) Commit {
	t.Helper()
	require.NotEmpty(t, c.commits)
	return c.commits[len(c.commits)-1]
}

func TestNetwork_Tracking(t *testing.T) {
	root, obj, arr := replica(600)
	net := quietNetwork(t, root.Observer())
	assert.Equal(t, 3, net.Len())
	for _, c := range []Container{root, obj, arr} {
		assert.True(t, net.Has(c.ID()))
		got, ok := net.Lookup(c.ID())
		assert.True(t, ok)
		assert.Same(t, c, got)
	}

	require.NoError(t, root.Set("again", obj))
	require.NoError(t, root.Delete("obj"))
	assert.True(t, net.Has(obj.ID()))
	require.NoError(t, root.Delete("again"))
	assert.False(t, net.Has(obj.ID()))
	assert.Equal(t, 2, net.Len())

	require.NoError(t, arr.Push(obj))
	assert.True(t, net.Has(obj.ID()))

	net.Remove()
	assert.Zero(t, net.Len())
}

func TestNetwork_HiddenKeysAreTracked(t *testing.T) {
	ids := counterIDs(601)
	hidden := NewObject(nil, ids)
	root := NewObject(map[string]any{"_hidden": hidden}, ids)
	net := quietNetwork(t, root.Observer())
	assert.True(t, net.Has(hidden.ID()))
}

func TestNetwork_ConflictingIDs(t *testing.T) {
	ids := counterIDs(602)
	one := NewObject(nil, ids)
	two := NewObject(nil, WithID(one.ID()))
	root := NewObject(map[string]any{"one": one, "two": two}, ids)
	_, err := NewNetwork(root.Observer(), WithLogger(utils.DiscardLogger()))
	assert.ErrorIs(t, err, ErrConflictingID)

	require.NoError(t, root.Delete("two"))
	net := quietNetwork(t, root.Observer())
	err = root.Set("two", two)
	assert.ErrorIs(t, err, ErrConflictingID)
	got, _ := net.Lookup(one.ID())
	assert.Same(t, one, got)

	require.NoError(t, root.Delete("one"))
	got, _ = net.Lookup(one.ID())
	assert.Same(t, two, got)
	require.NoError(t, root.Delete("two"))
	assert.False(t, net.Has(one.ID()))
}

func TestNetwork_Replicates(t *testing.T) {
	rootA, objA, arrA := replica(610)
	rootB, _, _ := replica(610)
	a := quietNetwork(t, rootA.Observer())
	b := quietNetwork(t, rootB.Observer())

	d := digest(t, a, func(c Commit, _ KnownFunc) error { return b.Apply(c, "a") })
	require.NoError(t, objA.Set("x", 2))
	require.NoError(t, objA.Set("y", "new"))
	_, err := arrA.Splice(1, 0, "between", "again")
	require.NoError(t, err)
	require.NoError(t, arrA.SetAt(0, "A"))
	_, err = arrA.Pop()
	require.NoError(t, err)
	require.NoError(t, rootA.Set("flag", true))

	var heard recorder
	defer heard.watch(rootB.Observer())()
	require.NoError(t, d.Flush())
	assert.Equal(t, Export(rootA), Export(rootB))
	require.Len(t, heard.commits, 1)
	assert.Equal(t, "a", heard.events[0].Args)

	require.NoError(t, d.Remove())
	require.NoError(t, d.Remove())
	a.Remove()
	b.Remove()
}

func TestDigest_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, obj *Object)
		want   []Event
	}{
		{
			name: "insert then delete",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Set("y", 1))
				require.NoError(t, obj.Delete("y"))
			},
		},
		{
			name: "insert then modify",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Set("y", 1))
				require.NoError(t, obj.Set("y", 2))
			},
			want: []Event{{Kind: Insert, Key: "y", Value: 2}},
		},
		{
			name: "modify and back",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Set("x", 2))
				require.NoError(t, obj.Set("x", 1))
			},
		},
		{
			name: "delete then insert the same",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Delete("x"))
				require.NoError(t, obj.Set("x", 1))
			},
		},
		{
			name: "delete then insert another",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Delete("x"))
				require.NoError(t, obj.Set("x", 5))
			},
			want: []Event{{Kind: Modify, Key: "x", Value: 5, Prev: 1}},
		},
		{
			name: "modify then delete",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Set("x", 2))
				require.NoError(t, obj.Delete("x"))
			},
			want: []Event{{Kind: Delete, Key: "x", Prev: 1}},
		},
		{
			name: "first change decides the order",
			change: func(t *testing.T, obj *Object) {
				require.NoError(t, obj.Set("b", 1))
				require.NoError(t, obj.Set("a", 1))
				require.NoError(t, obj.Set("b", 2))
			},
			want: []Event{
				{Kind: Insert, Key: "b", Value: 2},
				{Kind: Insert, Key: "a", Value: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, obj, _ := replica(620)
			net := quietNetwork(t, root.Observer())
			var out collect
			d := digest(t, net, out.cb)
			tt.change(t, obj)
			require.NoError(t, d.Flush())
			if len(tt.want) == 0 {
				assert.Empty(t, out.commits)
				return
			}
			c := out.last(t)
			require.Len(t, c, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w.Kind, c[i].Kind, "delta %d", i)
				assert.Equal(t, w.Key, c[i].Key, "delta %d", i)
				assert.Equal(t, w.Value, c[i].Value, "delta %d", i)
				assert.Equal(t, w.Prev, c[i].Prev, "delta %d", i)
				assert.Equal(t, obj.ID(), c[i].ID)
			}
		})
	}
}

func TestDigest_SharedChildOnce(t *testing.T) {
	ids := counterIDs(621)
	c := NewObject(nil, ids)
	root := NewObject(map[string]any{"a": c, "b": c}, ids)
	net := quietNetwork(t, root.Observer())
	var out collect
	d := digest(t, net, out.cb)
	require.NoError(t, c.Set("x", 1))
	require.NoError(t, d.Flush())
	assert.Len(t, out.last(t), 1)
}

func TestDigest_Known(t *testing.T) {
	root, obj, _ := replica(622)
	net := quietNetwork(t, root.Observer())
	var out collect
	d := digest(t, net, out.cb)

	fresh := NewObject(map[string]any{"n": 1}, counterIDs(623))
	require.NoError(t, root.Set("fresh", fresh))
	require.NoError(t, fresh.Set("n", 2))
	require.NoError(t, root.Delete("obj"))
	require.NoError(t, d.Flush())

	c := out.last(t)
	require.Len(t, c, 2)
	known := out.known[0]
	assert.False(t, known(fresh))
	assert.True(t, known(obj))
	assert.True(t, known(root))
	assert.False(t, known(nil))

	require.NoError(t, root.Set("again", obj))
	require.NoError(t, d.Flush())
	assert.True(t, out.known[1](fresh))
	assert.False(t, out.known[1](obj))
}

func TestDigest_Retainer(t *testing.T) {
	root, obj, _ := replica(624)
	net := quietNetwork(t, root.Observer())
	var out collect
	d := digest(t, net, out.cb)

	require.NoError(t, root.Delete("obj"))
	require.NoError(t, obj.Set("x", 2))
	require.NoError(t, root.Set("obj", obj))
	assert.Empty(t, net.retainers)
	require.NoError(t, d.Flush())
	c := out.last(t)
	require.Len(t, c, 1)
	assert.Equal(t, obj.ID(), c[0].ID)
	assert.Equal(t, 2, c[0].Value)

	require.NoError(t, root.Delete("obj"))
	require.NoError(t, obj.Set("x", 3))
	assert.Len(t, net.retainers, 1)
	require.NoError(t, d.Flush())
	assert.Len(t, out.last(t), 2)
	assert.Empty(t, net.retainers)

	require.NoError(t, obj.Set("x", 4))
	require.NoError(t, d.Flush())
	assert.Len(t, out.commits, 2)
}

func TestDigest_Ignore(t *testing.T) {
	root, obj, _ := replica(625)
	net := quietNetwork(t, root.Observer())
	var out collect
	d := digest(t, net, out.cb, WithIgnore(func(args any) bool { return args == "remote" }))

	require.NoError(t, net.Apply(Commit{{Kind: Modify, ID: obj.ID(), Key: "x", Value: 7}}, "remote"))
	require.NoError(t, d.Flush())
	assert.Empty(t, out.commits)

	require.NoError(t, obj.Set("x", 8))
	require.NoError(t, d.Flush())
	assert.Len(t, out.commits, 1)
}

func TestDigest_Interval(t *testing.T) {
	clock := utils.NewManualClock(time.Unix(0, 0))
	root, obj, _ := replica(626)
	net := quietNetwork(t, root.Observer())
	var out collect
	d := digest(t, net, out.cb, WithInterval(time.Second), WithClock(clock))

	require.NoError(t, obj.Set("x", 2))
	require.NoError(t, obj.Set("x", 3))
	assert.Equal(t, 1, clock.Pending())
	clock.Advance(time.Second)
	require.Len(t, out.commits, 1)
	assert.Equal(t, 3, out.commits[0][0].Value)
	assert.Zero(t, clock.Pending())

	require.NoError(t, obj.Set("x", 4))
	require.NoError(t, d.Remove())
	assert.Len(t, out.commits, 2)
	assert.Zero(t, clock.Pending())
}

func TestDigest_NeedsClock(t *testing.T) {
	root, _, _ := replica(628)
	net := quietNetwork(t, root.Observer())
	nop := func(Commit, KnownFunc) error { return nil }

	_, err := net.Digest(nop, WithInterval(time.Millisecond))
	assert.ErrorIs(t, err, ErrNoClock)
	_, err = net.Digest(nop, WithInterval(-time.Second), WithClock(utils.RealClock))
	assert.Error(t, err)
	assert.Empty(t, net.digests)

	_, err = net.Digest(nop)
	assert.NoError(t, err)
}

// Writers on other goroutines and timed flushes all go through one loop.
func TestDigest_IntervalOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := utils.NewLoop(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()

	var (
		obj *Object
		net *Network
		d   *Digest
		out collect
	)
	require.NoError(t, loop.Do(ctx, func() (err error) {
		var root *Object
		root, obj, _ = replica(629)
		if net, err = NewNetwork(root.Observer(), WithLogger(utils.DiscardLogger())); err != nil {
			return err
		}
		d, err = net.Digest(out.cb, WithInterval(time.Microsecond), WithClock(loop.Clock(nil)))
		return err
	}))

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				if err := loop.Do(ctx, func() error { return obj.Set("x", w*1000+i) }); err != nil {
					return
				}
			}
		}()
	}
	writers.Wait()

	assert.Eventually(t, func() bool {
		var synced bool
		_ = loop.Do(ctx, func() error {
			if n := len(out.commits); n > 0 && len(d.changes) == 0 {
				c := out.commits[n-1]
				x, _ := obj.Get("x")
				synced = c[len(c)-1].Value == x
			}
			return nil
		})
		return synced
	}, time.Second, time.Millisecond)

	require.NoError(t, loop.Do(ctx, func() error {
		err := d.Remove()
		net.Remove()
		return err
	}))
	cancel()
	<-done
}

func TestDigest_FlushFromCallback(t *testing.T) {
	root, obj, _ := replica(627)
	net := quietNetwork(t, root.Observer())
	var sizes []int
	var d *Digest
	d = digest(t, net, func(c Commit, _ KnownFunc) error {
		sizes = append(sizes, len(c))
		if len(sizes) == 1 {
			if err := obj.Set("x", 10); err != nil {
				return err
			}
			return d.Flush()
		}
		return nil
	})
	require.NoError(t, obj.Set("x", 2))
	require.NoError(t, d.Flush())
	assert.Equal(t, []int{1, 1}, sizes)
}

func TestNetwork_ApplyIsAtomic(t *testing.T) {
	root, obj, arr := replica(630)
	net := quietNetwork(t, root.Observer())
	var rec recorder
	defer rec.watch(root.Observer())()
	before := Export(root)

	k0, _ := arr.KeyAt(0)
	bad := []struct {
		name   string
		commit Commit
		err    error
	}{
		{
			name: "same key twice",
			commit: Commit{
				{Kind: Modify, ID: obj.ID(), Key: "x", Value: 2},
				{Kind: Delete, ID: obj.ID(), Key: "x"},
			},
			err: ErrDuplicateAction,
		},
		{
			name: "existing key",
			commit: Commit{
				{Kind: Insert, ID: obj.ID(), Key: "y", Value: 2},
				{Kind: Insert, ID: arr.ID(), Key: k0, Value: 3},
			},
			err: ErrAlreadyExists,
		},
		{
			name:   "missing key",
			commit: Commit{{Kind: Delete, ID: obj.ID(), Key: "nope"}},
			err:    ErrNotFound,
		},
		{
			name:   "wrong key type",
			commit: Commit{{Kind: Insert, ID: arr.ID(), Key: "0", Value: 1}},
			err:    ErrBadKey,
		},
		{
			name:   "unknown container",
			commit: Commit{{Kind: Insert, ID: ident.NewCounter(99).Next(), Key: "a", Value: 1}},
			err:    ErrUnknownContainer,
		},
		{
			name:   "synthetic",
			commit: Commit{{Kind: Synthetic, ID: obj.ID(), Key: "x"}},
			err:    ErrBadEvent,
		},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			err := net.Apply(tt.commit, nil)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, before, Export(root))
			assert.Empty(t, rec.events)
		})
	}
}

func TestNetwork_ApplyArrayPositions(t *testing.T) {
	root, _, arr := replica(631)
	net := quietNetwork(t, root.Observer())
	k0, _ := arr.KeyAt(0)
	k1, _ := arr.KeyAt(1)
	mid := fracindex.Between(&k0, &k1, 2, fracindex.DefaultRand)
	err := net.Apply(Commit{
		{Kind: Delete, ID: arr.ID(), Key: k0},
		{Kind: Insert, ID: arr.ID(), Key: mid[1], Value: "m1"},
		{Kind: Insert, ID: arr.ID(), Key: mid[0], Value: "m0"},
		{Kind: Modify, ID: arr.ID(), Key: k1, Value: "B"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"m0", "m1", "B"}, arr.Values())
}

func TestNetwork_Tombstones(t *testing.T) {
	ids := counterIDs(632)
	one, two := NewObject(nil, ids), NewObject(nil, ids)
	root := NewObject(map[string]any{"one": one, "two": two}, ids)
	net := quietNetwork(t, root.Observer(), WithTombstones(1))
	require.NoError(t, root.Delete("one"))
	require.NoError(t, root.Delete("two"))

	err := net.Apply(Commit{{Kind: Insert, ID: two.ID(), Key: "a", Value: 1}}, nil)
	assert.ErrorIs(t, err, ErrUnknownContainer)
	assert.Contains(t, err.Error(), "was removed")

	err = net.Apply(Commit{{Kind: Insert, ID: one.ID(), Key: "a", Value: 1}}, nil)
	assert.ErrorIs(t, err, ErrUnknownContainer)
	assert.NotContains(t, err.Error(), "was removed")

	require.NoError(t, root.Set("two", two))
	require.NoError(t, net.Apply(Commit{{Kind: Insert, ID: two.ID(), Key: "a", Value: 1}}, nil))
}

func TestNetwork_RemoveFlushes(t *testing.T) {
	root, obj, _ := replica(633)
	net := quietNetwork(t, root.Observer())
	var out collect
	digest(t, net, out.cb)
	digest(t, net, out.cb)
	require.NoError(t, obj.Set("x", 2))
	net.Remove()
	assert.Len(t, out.commits, 2)
	assert.Empty(t, net.retainers)

	require.NoError(t, obj.Set("x", 3))
	assert.Len(t, out.commits, 2)
}

func TestNetworkCollector(t *testing.T) {
	root, obj, _ := replica(634)
	net := quietNetwork(t, root.Observer())
	d := digest(t, net, func(Commit, KnownFunc) error { return nil })
	require.NoError(t, net.Apply(Commit{{Kind: Modify, ID: obj.ID(), Key: "x", Value: 2}}, nil))
	assert.Error(t, net.Apply(Commit{{Kind: Delete, ID: obj.ID(), Key: "nope"}}, nil))
	require.NoError(t, d.Flush())

	nc := NewNetworkCollector(net)
	assert.Equal(t, 6, testutil.CollectAndCount(nc))
	expected := `
# HELP statetree_applied_commits_total Total number of remote commits applied
# TYPE statetree_applied_commits_total counter
statetree_applied_commits_total 1
# HELP statetree_digest_flush_deltas_avg Average number of deltas in one non-empty digest flush
# TYPE statetree_digest_flush_deltas_avg gauge
statetree_digest_flush_deltas_avg 1
# HELP statetree_digests Number of live digests
# TYPE statetree_digests gauge
statetree_digests 1
# HELP statetree_emitted_deltas_total Total number of deltas handed to digest callbacks
# TYPE statetree_emitted_deltas_total counter
statetree_emitted_deltas_total 1
# HELP statetree_rejected_commits_total Total number of remote commits rejected by verification
# TYPE statetree_rejected_commits_total counter
statetree_rejected_commits_total 1
# HELP statetree_tracked_containers Number of distinct container ids reachable from the network root
# TYPE statetree_tracked_containers gauge
statetree_tracked_containers 3
`
	assert.NoError(t, testutil.CollectAndCompare(nc, strings.NewReader(expected)))
}
