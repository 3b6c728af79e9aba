package clone

import (
	"context"

	"github.com/drpcorg/statetree"
	"github.com/drpcorg/statetree/protocol"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/drpcorg/statetree/utils"
	"github.com/pkg/errors"
)

// Sender is a digest callback that queues every commit as an M record.
type Sender struct {
	pipe protocol.Pipe
}

func (s *Sender) Digest(c statetree.Commit, known statetree.KnownFunc) error {
	rec, err := EncodeCommit(nil, c, Options{Known: known})
	if err != nil {
		return err
	}
	return s.pipe.Drain(context.Background(), protocol.Records{rec})
}

func (s *Sender) Feed(ctx context.Context) (protocol.Records, error) {
	return s.pipe.Feed(ctx)
}

// Len is the number of queued commits.
func (s *Sender) Len() int {
	return s.pipe.Len()
}

// Receiver applies M records to a network. Every commit is decoded right
// before it is applied, so X records see the effect of earlier ones.
type Receiver struct {
	Net *statetree.Network
	// Args are what local listeners see as the origin of applied commits.
	Args any
}

func (r *Receiver) Drain(ctx context.Context, recs protocol.Records) error {
	log := r.Net.Logger()
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lit := protocol.Lit(rec); lit != 'M' {
			log.WarnCtx(ctx, "not a commit record", "record", i, "lit", string(lit))
			return errors.Wrapf(statetree_errors.ErrBadRecord, "record %d is not a commit", i)
		}
		c, rest, err := DecodeCommit(rec, Options{Resolver: r.Net})
		if err != nil {
			return errors.WithMessagef(err, "record %d", i)
		}
		if len(rest) != 0 {
			return errors.Wrapf(statetree_errors.ErrBadRecord, "record %d: %d trailing bytes", i, len(rest))
		}
		if err := r.Net.Apply(c, r.Args); err != nil {
			log.WarnCtx(ctx, "remote commit rejected", "record", i, "err", err)
			return errors.WithMessagef(err, "record %d", i)
		}
	}
	log.DebugCtx(ctx, "remote commits applied", "commits", len(recs), "bytes", recs.TotalLen())
	return nil
}

// Link keeps two networks in step through passive digests. Commits one
// side applies on behalf of the link are not echoed back.
type Link struct {
	ab, ba   Sender
	toA, toB Receiver
	da, db   *statetree.Digest
}

// Connect starts digests on both networks. Pass WithInterval and WithClock
// to flush on a timer; Sync flushes by hand either way.
func Connect(a, b *statetree.Network, opts ...statetree.DigestOption) (*Link, error) {
	l := &Link{}
	l.toA = Receiver{Net: a, Args: l}
	l.toB = Receiver{Net: b, Args: l}
	ignore := statetree.WithIgnore(func(args any) bool { return args == l })
	var err error
	if l.da, err = a.Digest(l.ab.Digest, append(opts, ignore)...); err != nil {
		return nil, err
	}
	if l.db, err = b.Digest(l.ba.Digest, append(opts, ignore)...); err != nil {
		_ = l.da.Remove()
		return nil, err
	}
	return l, nil
}

// Pump moves whatever both digests already emitted to the other side.
func (l *Link) Pump(ctx context.Context) error {
	if err := protocol.Relay(utils.WithDefaultArgs(ctx, "from", "a"), &l.ab, &l.toB); err != nil {
		return errors.WithMessage(err, "a to b")
	}
	if err := protocol.Relay(utils.WithDefaultArgs(ctx, "from", "b"), &l.ba, &l.toA); err != nil {
		return errors.WithMessage(err, "b to a")
	}
	return nil
}

// Sync flushes both sides and pumps until nothing is left in flight.
func (l *Link) Sync(ctx context.Context) error {
	for {
		if err := l.da.Flush(); err != nil {
			return err
		}
		if err := l.db.Flush(); err != nil {
			return err
		}
		if l.ab.Len() == 0 && l.ba.Len() == 0 {
			return nil
		}
		if err := l.Pump(ctx); err != nil {
			return err
		}
	}
}

// Close flushes and detaches both digests. Anything still queued is
// dropped.
func (l *Link) Close() error {
	erra := l.da.Remove()
	errb := l.db.Remove()
	if erra != nil {
		return erra
	}
	return errb
}
