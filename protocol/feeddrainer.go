package protocol

import (
	"context"
	"sync"
)

// Feeder yields batches of records. An empty batch with a nil error means
// nothing is pending right now.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

// Relay moves one batch from feeder to drainer. Records fed alongside an
// error are still drained.
func Relay(ctx context.Context, feeder Feeder, drainer Drainer) error {
	recs, err := feeder.Feed(ctx)
	if len(recs) > 0 {
		if derr := drainer.Drain(ctx, recs); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

// Pipe is an unbounded in-memory record queue. Feed never blocks.
type Pipe struct {
	mu   sync.Mutex
	recs Records
}

func (p *Pipe) Drain(ctx context.Context, recs Records) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, recs...)
	return nil
}

func (p *Pipe) Feed(ctx context.Context) (recs Records, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	recs, p.recs = p.recs, nil
	return recs, nil
}

func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recs)
}
