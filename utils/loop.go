package utils

import (
	"context"
	"errors"
	"time"
)

var ErrLoopStopped = errors.New("[statetree] event loop is stopped")

// Loop serializes work onto the goroutine that calls Run. State trees are
// single threaded; anything touching them from timers or other goroutines
// goes through a Loop.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func NewLoop(backlog int) *Loop {
	return &Loop{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
	}
}

// Run executes posted tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-l.tasks:
			f()
		}
	}
}

func (l *Loop) Post(ctx context.Context, f func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- f:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs f on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, f func() error) error {
	res := make(chan error, 1)
	if err := l.Post(ctx, func() { res <- f() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clock wraps base so that timer callbacks run on the loop.
func (l *Loop) Clock(base Clock) Clock {
	if base == nil {
		base = RealClock
	}
	return loopClock{loop: l, base: base}
}

type loopClock struct {
	loop *Loop
	base Clock
}

func (c loopClock) Now() time.Time { return c.base.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.base.AfterFunc(d, func() {
		_ = c.loop.Post(context.Background(), f)
	})
}
