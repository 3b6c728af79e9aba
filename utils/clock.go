package utils

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// Clock is what timed observers and digests schedule against.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock fires callbacks on runtime timer goroutines; pair it with a Loop
// to keep everything on one goroutine.
var RealClock Clock = realClock{}

// ManualClock only moves when told to and runs due callbacks inline.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers *Heap[*manualTimer, int64]
}

type manualTimer struct {
	at    time.Time
	f     func()
	clock *ManualClock
	done  bool
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		now:    start,
		timers: NewHeap(func(t *manualTimer) int64 { return t.at.UnixNano() }),
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f, clock: c}
	c.timers.Push(t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

// Advance moves the clock forward, firing every timer that comes due in
// deadline order. Callbacks may schedule further timers.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t, ok := c.timers.Peek()
		if !ok || t.at.After(target) {
			break
		}
		c.timers.Pop()
		if t.done {
			continue
		}
		t.done = true
		if t.at.After(c.now) {
			c.now = t.at
		}
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending counts timers that are armed and not yet fired.
func (c *ManualClock) Pending() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.timers.buf {
		if !it.val.done {
			n++
		}
	}
	return n
}
