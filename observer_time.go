package statetree

import (
	"log/slog"
	"time"

	"github.com/drpcorg/statetree/utils"
)

// Timed views call back from clock timers. The callbacks must run on the
// goroutine that owns the graph: use a utils.ManualClock or a utils.Loop
// clock.

func needClock(c utils.Clock, view string) utils.Clock {
	if c == nil {
		panic("statetree: " + view + " needs a clock")
	}
	return c
}

var timedLog utils.Logger = utils.NewDefaultLogger(slog.LevelWarn)

// SetLogger picks where timed views report errors of their delayed
// deliveries. Call it before any timed view is set up.
func SetLogger(l utils.Logger) {
	timedLog = l
}

// deliverLater hands a held back commit to l in a batch of its own.
// Nobody waits for the result, so errors only get logged.
func deliverLater(l Listener, c Commit, args any) {
	b, outer := begin(args)
	defer b.abort(outer)
	if err := l(c, args); err != nil {
		timedLog.Warn("delayed delivery failed", "deltas", len(c), "err", err)
	}
	if err := b.done(outer); err != nil {
		timedLog.Warn("delayed batch failed", "err", err)
	}
}

type throttleSource struct {
	chained
	d     time.Duration
	clock utils.Clock
}

// Throttle lets one commit through, then holds back whatever comes during
// the next d and delivers it joined into one commit.
func (o Observer) Throttle(d time.Duration, clock utils.Clock) Observer {
	return Observer{s: throttleSource{chained: chained{o.src()}, d: d, clock: needClock(clock, "Throttle")}}
}

func (t throttleSource) register(s subscriber) func() {
	var (
		timer   utils.Timer
		waiting Commit
		args    any
		tick    func()
	)
	tick = func() {
		if len(waiting) == 0 {
			timer = nil
			return
		}
		c, a := waiting, args
		waiting, args = nil, nil
		timer = t.clock.AfterFunc(t.d, tick)
		deliverLater(s.listener, c, a)
	}
	inner := s
	inner.listener = func(c Commit, a any) error {
		if timer != nil {
			waiting = append(waiting, c...)
			args = a
			return nil
		}
		timer = t.clock.AfterFunc(t.d, tick)
		return s.listener(c, a)
	}
	dispose := t.parent.register(inner)
	return once(func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		dispose()
		if len(waiting) > 0 {
			c, a := waiting, args
			waiting = nil
			deliverLater(s.listener, c, a)
		}
	})
}

type waitSource struct {
	chained
	d     time.Duration
	clock utils.Clock
}

// Wait delivers once things have been quiet for d, everything since the
// last delivery in one commit.
func (o Observer) Wait(d time.Duration, clock utils.Clock) Observer {
	return Observer{s: waitSource{chained: chained{o.src()}, d: d, clock: needClock(clock, "Wait")}}
}

func (w waitSource) register(s subscriber) func() {
	var (
		timer   utils.Timer
		waiting Commit
		args    any
	)
	fire := func() {
		c, a := waiting, args
		waiting, args, timer = nil, nil, nil
		if len(c) > 0 {
			deliverLater(s.listener, c, a)
		}
	}
	inner := s
	inner.listener = func(c Commit, a any) error {
		waiting = append(waiting, c...)
		args = a
		if timer != nil {
			timer.Stop()
		}
		timer = w.clock.AfterFunc(w.d, fire)
		return nil
	}
	dispose := w.parent.register(inner)
	return once(func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		dispose()
		if len(waiting) > 0 {
			c, a := waiting, args
			waiting = nil
			deliverLater(s.listener, c, a)
		}
	})
}

type timerSource struct {
	d     time.Duration
	clock utils.Clock
	ticks int
}

// Timer counts ticks every d for as long as someone listens.
func Timer(d time.Duration, clock utils.Clock) Observer {
	return Observer{s: &timerSource{d: d, clock: needClock(clock, "Timer")}}
}

func (t *timerSource) get() any        { return t.ticks }
func (t *timerSource) set(any) error   { return nil }
func (t *timerSource) broken() bool    { return false }
func (t *timerSource) immutable() bool { return true }

func (t *timerSource) register(s subscriber) func() {
	var (
		timer   utils.Timer
		stopped bool
		tick    func()
	)
	tick = func() {
		if stopped {
			return
		}
		prev := t.ticks
		t.ticks++
		timer = t.clock.AfterFunc(t.d, tick)
		deliverLater(s.listener, Commit{{Kind: Synthetic, Value: t.ticks, Prev: prev, Time: now()}}, nil)
	}
	timer = t.clock.AfterFunc(t.d, tick)
	return once(func() {
		stopped = true
		timer.Stop()
	})
}
