package ident

import (
	crand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Generator interface {
	Next() ID
}

// ULID draws a monotonic millisecond timestamp plus entropy per id.
type ULID struct {
	entropy io.Reader
	now     func() time.Time
}

func NewULID(entropy io.Reader) *ULID {
	return &ULID{
		entropy: &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(entropy, 0)},
		now:     time.Now,
	}
}

func (g *ULID) Next() ID {
	u := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return ID(u[:])
}

// Seeded is a reproducible ULID generator: the clock ticks one millisecond
// per id and the entropy comes from a seeded source.
func Seeded(seed int64) *ULID {
	g := NewULID(rand.New(rand.NewSource(seed)))
	var mu sync.Mutex
	tick := time.UnixMilli(0)
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return g
}

// Counter hands out sequential ids; convenient for tests.
type Counter struct {
	mu  sync.Mutex
	src uint64
	seq uint64
}

func NewCounter(src uint64) *Counter {
	return &Counter{src: src}
}

func (c *Counter) Next() ID {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	var b [Size]byte
	binary.BigEndian.PutUint64(b[:8], c.src)
	binary.BigEndian.PutUint64(b[8:], seq)
	return ID(b[:])
}

var (
	defaultMu  sync.RWMutex
	defaultGen Generator = NewULID(crand.Reader)
)

// SetDefault replaces the process-wide generator, returning the old one.
func SetDefault(g Generator) Generator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	old := defaultGen
	defaultGen = g
	return old
}

func Default() Generator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultGen
}

func New() ID {
	return Default().Next()
}
