package fracindex

import (
	"math/bits"
	"math/rand"
)

// Entropy is the number of random bits spent per generated key.
const Entropy = 8

type Rand interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// DefaultRand draws from the math/rand global source.
var DefaultRand Rand = globalRand{}

// Between allocates n strictly increasing keys that sort after prev and
// before next. A nil bound means that end of the list is open. Every step
// adds a random offset plus the rounding error left by the previous step, so
// the run stays inside its neighbours no matter what rnd yields.
func Between(prev, next *Index, n int, rnd Rand) []Index {
	if n <= 0 {
		return nil
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	var p Index
	d := 0
	switch {
	case prev == nil && next == nil:
		p = Zero
	case next == nil:
		p = *prev
	case prev == nil:
		p = Add(*next, -2, 0)
	default:
		if Compare(*prev, *next) >= 0 {
			panic("fracindex: Between bounds out of order")
		}
		p = *prev
		d = 1 - Leading(*next, *prev)
	}
	sig := bits.Len(uint(n)) - 1
	if n&(n-1) == 0 {
		d += Entropy + sig
	} else {
		d += Entropy + sig + 1
	}

	out := make([]Index, n)
	carry := 0
	for i := range out {
		num := rnd.Intn(1 << Entropy)
		p = Add(p, int64(num+carry+1), d)
		carry = (1 << Entropy) - num
		out[i] = p
	}
	return out
}

// Sequence is the key run used for initial list contents: 0, 1, 2...
func Sequence(n int) []Index {
	out := make([]Index, n)
	for i := range out {
		out[i] = FromInt(i)
	}
	return out
}
