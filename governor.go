package statetree

import (
	"math"
	"strings"
)

// Info is what a governor threads from one level of the tree to the next.
type Info any

type defaultInfo struct{}

// Default is the info a fresh registration starts from. Chained governors
// return it to hand over to the next one.
var Default Info = &defaultInfo{}

// Infinity disables a depth limit.
const Infinity = math.MaxInt

// Governor decides whether a registration follows link one level down.
// parent is the entry the link was reached from.
type Governor func(info Info, link *Link, parent *Entry) (Info, bool)

// Block admits nothing.
func Block(Info, *Link, *Entry) (Info, bool) {
	return nil, false
}

// Pass admits everything.
func Pass(Info, *Link, *Entry) (Info, bool) {
	return true, true
}

type chainInfo struct {
	second bool
	info   Info
}

// Chain runs a until it returns Default, then b for the rest of the way down.
func Chain(a, b Governor) Governor {
	return func(info Info, l *Link, p *Entry) (Info, bool) {
		second := false
		if info != Default {
			ci := info.(chainInfo)
			second, info = ci.second, ci.info
		}
		gov := a
		if second {
			gov = b
		}
		next, ok := gov(info, l, p)
		if !ok {
			return nil, false
		}
		if !second && next == Default {
			second = true
			if next, ok = b(next, l, p); !ok {
				return nil, false
			}
		}
		return chainInfo{second: second, info: next}, true
	}
}

type andInfo struct {
	a, b Info
}

// And admits a link only if both governors do. Each keeps its own info.
func And(a, b Governor) Governor {
	return func(info Info, l *Link, p *Entry) (Info, bool) {
		ia, ib := info, info
		if info != Default {
			ai := info.(andInfo)
			ia, ib = ai.a, ai.b
		}
		na, ok := a(ia, l, p)
		if !ok {
			return nil, false
		}
		nb, ok := b(ib, l, p)
		if !ok {
			return nil, false
		}
		return andInfo{a: na, b: nb}, true
	}
}

// watchGovernor hides keys starting with an underscore.
func watchGovernor(_ Info, l *Link, _ *Entry) (Info, bool) {
	if s, ok := l.key.(string); ok && strings.HasPrefix(s, "_") {
		return nil, false
	}
	return true, true
}

func shallowGovernor(level int) Governor {
	return func(info Info, _ *Link, _ *Entry) (Info, bool) {
		var n int
		if info == Default {
			n = level
			if n != Infinity {
				n++
			}
		} else {
			n = info.(int)
		}
		if n == Infinity {
			return n, true
		}
		n--
		return n, n > 0
	}
}

func skipGovernor(level int) Governor {
	return func(info Info, _ *Link, _ *Entry) (Info, bool) {
		var n int
		if info == Default {
			n = level
			if n != Infinity {
				n++
			}
		} else {
			n = info.(int)
		}
		if n != Infinity {
			n--
		}
		if n == 0 {
			return Default, true
		}
		return n, true
	}
}

func treeGovernor(name any) Governor {
	return func(info Info, l *Link, _ *Entry) (Info, bool) {
		n := 1
		if info != Default {
			n = info.(int)
		}
		if n != 1 {
			return 1, true
		}
		if !isEqual(l.key, name) {
			return Default, true
		}
		return 2, true
	}
}

func pathGovernor(path []any) Governor {
	return func(info Info, l *Link, _ *Entry) (Info, bool) {
		n := 1
		if info != Default {
			n = info.(int)
		}
		if n > len(path) {
			return Default, true
		}
		if !isEqual(l.key, path[n-1]) {
			return nil, false
		}
		return n + 1, true
	}
}

// ignoreGovernor turns negative once the walk leaves path for good.
func ignoreGovernor(path []any) Governor {
	return func(info Info, l *Link, _ *Entry) (Info, bool) {
		n := 1
		if info != Default {
			n = info.(int)
		}
		if n < 0 || !isEqual(l.key, path[n-1]) {
			return -1, true
		}
		if n >= len(path) {
			return nil, false
		}
		return n + 1, true
	}
}
