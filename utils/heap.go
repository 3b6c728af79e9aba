package utils

import "golang.org/x/exp/constraints"

// Heap is a binary min-heap ordered by an extracted key; ties pop in
// insertion order.
type Heap[T any, K constraints.Ordered] struct {
	buf []heapItem[T, K]
	key func(T) K
	seq uint64
}

type heapItem[T any, K constraints.Ordered] struct {
	val T
	key K
	seq uint64
}

func NewHeap[T any, K constraints.Ordered](key func(T) K) *Heap[T, K] {
	return &Heap[T, K]{key: key}
}

func (h *Heap[T, K]) Len() int {
	return len(h.buf)
}

func (h *Heap[T, K]) less(i, j int) bool {
	a, b := h.buf[i], h.buf[j]
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

// Push pushes the element x onto the heap.
// The complexity is O(log n) where n = h.Len().
func (h *Heap[T, K]) Push(x T) {
	h.seq++
	h.buf = append(h.buf, heapItem[T, K]{val: x, key: h.key(x), seq: h.seq})
	h.up(h.Len() - 1)
}

// Peek returns the minimum without removing it.
func (h *Heap[T, K]) Peek() (min T, ok bool) {
	if len(h.buf) == 0 {
		return min, false
	}
	return h.buf[0].val, true
}

// Pop removes and returns the minimum element from the heap.
// The complexity is O(log n) where n = h.Len().
func (h *Heap[T, K]) Pop() T {
	min := h.buf[0].val
	n := h.Len() - 1
	h.buf[0], h.buf[n] = h.buf[n], h.buf[0]
	h.down(0, n)
	h.buf[n] = heapItem[T, K]{}
	h.buf = h.buf[:n]
	return min
}

func (h *Heap[T, K]) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !h.less(j, i) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		j = i
	}
}

func (h *Heap[T, K]) down(i, n int) {
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.less(j2, j1) {
			j = j2 // = 2*i + 2  // right child
		}
		if !h.less(j, i) {
			break
		}
		h.buf[i], h.buf[j] = h.buf[j], h.buf[i]
		i = j
	}
}
