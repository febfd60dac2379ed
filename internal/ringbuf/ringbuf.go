// Package ringbuf provides a growable FIFO ring buffer. Capacity is kept at a
// power of two so indexing is a bitwise mask. It is not safe for concurrent
// use; owners guard it with their own lock.
package ringbuf

// Ring is a FIFO queue with O(1) push at the back and pop at the front.
type Ring[T any] struct {
	buf  []T
	mask int
	head int // index of the oldest element
	n    int
}

// New creates a ring. capacity is rounded up to the next power of two,
// minimum 2. The ring doubles when a push finds it full.
func New[T any](capacity int) *Ring[T] {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring[T]{buf: make([]T, c), mask: c - 1}
}

// Push appends v at the back.
func (r *Ring[T]) Push(v T) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)&r.mask] = v
	r.n++
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) & r.mask
	r.n--
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

// Back returns the newest element without removing it.
func (r *Ring[T]) Back() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.n-1)&r.mask], true
}

// At returns the i-th element, 0 being the oldest. It panics when out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)&r.mask]
}

// Slice copies the contents oldest-first into a new slice.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)&r.mask]
	}
	return out
}

// Len returns the current number of items in the buffer.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) grow() {
	next := make([]T, len(r.buf)*2)
	for i := 0; i < r.n; i++ {
		next[i] = r.buf[(r.head+i)&r.mask]
	}
	r.buf = next
	r.mask = len(next) - 1
	r.head = 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
