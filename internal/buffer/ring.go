package buffer

import "sync"

// Ring keeps the most recent entries up to a fixed capacity. Pushing into a
// full ring evicts exactly the oldest entry.
type Ring[T any] struct {
	mu      sync.RWMutex
	buf     []T
	start   int
	count   int
	evicted int64
}

// NewRing creates a ring holding at most capacity entries (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends an entry, evicting the oldest one when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = item
		r.count++
		return
	}
	r.buf[r.start] = item
	r.start = (r.start + 1) % len(r.buf)
	r.evicted++
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many entries have been dropped on overflow.
func (r *Ring[T]) Evicted() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

// Snapshot returns all retained entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(0)
}

// Last returns up to n of the newest entries, oldest first. n <= 0 means all.
func (r *Ring[T]) Last(n int) []T {
	return r.Filter(n, nil)
}

// Filter returns up to n of the newest entries accepted by keep, oldest
// first. A nil keep accepts everything; n <= 0 means no limit.
func (r *Ring[T]) Filter(n int, keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := r.count
	if n > 0 && n < limit {
		limit = n
	}
	out := make([]T, 0, limit)
	for i := r.count - 1; i >= 0 && len(out) < limit; i-- {
		item := r.buf[(r.start+i)%len(r.buf)]
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Reset discards all entries.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.count = 0
	r.evicted = 0
}
