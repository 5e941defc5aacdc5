package events

import "sync"

// Ring keeps the last cap values added, oldest first.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	return &Ring[T]{items: make([]T, max(capacity, 1))}
}

func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// Last returns up to n of the newest values, oldest first. A non-positive
// n returns everything held.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.next - n
	if start < 0 {
		start += len(r.items)
	}
	for i := range out {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
