// Package ring implements the small fixed-capacity circular windows used by
// the time-sync estimator: a slot is always
// addressed by an absolute index modulo the window's capacity, and writing
// past the end simply wraps and overwrites the oldest entry.
package ring

// Window is a fixed-size circular array of T, addressed by any monotonically
// increasing index (usually a frame number) modulo its capacity.
type Window[T any] struct {
	slots []T
}

// NewWindow allocates a window with the given capacity. Capacity must be > 0.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Window[T]{slots: make([]T, capacity)}
}

// Cap returns the window's capacity.
func (w *Window[T]) Cap() int {
	return len(w.slots)
}

// Set stores v at index mod Cap().
func (w *Window[T]) Set(index int, v T) {
	w.slots[w.mod(index)] = v
}

// At returns the value stored at index mod Cap().
func (w *Window[T]) At(index int) T {
	return w.slots[w.mod(index)]
}

// All returns the live slots in storage order (not access order); callers
// that need an average or a reduction over the full window use this.
func (w *Window[T]) All() []T {
	return w.slots
}

func (w *Window[T]) mod(index int) int {
	m := index % len(w.slots)
	if m < 0 {
		m += len(w.slots)
	}
	return m
}
