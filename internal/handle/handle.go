// Package handle implements a generational-index arena so that Dialog,
// Session, and Transaction objects can be referenced by callers only through
// opaque handles, per the ownership design: the owning store can free a slot
// and reuse it without a stale handle from a prior generation resolving to
// the new occupant.
package handle

// Handle is an opaque reference into an Arena. The zero Handle is never
// valid.
type Handle uint64

func makeHandle(slot uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(slot))
}

func (h Handle) slot() uint32       { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

// Valid reports whether h is non-zero.
func (h Handle) Valid() bool { return h != 0 }

type entry[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena owns a set of values of type T, handing out Handles that remain
// valid only as long as the slot they name has not been freed and reused.
type Arena[T any] struct {
	entries []entry[T]
	free    []uint32
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores value and returns a Handle naming it.
func (a *Arena[T]) Insert(value T) Handle {
	if n := len(a.free); n > 0 {
		slot := a.free[n-1]
		a.free = a.free[:n-1]
		e := &a.entries[slot]
		e.value = value
		e.occupied = true
		return makeHandle(slot, e.generation)
	}
	slot := uint32(len(a.entries))
	a.entries = append(a.entries, entry[T]{value: value, generation: 1, occupied: true})
	return makeHandle(slot, 1)
}

// Get resolves h to its value. ok is false if h is stale or unknown.
func (a *Arena[T]) Get(h Handle) (value T, ok bool) {
	slot := h.slot()
	if int(slot) >= len(a.entries) {
		return value, false
	}
	e := &a.entries[slot]
	if !e.occupied || e.generation != h.generation() {
		return value, false
	}
	return e.value, true
}

// Set overwrites the value at h. ok is false if h is stale or unknown.
func (a *Arena[T]) Set(h Handle, value T) (ok bool) {
	slot := h.slot()
	if int(slot) >= len(a.entries) {
		return false
	}
	e := &a.entries[slot]
	if !e.occupied || e.generation != h.generation() {
		return false
	}
	e.value = value
	return true
}

// Remove frees the slot named by h, bumping its generation so any
// previously-issued Handle for it becomes permanently stale. ok is false if
// h was already stale or unknown.
func (a *Arena[T]) Remove(h Handle) (ok bool) {
	slot := h.slot()
	if int(slot) >= len(a.entries) {
		return false
	}
	e := &a.entries[slot]
	if !e.occupied || e.generation != h.generation() {
		return false
	}
	var zero T
	e.value = zero
	e.occupied = false
	e.generation++
	a.free = append(a.free, slot)
	return true
}

// Len reports the number of live entries.
func (a *Arena[T]) Len() int {
	n := 0
	for _, e := range a.entries {
		if e.occupied {
			n++
		}
	}
	return n
}

// Each calls fn for every live entry, in slot order. fn must not mutate the
// arena.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	for slot, e := range a.entries {
		if e.occupied {
			fn(makeHandle(uint32(slot), e.generation), e.value)
		}
	}
}
