// Package timer implements the monotonic-time-keyed scheduling structure
// (component K) used by transaction retransmit and drain timers and by
// registration refresh. Firing is at-least-once-per-deadline: a late
// FireDue call still invokes every callback whose deadline has passed, it
// just invokes it later than the deadline.
package timer

import (
	"container/heap"
	"time"
)

// Handle references a scheduled callback. The zero Handle is never valid.
type Handle uint64

// Callback is invoked when its deadline is reached or passed.
type Callback func(now time.Time)

type entry struct {
	deadline time.Time
	cb       Callback
	handle   Handle
	canceled bool
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a min-heap priority queue of scheduled callbacks, driven entirely
// by explicit FireDue calls from the agent's event loop — it never creates a
// goroutine or timer of its own.
type Wheel struct {
	heap    entryHeap
	byID    map[Handle]*entry
	nextID  Handle
}

// New creates an empty Wheel.
func New() *Wheel {
	return &Wheel{byID: make(map[Handle]*entry)}
}

// Schedule registers cb to run at or after now+delay. Millisecond
// granularity, per §4.7.
func (w *Wheel) Schedule(now time.Time, delay time.Duration, cb Callback) Handle {
	w.nextID++
	h := w.nextID
	e := &entry{deadline: now.Add(delay), cb: cb, handle: h}
	w.byID[h] = e
	heap.Push(&w.heap, e)
	return h
}

// Cancel removes a scheduled callback. It is a no-op if the handle already
// fired or was already canceled.
func (w *Wheel) Cancel(h Handle) {
	e, ok := w.byID[h]
	if !ok {
		return
	}
	delete(w.byID, h)
	e.canceled = true
	if e.index >= 0 {
		heap.Remove(&w.heap, e.index)
	}
}

// FireDue invokes, in deadline order, callbacks whose deadline is at or
// before now, at most as many as were pending when the call began, and
// returns how many fired. Callbacks may schedule new work on the same Wheel;
// because of that cap, such work can be left for a later call even when its
// deadline is already due.
func (w *Wheel) FireDue(now time.Time) int {
	limit := len(w.heap)
	fired := 0
	for fired < limit && len(w.heap) > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		if e.canceled {
			continue
		}
		delete(w.byID, e.handle)
		e.cb(now)
		fired++
	}
	return fired
}

// NextDeadline reports the earliest pending deadline, if any, so the caller
// can size its transport poll timeout.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if len(w.heap) == 0 {
		return time.Time{}, false
	}
	return w.heap[0].deadline, true
}

// Len reports the number of pending (unfired, uncanceled) callbacks.
func (w *Wheel) Len() int { return len(w.heap) }
