package sequence

import (
	"container/heap"
	"sort"
	"time"
)

// PriorityItem is a queued value with its caller-defined priority and the
// instant it was enqueued.
type PriorityItem[T any] struct {
	Value      T
	Priority   int
	EnqueuedAt time.Time

	seq   uint64
	index int
}

// evictionHeap keeps the eviction victim at the root: lowest priority first,
// oldest arrival first among equal priorities.
type evictionHeap[T any] struct {
	items []*PriorityItem[T]
}

func (h *evictionHeap[T]) Len() int {
	return len(h.items)
}

func (h *evictionHeap[T]) Less(i, j int) bool {
	if h.items[i].Priority != h.items[j].Priority {
		return h.items[i].Priority < h.items[j].Priority
	}
	return h.items[i].seq < h.items[j].seq
}

func (h *evictionHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *evictionHeap[T]) Push(x any) {
	item := x.(*PriorityItem[T])
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *evictionHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	h.items = old[0 : n-1]
	return item
}

// BoundedPriorityQueue holds at most Cap items. Items drain in
// (priority desc, arrival asc) order; when full, the lowest priority item
// that arrived first is evicted to make room for the new one.
//
// It is not safe for concurrent use; its owner serialises access.
type BoundedPriorityQueue[T any] struct {
	h        evictionHeap[T]
	capacity int
	seq      uint64
	evicted  uint64
}

// NewBoundedPriorityQueue creates a queue holding at most capacity items.
// A capacity of 0 drops every item on arrival. Negative capacities are
// treated as 0.
func NewBoundedPriorityQueue[T any](capacity int) *BoundedPriorityQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	q := &BoundedPriorityQueue[T]{
		h:        evictionHeap[T]{items: make([]*PriorityItem[T], 0, min(capacity, 1024))},
		capacity: capacity,
	}
	heap.Init(&q.h)
	return q
}

// Enqueue inserts value and returns how many items were evicted to make
// room: 0 or 1. With capacity 0 the value itself is dropped and counted.
func (q *BoundedPriorityQueue[T]) Enqueue(value T, priority int, at time.Time) int {
	if q.capacity == 0 {
		q.evicted++
		return 1
	}

	evicted := 0
	if q.h.Len() >= q.capacity {
		heap.Pop(&q.h)
		q.evicted++
		evicted = 1
	}

	q.seq++
	heap.Push(&q.h, &PriorityItem[T]{
		Value:      value,
		Priority:   priority,
		EnqueuedAt: at,
		seq:        q.seq,
	})
	return evicted
}

// DequeueAll removes and returns every item in drain order.
func (q *BoundedPriorityQueue[T]) DequeueAll() []PriorityItem[T] {
	out := q.Snapshot()
	q.clear()
	return out
}

func (q *BoundedPriorityQueue[T]) clear() {
	for i := range q.h.items {
		q.h.items[i] = nil
	}
	q.h.items = q.h.items[:0]
}

// Snapshot returns the queued items in drain order without removing them.
func (q *BoundedPriorityQueue[T]) Snapshot() []PriorityItem[T] {
	out := make([]PriorityItem[T], len(q.h.items))
	for i, item := range q.h.items {
		out[i] = *item
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (q *BoundedPriorityQueue[T]) Len() int {
	return q.h.Len()
}

func (q *BoundedPriorityQueue[T]) Cap() int {
	return q.capacity
}

func (q *BoundedPriorityQueue[T]) IsEmpty() bool {
	return q.h.Len() == 0
}

// Evicted returns the number of items dropped since creation or the last Reset.
func (q *BoundedPriorityQueue[T]) Evicted() uint64 {
	return q.evicted
}

// Reset empties the queue and zeroes the eviction counter.
func (q *BoundedPriorityQueue[T]) Reset() {
	q.clear()
	q.evicted = 0
	q.seq = 0
}
