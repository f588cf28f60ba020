// Package queue implements the Delivery Queue: a min-heap of pending
// message entries ordered by the (timestamp, origin) total order.
//
// Queue is not goroutine-safe. The engine mutates it only while holding
// its own lock, together with the pending set and the ack records.
package queue

import (
	"container/heap"
	"sort"

	"github.com/laizesuelia/sd-trabalho-final/pkg/model"
)

// Queue is a priority queue of model.QueueEntry. The zero value is not
// usable; call New.
type Queue struct {
	h   entryHeap
	ids map[string]struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{ids: make(map[string]struct{})}
}

// Push inserts e. Returns false, leaving the queue unchanged, if an entry
// with the same ID is already queued.
func (q *Queue) Push(e model.QueueEntry) bool {
	if _, ok := q.ids[e.ID]; ok {
		return false
	}
	q.ids[e.ID] = struct{}{}
	heap.Push(&q.h, e)
	return true
}

// Peek returns the minimum entry without removing it.
func (q *Queue) Peek() (model.QueueEntry, bool) {
	if len(q.h) == 0 {
		return model.QueueEntry{}, false
	}
	return q.h[0], true
}

// Pop removes and returns the minimum entry.
func (q *Queue) Pop() (model.QueueEntry, bool) {
	if len(q.h) == 0 {
		return model.QueueEntry{}, false
	}
	e := heap.Pop(&q.h).(model.QueueEntry)
	delete(q.ids, e.ID)
	return e, true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int { return len(q.h) }

// Contains reports whether an entry with the given id is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.ids[id]
	return ok
}

// Snapshot returns a copy of the queue in delivery order. The queue itself
// is not modified.
func (q *Queue) Snapshot() []model.QueueEntry {
	out := make([]model.QueueEntry, len(q.h))
	copy(out, q.h)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// entryHeap adapts a slice of entries to container/heap.
type entryHeap []model.QueueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(model.QueueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
