package poller

import (
	"container/heap"
	"time"
)

// timerEntry is one armed one-shot timer. Grounded on gaio's own timedHeap
// (watcher.go's aiocb.deadline/idx fields and heap.Push/heap.Remove calls):
// same container/heap.Interface idiom, generalized from "deadline on an
// async-io request" to "deadline on any timer callback".
type timerEntry struct {
	id       TimerID
	deadline time.Time
	cb       func()
	idx      int // index maintained by container/heap
}

// timedHeap is a min-heap of timerEntry ordered by deadline.
type timedHeap []*timerEntry

func (h timedHeap) Len() int            { return len(h) }
func (h timedHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *timedHeap) Push(x any) {
	e := x.(*timerEntry)
	e.idx = len(*h)
	*h = append(*h, e)
}

func (h *timedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	*h = old[:n-1]
	return e
}

// peek returns the earliest-deadline entry without removing it.
func (h timedHeap) peek() *timerEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// removeByID removes the entry with the given id, if present, maintaining
// heap invariants. Returns true if an entry was removed.
func removeByID(h *timedHeap, id TimerID) bool {
	for i, e := range *h {
		if e.id == id {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
