package store

import "container/heap"

// queueEntry is a snapshot of a process's scheduling key at enqueue time.
// Entries are validated against the live row on pop (lazy deletion), so a
// stale entry is discarded instead of resurrecting old state.
type queueEntry struct {
	id       int64
	priority int
	seq      int64 // created_at ms, FIFO tie-break
}

// processHeap orders queued processes: lowest priority value first, then
// earliest created_at, then lowest id.
type processHeap []queueEntry

func (h processHeap) Len() int { return len(h) }

func (h processHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if h[i].seq != h[j].seq {
		return h[i].seq < h[j].seq
	}
	return h[i].id < h[j].id
}

func (h processHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *processHeap) Push(x any) {
	*h = append(*h, x.(queueEntry))
}

func (h *processHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *processHeap) push(e queueEntry) { heap.Push(h, e) }

func (h *processHeap) pop() (queueEntry, bool) {
	if h.Len() == 0 {
		return queueEntry{}, false
	}
	return heap.Pop(h).(queueEntry), true
}
