package scheduler

import (
	"container/heap"

	"github.com/SandrickPro/packsched/pkg/models"
)

// queueItem is one pending job in the dispatch queue. seq is a monotonic
// counter assigned at submission so jobs of equal priority dispatch in strict
// FIFO order, and so a job pushed back after a lost reserve race keeps its
// place in line.
type queueItem struct {
	jobID    string
	priority models.Priority
	seq      uint64
}

// pendingQueue orders pending jobs by (priority desc, seq asc). It is not
// itself synchronized; the scheduler's mutex guards all access.
type pendingQueue struct {
	items itemHeap
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

func (q *pendingQueue) Push(it queueItem) {
	heap.Push(&q.items, it)
}

func (q *pendingQueue) Pop() (queueItem, bool) {
	if len(q.items) == 0 {
		return queueItem{}, false
	}
	return heap.Pop(&q.items).(queueItem), true
}

func (q *pendingQueue) Len() int {
	return len(q.items)
}

type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
