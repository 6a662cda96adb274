package worker

import (
	"container/heap"

	"github.com/bookforge/bookforge/pkg/job"
)

// queueItem pairs a job with its admission sequence number. The sequence
// breaks priority ties so equal-priority jobs leave in submission order.
type queueItem struct {
	job *job.Job
	seq uint64
}

// priorityQueue is a max-heap on (priority, -seq). Not safe for concurrent
// use; the pool guards it with its own mutex.
type priorityQueue struct {
	items []queueItem
	seq   uint64
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(pq)
	return pq
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, k int) bool {
	if pq.items[i].job.Priority != pq.items[k].job.Priority {
		return pq.items[i].job.Priority > pq.items[k].job.Priority
	}
	return pq.items[i].seq < pq.items[k].seq
}

func (pq *priorityQueue) Swap(i, k int) {
	pq.items[i], pq.items[k] = pq.items[k], pq.items[i]
}

func (pq *priorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(queueItem))
}

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}

// push enqueues a job, stamping the next sequence number.
func (pq *priorityQueue) push(j *job.Job) {
	pq.seq++
	heap.Push(pq, queueItem{job: j, seq: pq.seq})
}

// pop removes and returns the highest-priority oldest job, or nil when
// empty.
func (pq *priorityQueue) pop() *job.Job {
	if pq.Len() == 0 {
		return nil
	}
	return heap.Pop(pq).(queueItem).job
}
