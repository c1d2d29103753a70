// Package queue provides the blocking, depth-ordered frontier shared by the
// crawl workers.
package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"snapcrawl/pkg/models"
)

// taskHeap orders pending tasks by depth so shallow pages render before deep
// ones. Ordering among equal depths is unspecified; the crawl's correctness
// does not depend on it.
type taskHeap []*models.CrawlTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].Depth < h[j].Depth }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*models.CrawlTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return task
}

// TaskQueue is a thread-safe priority queue of crawl tasks. Pop blocks while
// the queue is open and empty; Close lets the remaining tasks drain but
// rejects new ones.
type TaskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond // Signals waiting workers when a task arrives or the queue closes
	heap   taskHeap
	closed bool
	log    *logrus.Logger
}

// NewTaskQueue creates an empty open queue
func NewTaskQueue(logger *logrus.Logger) *TaskQueue {
	q := &TaskQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues a task and wakes one waiting worker. Returns false if the
// queue has been closed; callers that count in-flight tasks must undo their
// accounting on a false return.
func (q *TaskQueue) Add(task *models.CrawlTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Rejected task for closed queue: %s", task.URL)
		return false
	}
	heap.Push(&q.heap, task)
	q.cond.Signal()
	return true
}

// Pop retrieves and removes the shallowest pending task. It blocks while the
// queue is empty and open; once the queue is closed and drained it returns
// nil and false, signalling workers to exit.
func (q *TaskQueue) Pop() (*models.CrawlTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 {
		if q.closed {
			return nil, false
		}
		// Wait releases the lock until a Signal/Broadcast, then reacquires it
		q.cond.Wait()
	}

	return heap.Pop(&q.heap).(*models.CrawlTask), true
}

// Close marks the queue as accepting no further tasks and wakes every
// waiting worker. Safe to call more than once.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the number of pending tasks
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
