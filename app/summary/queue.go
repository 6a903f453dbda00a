package summary

import (
	"sync"
)

// Queue is a bounded work queue keyed by entry id. A key is refused while it
// is queued or being processed, so at most one job per entry is in flight.
type Queue struct {
	mu     sync.Mutex
	jobs   chan int64
	active map[int64]struct{}
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		jobs:   make(chan int64, size),
		active: make(map[int64]struct{}),
	}
}

// Enqueue reports whether the key was accepted. It never blocks; a full queue
// refuses the key and the sweeper offers it again later.
func (q *Queue) Enqueue(entryID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[entryID]; ok {
		return false
	}

	select {
	case q.jobs <- entryID:
		q.active[entryID] = struct{}{}
		return true
	default:
		return false
	}
}

func (q *Queue) Jobs() <-chan int64 {
	return q.jobs
}

// Done releases the key taken from Jobs.
func (q *Queue) Done(entryID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, entryID)
}

func (q *Queue) Len() int {
	return len(q.jobs)
}
