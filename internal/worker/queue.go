package worker

import "sync"

// jobQueue is a thread-safe FIFO queue for jobs.
//
// The queue is unbounded so that commit hooks never block the committing
// goroutine, however many continuations a batch schedules.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type jobQueue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

// newJobQueue creates an empty queue with room for capacity jobs.
func newJobQueue(capacity int) *jobQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &jobQueue{
		jobs:   make([]Job, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Job{}, false) if queue is empty.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	j := q.jobs[0]

	// Nil out the slot so the job's closure can be collected.
	q.jobs[0] = Job{}

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	return j, true
}

// Wait returns a channel that signals when jobs may be available.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close signals that no more jobs will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
