package fleet

import (
	"errors"
	"sync"

	"github.com/toricodesthings/compound-association-service/internal/types"
)

var (
	ErrQueueClosed  = errors.New("fleet: queue closed")
	ErrDuplicateJob = errors.New("fleet: duplicate job id")
)

// queue is a FIFO of pending jobs. Each job is handed to exactly one claim.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []types.DocumentJob
	seen   map[string]struct{}
	closed bool
	// done is closed together with the queue.
	done chan struct{}
}

func newQueue() *queue {
	q := &queue{seen: make(map[string]struct{}), done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends job. accepted runs under the queue lock before the job becomes
// claimable, so it is ordered before anything a worker does with the job.
func (q *queue) push(job types.DocumentJob, accepted func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if _, dup := q.seen[job.ID]; dup {
		return ErrDuplicateJob
	}
	q.seen[job.ID] = struct{}{}
	if accepted != nil {
		accepted()
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// claim blocks until a job is available or the queue is closed and empty.
func (q *queue) claim() (types.DocumentJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return types.DocumentJob{}, false
	}
	job := q.items[0]
	q.items[0] = types.DocumentJob{}
	q.items = q.items[1:]
	return job, true
}

// close stops new submissions. Jobs already queued are still claimed.
func (q *queue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
