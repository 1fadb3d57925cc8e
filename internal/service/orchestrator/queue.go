package orchestrator

import "sync"

// jobQueue is a bounded FIFO that rejects new jobs when full.
type jobQueue struct {
	maxSize int
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*Job, 0, maxSize),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrOrchestratorStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a job is available. It returns false once the queue is
// closed and drained.
func (q *jobQueue) Dequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.pop()
}

func (q *jobQueue) TryDequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.pop()
}

func (q *jobQueue) pop() (*Job, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Contains(campaignID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for _, job := range q.items {
		if job.CampaignID == campaignID {
			return true
		}
	}
	return false
}

func (q *jobQueue) Remove(campaignID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for i, job := range q.items {
		if job.CampaignID == campaignID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mutex.Unlock()
}
