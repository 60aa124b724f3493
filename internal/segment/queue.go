package segment

import (
	"context"
	"errors"
	"sync"
)

// Policy selects how the queue treats a new segment while one is
// already pending.
type Policy int

const (
	// Coalesce keeps one slot; a new segment replaces an un-dequeued
	// pending one so feedback reflects the most recent frame.
	Coalesce Policy = iota
	// FIFO preserves every segment in arrival order up to capacity.
	FIFO
)

var (
	ErrFull   = errors.New("segment queue full")
	ErrClosed = errors.New("segment queue closed")
)

// Queue is the per-session holding area between segment arrival and
// the orchestrator's pull. Owned by exactly one session.
type Queue struct {
	mu       sync.Mutex
	policy   Policy
	capacity int
	jobs     []*Job
	closed   bool
	wake     chan struct{}
	closedCh chan struct{}
}

// NewQueue builds a queue. capacity is ignored for Coalesce (always 1).
func NewQueue(policy Policy, capacity int) *Queue {
	if policy == Coalesce {
		capacity = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		policy:   policy,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Offer submits a job. Under Coalesce a pending job is replaced and
// failed with ErrSuperseded; under FIFO a full queue rejects with
// ErrFull and nothing is dropped.
func (q *Queue) Offer(j *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	var superseded *Job
	switch q.policy {
	case Coalesce:
		if len(q.jobs) > 0 {
			superseded = q.jobs[len(q.jobs)-1]
			q.jobs = q.jobs[:0]
		}
		q.jobs = append(q.jobs, j)
	default:
		if len(q.jobs) >= q.capacity {
			q.mu.Unlock()
			return ErrFull
		}
		q.jobs = append(q.jobs, j)
	}
	q.mu.Unlock()

	if superseded != nil {
		superseded.Fail(ErrSuperseded)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a job is available, the queue closes, or ctx ends.
func (q *Queue) Next(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return j, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closedCh:
			return nil, ErrClosed
		case <-q.wake:
		}
	}
}

// Close rejects future offers, drains pending jobs as failed, and
// unblocks waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.jobs
	q.jobs = nil
	close(q.closedCh)
	q.mu.Unlock()

	for _, j := range pending {
		j.Fail(ErrClosed)
	}
}

// Pending reports how many jobs await dequeue.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
