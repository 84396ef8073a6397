package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and single-process deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	inflight map[string]*lease
	lease    time.Duration
}

type lease struct {
	job      *Job
	deadline time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueueOption configures a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithMemoryLease sets how long claimed jobs stay leased.
func WithMemoryLease(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		jobs:     make(map[string]*Job),
		inflight: make(map[string]*lease),
		lease:    DefaultLease,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	c := *job
	q.jobs[job.ID] = &c
	delete(q.inflight, job.ID)

	return nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.jobs, jobID)
	delete(q.inflight, jobID)

	return nil
}

func (q *MemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*Job, 0)

	for _, job := range q.jobs {
		if !job.RunAt.After(now) {
			due = append(due, job)
		}
	}

	sortJobs(due)

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))

	for _, job := range due {
		delete(q.jobs, job.ID)
		q.inflight[job.ID] = &lease{job: job, deadline: now.Add(q.lease)}

		c := *job
		claimed = append(claimed, &c)
	}

	return claimed, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, jobID)

	return nil
}

func (q *MemoryQueue) RequeueExpired(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	requeued := 0

	for id, l := range q.inflight {
		if l.deadline.After(now) {
			continue
		}

		delete(q.inflight, id)

		if _, ok := q.jobs[id]; !ok {
			q.jobs[id] = l.job
			requeued++
		}
	}

	return requeued, nil
}

// Pending returns a snapshot of the waiting jobs ordered by RunAt.
func (q *MemoryQueue) Pending() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		c := *job
		jobs = append(jobs, &c)
	}

	sortJobs(jobs)

	return jobs
}

// InFlight returns the number of claimed jobs not yet acknowledged.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.inflight)
}

func (q *MemoryQueue) Close() error { return nil }

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].ID < jobs[j].ID
		}

		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
}
