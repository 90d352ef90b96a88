// Package queue provides the bounded scan queue between message ingestion
// and the scanner. Under sustained overload the newest messages are the most
// actionable, so the queue sheds its oldest entry instead of blocking the
// gateway handler or rejecting new work.
package queue

import (
	"sync"
	"time"
)

// Job is an immutable snapshot of one message awaiting a scan.
type Job struct {
	CommunityID string
	ChannelID   string
	ChannelName string
	CategoryID  string
	MessageID   string
	AuthorID    string
	AuthorName  string
	RoleIDs     []string
	Content     string
	Timestamp   time.Time

	// Dropped is invoked exactly once if the job is shed by the capacity
	// policy or offered after shutdown.
	Dropped func(*Job)
}

// Queue is a fixed-capacity FIFO that discards its oldest entry when full.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	jobs     []*Job
	capacity int
	closed   bool
}

func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Put admits a job, discarding the oldest queued job when at capacity. Jobs
// offered after Close are rejected through their Dropped hook. Put never
// blocks on the consumer.
func (q *Queue) Put(job *Job) {
	var dropped *Job

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if job.Dropped != nil {
			job.Dropped(job)
		}
		return
	}
	if len(q.jobs) == q.capacity {
		dropped = q.jobs[0]
		q.jobs = q.jobs[1:]
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.notEmpty.Signal()

	// the hook may hit the network; never hold the lock across it
	if dropped != nil && dropped.Dropped != nil {
		dropped.Dropped(dropped)
	}
}

// Get blocks until a job is available. It returns ok=false only after Close
// has been called and every previously queued job has been delivered.
func (q *Queue) Get() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Close marks the end of the stream. Jobs already queued are still delivered;
// shutdown itself never drops accepted work.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
