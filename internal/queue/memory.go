package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used by tests and --use-memory
// mode. It mirrors RedisQueue semantics: idempotent enqueue, bounded
// concurrency, exponential-backoff retry, parking after the attempt
// ceiling.
type MemoryQueue struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	parked []Job

	jobs chan Job
	wg   sync.WaitGroup
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
// A capacity of 0 uses a reasonable default.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		seen: make(map[string]struct{}),
		jobs: make(chan Job, capacity),
	}
}

var _ Queue = (*MemoryQueue)(nil)

// Enqueue submits jobs, dropping IDs enqueued before. An ID is
// recorded only once its job is buffered, so a "queue full" failure
// does not poison the retry.
func (q *MemoryQueue) Enqueue(_ context.Context, jobs []Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range jobs {
		if _, dup := q.seen[job.ID]; dup {
			continue
		}
		job.Attempt = 1
		select {
		case q.jobs <- job:
			q.seen[job.ID] = struct{}{}
		default:
			return fmt.Errorf("queue full")
		}
	}
	return nil
}

// Consume delivers jobs until ctx is cancelled.
func (q *MemoryQueue) Consume(ctx context.Context, opts Options, handler Handler) error {
	opts = opts.withDefaults()

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.process(ctx, opts, job, handler)
				}
			}
		}()
	}

	wg.Wait()
	q.wg.Wait() // outstanding retry timers
	return ctx.Err()
}

func (q *MemoryQueue) process(ctx context.Context, opts Options, job Job, handler Handler) {
	err := handler(ctx, job)
	if err == nil {
		return
	}

	if job.Attempt >= opts.MaxAttempts {
		q.mu.Lock()
		q.parked = append(q.parked, job)
		q.mu.Unlock()
		return
	}

	delay := retryDelay(opts.Backoff, job.Attempt)
	next := job
	next.Attempt++

	q.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer q.wg.Done()
		select {
		case q.jobs <- next:
		case <-ctx.Done():
		}
	})
}

// Parked returns jobs that exhausted their attempts.
func (q *MemoryQueue) Parked() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.parked))
	copy(out, q.parked)
	return out
}

// Len returns the number of jobs waiting for delivery.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
