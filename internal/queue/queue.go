// Package queue provides the durable, at-least-once job queue that
// decouples webhook ingestion from trade processing.
package queue

import (
	"context"
	"time"
)

// Job is one unit of work. ID doubles as the idempotency key: two
// enqueues with the same ID within the retention window collapse into
// a single delivery.
type Job struct {
	ID      string
	Payload []byte
	Attempt int // delivery attempt, 1-based when handed to a Handler
}

// Handler processes one job. A non-nil error schedules a redelivery
// with exponential backoff until the attempt ceiling, after which the
// job is parked on the dead queue.
type Handler func(ctx context.Context, job Job) error

// Options control consumption behavior.
type Options struct {
	// Concurrency is the number of parallel consumers. Default 5.
	Concurrency int
	// MaxAttempts is the total delivery ceiling per job. Default 3.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles on each
	// subsequent attempt. Default 1s.
	Backoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// retryDelay is the backoff before redelivering a job that has already
// been delivered `attempts` times: base, 2*base, 4*base, ...
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return base << (attempts - 1)
}

// Queue is a durable at-least-once work queue with bulk enqueue,
// per-job idempotency, bounded-concurrency consumption, retry with
// exponential backoff, and parking of exhausted jobs.
type Queue interface {
	// Enqueue submits jobs in bulk. Jobs whose ID was already enqueued
	// within the retention window are silently dropped.
	Enqueue(ctx context.Context, jobs []Job) error

	// Consume delivers jobs to handler until ctx is cancelled. It
	// blocks; the returned error is ctx.Err() on normal shutdown.
	Consume(ctx context.Context, opts Options, handler Handler) error
}
