package queue

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-trade-relay/internal/observability"
)

// Default retention for enqueue idempotency keys. Long enough to cover
// any plausible upstream redelivery, short enough to bound memory.
const defaultDedupTTL = 24 * time.Hour

// RedisQueue implements Queue on a Redis stream with a consumer group.
// Durability, at-least-once delivery and stall detection come from the
// stream's pending-entries list: a consumer that crashes mid-job
// leaves the entry pending, and the reclaim loop redelivers it once
// its idle time exceeds the backoff for its delivery count.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	dedupTTL time.Duration
	logger   *log.Logger
}

// RedisQueueOptions configures a RedisQueue.
type RedisQueueOptions struct {
	// Stream is the Redis stream key. Required.
	Stream string
	// Group is the consumer group name. Default "workers".
	Group string
	// Consumer is this process's consumer name. Default "worker-1".
	Consumer string
	// DedupTTL is the idempotency key retention. Default 24h.
	DedupTTL time.Duration
	// Logger receives queue diagnostics. Nil discards.
	Logger *log.Logger
}

// NewRedisQueue creates a RedisQueue. The consumer group is created
// lazily on first Consume.
func NewRedisQueue(client *redis.Client, opts RedisQueueOptions) *RedisQueue {
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "worker-1"
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &RedisQueue{
		client:   client,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: opts.Consumer,
		dedupTTL: opts.DedupTTL,
		logger:   opts.Logger,
	}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) dedupKey(id string) string {
	return q.stream + ":id:" + id
}

// deadStream is where exhausted jobs are parked for inspection.
func (q *RedisQueue) deadStream() string {
	return q.stream + ":dead"
}

// enqueueScript claims a job's idempotency key and appends the job to
// the stream in one atomic step. A job that never reached the stream
// leaves no key behind, so a retried batch is accepted rather than
// absorbed by the guard.
var enqueueScript = redis.NewScript(`
if redis.call("SET", KEYS[1], 1, "NX", "PX", ARGV[1]) then
	redis.call("XADD", KEYS[2], "*", "id", ARGV[2], "payload", ARGV[3])
	return 1
end
return 0
`)

// Enqueue submits jobs in bulk, skipping IDs enqueued within the
// dedup window.
func (q *RedisQueue) Enqueue(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	ttl := q.dedupTTL.Milliseconds()
	var fresh int
	for _, job := range jobs {
		added, err := enqueueScript.Run(ctx, q.client,
			[]string{q.dedupKey(job.ID), q.stream},
			ttl, job.ID, job.Payload).Int()
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", job.ID, err)
		}
		if added == 0 {
			observability.RecordEnqueueDeduped()
			continue
		}
		fresh++
	}

	if fresh > 0 {
		observability.RecordJobsEnqueued(fresh)
	}
	return nil
}

// Consume runs opts.Concurrency blocking readers plus one reclaim loop
// until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context, opts Options, handler Handler) error {
	opts = opts.withDefaults()

	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.readLoop(ctx, fmt.Sprintf("%s-%d", q.consumer, n), opts, handler)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.reclaimLoop(ctx, opts, handler)
	}()

	wg.Wait()
	return ctx.Err()
}

// ensureGroup creates the consumer group, tolerating concurrent creation.
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// readLoop blocks on new stream entries and processes them one at a time.
func (q *RedisQueue) readLoop(ctx context.Context, consumer string, opts Options, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			q.logger.Printf("xreadgroup: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				q.process(ctx, msg, 1, handler)
			}
		}
	}
}

// process runs a delivered message through the handler and acks on
// success. On failure the entry stays pending for the reclaim loop.
func (q *RedisQueue) process(ctx context.Context, msg redis.XMessage, attempt int, handler Handler) {
	job, ok := decodeJob(msg, attempt)
	if !ok {
		q.logger.Printf("malformed stream entry %s, discarding", msg.ID)
		q.ack(ctx, msg.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		q.logger.Printf("job %s attempt %d: %v", job.ID, attempt, err)
		observability.RecordJobRetryScheduled()
		return
	}

	q.ack(ctx, msg.ID)
	observability.RecordJobProcessed()
}

func (q *RedisQueue) ack(ctx context.Context, msgID string) {
	if err := q.client.XAck(ctx, q.stream, q.group, msgID).Err(); err != nil {
		q.logger.Printf("xack %s: %v", msgID, err)
		return
	}
	if err := q.client.XDel(ctx, q.stream, msgID).Err(); err != nil {
		q.logger.Printf("xdel %s: %v", msgID, err)
	}
}

// reclaimLoop redelivers pending entries whose idle time has exceeded
// their backoff, and parks entries that exhausted their attempts.
func (q *RedisQueue) reclaimLoop(ctx context.Context, opts Options, handler Handler) {
	ticker := time.NewTicker(opts.Backoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.stream,
			Group:  q.group,
			Start:  "-",
			End:    "+",
			Count:  128,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Printf("xpending: %v", err)
			}
			continue
		}

		for _, p := range pending {
			attempts := int(p.RetryCount)
			if attempts >= opts.MaxAttempts {
				q.park(ctx, p.ID, attempts)
				continue
			}

			delay := retryDelay(opts.Backoff, attempts)
			if p.Idle < delay {
				continue
			}

			claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   q.stream,
				Group:    q.group,
				Consumer: q.consumer,
				MinIdle:  delay,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					q.logger.Printf("xclaim %s: %v", p.ID, err)
				}
				continue
			}

			for _, msg := range claimed {
				q.process(ctx, msg, attempts+1, handler)
			}
		}
	}
}

// park moves an exhausted entry to the dead stream. Parked jobs are
// observable via the dead stream and the parked-jobs counter; they are
// never silently dropped.
func (q *RedisQueue) park(ctx context.Context, msgID string, attempts int) {
	msgs, err := q.client.XRangeN(ctx, q.stream, msgID, msgID, 1).Result()
	if err != nil {
		q.logger.Printf("xrange %s: %v", msgID, err)
		return
	}

	if len(msgs) > 0 {
		values := map[string]interface{}{"attempts": attempts}
		for k, v := range msgs[0].Values {
			values[k] = v
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.deadStream(),
			Values: values,
		}).Err(); err != nil {
			q.logger.Printf("park %s: %v", msgID, err)
			return
		}
	}

	q.ack(ctx, msgID)
	observability.RecordJobParked()
	q.logger.Printf("job %s parked after %d attempts", msgID, attempts)
}

// decodeJob maps a stream entry back to a Job.
func decodeJob(msg redis.XMessage, attempt int) (Job, bool) {
	id, _ := msg.Values["id"].(string)
	payload, _ := msg.Values["payload"].(string)
	if id == "" || payload == "" {
		return Job{}, false
	}
	return Job{ID: id, Payload: []byte(payload), Attempt: attempt}, true
}
