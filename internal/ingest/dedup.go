// Package ingest exposes the webhook endpoint that receives swap
// notification batches, parses them into trade events, and enqueues
// them for the workers.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL bounds how long a signature is remembered by the
// ingest-side dedup window. Webhook providers retry within minutes;
// anything older is caught by the queue's idempotency key and the
// unique constraint on the trades table.
const DefaultDedupTTL = 5 * time.Minute

// Deduper remembers recently enqueued transaction signatures. Seen is
// a pure read; Mark is called only after the signatures' jobs have
// been durably enqueued, so a failed enqueue leaves the window
// untouched and the upstream retry is not absorbed.
type Deduper interface {
	// Seen reports whether signature was marked within the TTL window.
	Seen(ctx context.Context, signature string) (bool, error)

	// Mark records signatures as enqueued for the TTL window.
	Mark(ctx context.Context, signatures []string) error
}

// RedisDeduper implements Deduper with EXISTS / SET EX, so the window
// is shared across replicas and survives restarts.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper. A zero ttl uses
// DefaultDedupTTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

var _ Deduper = (*RedisDeduper)(nil)

func dedupKey(signature string) string {
	return "dedup:sig:" + signature
}

func (d *RedisDeduper) Seen(ctx context.Context, signature string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(signature)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check %s: %w", signature, err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, signatures []string) error {
	if len(signatures) == 0 {
		return nil
	}
	pipe := d.client.Pipeline()
	for _, sig := range signatures {
		pipe.Set(ctx, dedupKey(sig), 1, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// MemoryDeduper is an in-process Deduper for tests and --use-memory
// mode. Entries expire lazily on lookup.
type MemoryDeduper struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper creates a MemoryDeduper. A zero ttl uses
// DefaultDedupTTL.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time)}
}

var _ Deduper = (*MemoryDeduper)(nil)

func (d *MemoryDeduper) Seen(_ context.Context, signature string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiry, ok := d.seen[signature]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(d.seen, signature)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) Mark(_ context.Context, signatures []string) error {
	expiry := time.Now().Add(d.ttl)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sig := range signatures {
		d.seen[sig] = expiry
	}
	return nil
}
