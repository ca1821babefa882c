package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore records the first acceptance of each event id.
//
// TryAcquire is an atomic check-and-set: when id was accepted less than the
// dedupe window ago it returns false and the original acceptance time,
// otherwise it records now under id and returns true.
type IdempotencyStore interface {
	TryAcquire(ctx context.Context, id string, now time.Time) (bool, time.Time, error)
}

// MemoryIdempotencyStore keeps records in process memory. Records are swept
// on every insertion once they are older than the retention window.
type MemoryIdempotencyStore struct {
	mu        sync.Mutex
	records   map[string]time.Time
	window    time.Duration
	retention time.Duration
}

func NewMemoryIdempotencyStore(window, retention time.Duration) *MemoryIdempotencyStore {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if retention < window {
		retention = window
	}
	return &MemoryIdempotencyStore{
		records:   make(map[string]time.Time),
		window:    window,
		retention: retention,
	}
}

func (s *MemoryIdempotencyStore) TryAcquire(_ context.Context, id string, now time.Time) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if first, ok := s.records[id]; ok && now.Sub(first) < s.window {
		return false, first, nil
	}

	s.records[id] = now
	s.sweep(now)
	return true, now, nil
}

func (s *MemoryIdempotencyStore) sweep(now time.Time) {
	for id, first := range s.records {
		if now.Sub(first) > s.retention {
			delete(s.records, id)
		}
	}
}

// Lookup returns the recorded acceptance time for id, if still retained.
func (s *MemoryIdempotencyStore) Lookup(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.records[id]
	return t, ok
}

// Len returns the number of retained records.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

const idempotencyKeyPrefix = "webhook:idempotency:"

// KEYS[1] record key; ARGV now ms, window ms, retention ms
var tryAcquireScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  local first = tonumber(prev)
  if first and (tonumber(ARGV[1]) - first) < tonumber(ARGV[2]) then
    return {0, first}
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return {1, tonumber(ARGV[1])}
`)

// RedisIdempotencyStore shares records between instances. Redis key expiry
// takes the place of the in-memory sweep.
type RedisIdempotencyStore struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, window, retention time.Duration) *RedisIdempotencyStore {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if retention < window {
		retention = window
	}
	return &RedisIdempotencyStore{client: client, window: window, retention: retention}
}

func (s *RedisIdempotencyStore) TryAcquire(ctx context.Context, id string, now time.Time) (bool, time.Time, error) {
	res, err := tryAcquireScript.Run(ctx, s.client,
		[]string{idempotencyKeyPrefix + id},
		now.UnixMilli(), s.window.Milliseconds(), s.retention.Milliseconds(),
	).Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("idempotency check for %s: %w", id, err)
	}
	if len(res) != 2 {
		return false, time.Time{}, fmt.Errorf("idempotency check for %s: unexpected reply %v", id, res)
	}
	acquired, _ := res[0].(int64)
	firstMs, _ := res[1].(int64)
	return acquired == 1, time.UnixMilli(firstMs), nil
}
