package counter

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const webhookOutcomesKey = "webhook:counters:outcomes"

// Webhook outcomes tracked per response.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Counter keeps webhook outcome totals in a Redis hash so every instance
// contributes to the same numbers. Without a client totals are kept in
// process memory. A nil *Counter is a no-op.
type Counter struct {
	client *redis.Client

	mu    sync.Mutex
	local map[string]int64
}

func New(client *redis.Client) *Counter {
	return &Counter{client: client, local: map[string]int64{}}
}

// Outcome classifies a finished webhook call.
func Outcome(status int, duplicate bool) string {
	switch {
	case duplicate:
		return OutcomeDuplicate
	case status >= 400 && status < 500:
		return "rejected_" + strconv.Itoa(status)
	case status >= 500:
		return OutcomeFailed
	default:
		return OutcomeProcessed
	}
}

// Add increments the counter for outcome.
func (c *Counter) Add(ctx context.Context, outcome string) error {
	if c == nil {
		return nil
	}
	if c.client == nil {
		c.mu.Lock()
		c.local[outcome]++
		c.mu.Unlock()
		return nil
	}
	return c.client.HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// Snapshot returns all outcome totals.
func (c *Counter) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	if c == nil {
		return out, nil
	}
	if c.client == nil {
		c.mu.Lock()
		for k, v := range c.local {
			out[k] = v
		}
		c.mu.Unlock()
		return out, nil
	}
	data, err := c.client.HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset drops all totals.
func (c *Counter) Reset(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.client == nil {
		c.mu.Lock()
		c.local = map[string]int64{}
		c.mu.Unlock()
		return nil
	}
	return c.client.Del(ctx, webhookOutcomesKey).Err()
}
