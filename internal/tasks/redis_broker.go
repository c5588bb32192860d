package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popDueScript atomically removes and returns the earliest task whose score
// (eligibility, unix millis) is <= ARGV[1].
var popDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

const enqueueChunk = 500

// RedisBroker keeps tasks in a sorted set scored by eligibility time, so any
// number of worker processes can share one queue and delayed retries need no
// timer on the producer side.
type RedisBroker struct {
	client       redis.UniversalClient
	key          string
	pollInterval time.Duration
	now          func() time.Time
}

// NewRedisBroker stores the queue under prefix+"tasks:queue".
func NewRedisBroker(client redis.UniversalClient, prefix string, pollInterval time.Duration) *RedisBroker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &RedisBroker{
		client:       client,
		key:          prefix + "tasks:queue",
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (b *RedisBroker) Enqueue(ctx context.Context, tasks ...Task) error {
	for start := 0; start < len(tasks); start += enqueueChunk {
		end := start + enqueueChunk
		if end > len(tasks) {
			end = len(tasks)
		}

		members := make([]redis.Z, 0, end-start)
		for _, t := range tasks[start:end] {
			raw, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode task %s: %w", t.ID, err)
			}
			members = append(members, redis.Z{
				Score:  float64(t.EligibleAt.UnixMilli()),
				Member: raw,
			})
		}
		if err := b.client.ZAdd(ctx, b.key, members...).Err(); err != nil {
			return fmt.Errorf("enqueue tasks: %w", err)
		}
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context) (Task, error) {
	for {
		raw, err := popDueScript.Run(ctx, b.client, []string{b.key}, b.now().UnixMilli()).Text()
		switch {
		case err == nil:
			var t Task
			if decodeErr := json.Unmarshal([]byte(raw), &t); decodeErr != nil {
				return Task{}, Permanent(fmt.Errorf("decode queued task: %w", decodeErr))
			}
			return t, nil
		case errors.Is(err, redis.Nil):
		default:
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("dequeue task: %w", err)
		}

		timer := time.NewTimer(b.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Task{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	n, err := b.client.ZCard(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

var _ Broker = (*RedisBroker)(nil)
