package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter describes a task abandoned after its final failed attempt.
type DeadLetter struct {
	Task     Task      `json:"task"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterSink receives abandoned tasks.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, letter DeadLetter) error
}

// MultiSink fans a dead letter out to every sink and joins their errors.
type MultiSink []DeadLetterSink

func (m MultiSink) DeadLetter(ctx context.Context, letter DeadLetter) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.DeadLetter(ctx, letter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryDeadLetters retains the most recent letters in process.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
	limit   int
}

// NewMemoryDeadLetters keeps at most limit letters.
func NewMemoryDeadLetters(limit int) *MemoryDeadLetters {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryDeadLetters{limit: limit}
}

func (m *MemoryDeadLetters) DeadLetter(_ context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, letter)
	if len(m.letters) > m.limit {
		m.letters = m.letters[len(m.letters)-m.limit:]
	}
	return nil
}

// Letters returns a copy of retained letters, oldest first.
func (m *MemoryDeadLetters) Letters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.letters))
	copy(out, m.letters)
	return out
}

// RedisDeadLetters pushes letters onto a capped list.
type RedisDeadLetters struct {
	client redis.UniversalClient
	key    string
	limit  int64
}

// NewRedisDeadLetters stores letters under prefix+"tasks:dead".
func NewRedisDeadLetters(client redis.UniversalClient, prefix string, limit int64) *RedisDeadLetters {
	if limit <= 0 {
		limit = 10000
	}
	return &RedisDeadLetters{client: client, key: prefix + "tasks:dead", limit: limit}
}

func (r *RedisDeadLetters) DeadLetter(ctx context.Context, letter DeadLetter) error {
	raw, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, raw)
	pipe.LTrim(ctx, r.key, 0, r.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// Recent returns up to n letters, newest first.
func (r *RedisDeadLetters) Recent(ctx context.Context, n int64) ([]DeadLetter, error) {
	raws, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var l DeadLetter
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

var (
	_ DeadLetterSink = MultiSink(nil)
	_ DeadLetterSink = (*MemoryDeadLetters)(nil)
	_ DeadLetterSink = (*RedisDeadLetters)(nil)
)
