package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// GroupStatus summarises the terminal states reached by a group's members.
type GroupStatus struct {
	GroupID   string `json:"group_id"`
	Total     int    `json:"total"`
	Enqueued  int    `json:"enqueued"`
	Succeeded int    `json:"succeeded"`
	NotFound  int    `json:"not_found"`
	Failed    int    `json:"failed"`
}

// Finished counts members that reached a terminal state.
func (s GroupStatus) Finished() int {
	return s.Succeeded + s.NotFound + s.Failed
}

// Done reports whether every member reached a terminal state.
func (s GroupStatus) Done() bool {
	return s.Finished() >= s.Total
}

// GroupTracker records member outcomes of dispatched groups.
//
// Register is create-only: registering an existing group keeps its counters.
// MarkEnqueued raises the count of members known to be queued, so a retried
// dispatch resumes after them. Record counts each member id at most once.
type GroupTracker interface {
	Register(ctx context.Context, groupID string, total int) error
	MarkEnqueued(ctx context.Context, groupID string, enqueued int) error
	Record(ctx context.Context, groupID, memberID string, outcome Outcome) error
	Status(ctx context.Context, groupID string) (GroupStatus, error)
}

// MemoryGroupTracker keeps group counters in process.
type MemoryGroupTracker struct {
	mu       sync.Mutex
	groups   map[string]*GroupStatus
	recorded map[string]map[string]struct{}
}

// NewMemoryGroupTracker returns an empty tracker.
func NewMemoryGroupTracker() *MemoryGroupTracker {
	return &MemoryGroupTracker{
		groups:   make(map[string]*GroupStatus),
		recorded: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryGroupTracker) Register(_ context.Context, groupID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return nil
	}
	m.groups[groupID] = &GroupStatus{GroupID: groupID, Total: total}
	m.recorded[groupID] = make(map[string]struct{})
	return nil
}

func (m *MemoryGroupTracker) MarkEnqueued(_ context.Context, groupID string, enqueued int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if enqueued > g.Enqueued {
		g.Enqueued = enqueued
	}
	return nil
}

func (m *MemoryGroupTracker) Record(_ context.Context, groupID, memberID string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	seen := m.recorded[groupID]
	if _, dup := seen[memberID]; dup {
		return nil
	}
	seen[memberID] = struct{}{}
	switch outcome {
	case OutcomeSuccess:
		g.Succeeded++
	case OutcomeNotFound:
		g.NotFound++
	default:
		g.Failed++
	}
	return nil
}

func (m *MemoryGroupTracker) Status(_ context.Context, groupID string) (GroupStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return GroupStatus{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return *g, nil
}

// registerGroupScript creates the counters hash only if it does not exist.
var registerGroupScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'total', ARGV[1], 'enqueued', 0, ARGV[3], 0, ARGV[4], 0, ARGV[5], 0)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// markEnqueuedScript raises the enqueued watermark; -1 means unknown group.
var markEnqueuedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'enqueued') or '0')
if tonumber(ARGV[1]) > cur then
  redis.call('HSET', KEYS[1], 'enqueued', ARGV[1])
end
return 1
`)

// recordMemberScript counts a member outcome once; -1 means unknown group,
// 0 a member already recorded.
var recordMemberScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('PEXPIRE', KEYS[2], ARGV[3])
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
return 1
`)

// RedisGroupTracker keeps one counters hash and one recorded-members set per
// group, both expiring after ttl.
type RedisGroupTracker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGroupTracker stores groups under prefix+"tasks:group:{<id>}".
func NewRedisGroupTracker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGroupTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGroupTracker{client: client, prefix: prefix, ttl: ttl}
}

// the hash tag keeps both keys of a group in one cluster slot
func (r *RedisGroupTracker) key(groupID string) string {
	return r.prefix + "tasks:group:{" + groupID + "}"
}

func (r *RedisGroupTracker) membersKey(groupID string) string {
	return r.key(groupID) + ":members"
}

func (r *RedisGroupTracker) Register(ctx context.Context, groupID string, total int) error {
	err := registerGroupScript.Run(ctx, r.client, []string{r.key(groupID)},
		total, r.ttl.Milliseconds(),
		string(OutcomeSuccess), string(OutcomeNotFound), string(OutcomeFailed),
	).Err()
	if err != nil {
		return fmt.Errorf("register group %s: %w", groupID, err)
	}
	return nil
}

func (r *RedisGroupTracker) MarkEnqueued(ctx context.Context, groupID string, enqueued int) error {
	res, err := markEnqueuedScript.Run(ctx, r.client, []string{r.key(groupID)}, enqueued).Int()
	if err != nil {
		return fmt.Errorf("mark group %s enqueued: %w", groupID, err)
	}
	if res < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return nil
}

func (r *RedisGroupTracker) Record(ctx context.Context, groupID, memberID string, outcome Outcome) error {
	field := string(outcome)
	if outcome != OutcomeSuccess && outcome != OutcomeNotFound {
		field = string(OutcomeFailed)
	}
	res, err := recordMemberScript.Run(ctx, r.client,
		[]string{r.key(groupID), r.membersKey(groupID)},
		memberID, field, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("record group %s: %w", groupID, err)
	}
	if res < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	return nil
}

func (r *RedisGroupTracker) Status(ctx context.Context, groupID string) (GroupStatus, error) {
	fields, err := r.client.HGetAll(ctx, r.key(groupID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return GroupStatus{}, fmt.Errorf("group status %s: %w", groupID, err)
	}
	if _, ok := fields["total"]; !ok {
		return GroupStatus{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	atoi := func(name string) int {
		n, _ := strconv.Atoi(fields[name])
		return n
	}
	return GroupStatus{
		GroupID:   groupID,
		Total:     atoi("total"),
		Enqueued:  atoi("enqueued"),
		Succeeded: atoi(string(OutcomeSuccess)),
		NotFound:  atoi(string(OutcomeNotFound)),
		Failed:    atoi(string(OutcomeFailed)),
	}, nil
}

var (
	_ GroupTracker = (*MemoryGroupTracker)(nil)
	_ GroupTracker = (*RedisGroupTracker)(nil)
)
