package validator

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// AllowList stores the resources each actor may act on. Entries are stored
// exactly as given; callers normalize first.
type AllowList interface {
	Contains(ctx context.Context, actorID, resource string) (bool, error)
	Add(ctx context.Context, actorID string, resources ...string) error
	Remove(ctx context.Context, actorID string, resources ...string) error
	Members(ctx context.Context, actorID string) ([]string, error)
}

// MemoryAllowList is an in-process AllowList.
type MemoryAllowList struct {
	mu      sync.RWMutex
	entries map[string]map[string]struct{}
}

// NewMemoryAllowList creates an empty allow-list.
func NewMemoryAllowList() *MemoryAllowList {
	return &MemoryAllowList{entries: make(map[string]map[string]struct{})}
}

// Contains implements AllowList.
func (m *MemoryAllowList) Contains(_ context.Context, actorID, resource string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[actorID][resource]
	return ok, nil
}

// Add implements AllowList.
func (m *MemoryAllowList) Add(_ context.Context, actorID string, resources ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.entries[actorID]
	if !ok {
		set = make(map[string]struct{})
		m.entries[actorID] = set
	}
	for _, r := range resources {
		set[r] = struct{}{}
	}
	return nil
}

// Remove implements AllowList.
func (m *MemoryAllowList) Remove(_ context.Context, actorID string, resources ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.entries[actorID]
	for _, r := range resources {
		delete(set, r)
	}
	if len(set) == 0 {
		delete(m.entries, actorID)
	}
	return nil
}

// Members implements AllowList. The result is sorted.
func (m *MemoryAllowList) Members(_ context.Context, actorID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries[actorID]))
	for r := range m.entries[actorID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// RedisKeyPrefix prefixes the per-actor set keys.
const RedisKeyPrefix = "whitelist:"

// RedisAllowList keeps one Redis set per actor under whitelist:<actor>.
type RedisAllowList struct {
	client redis.UniversalClient
}

// NewRedisAllowList creates an allow-list backed by client.
func NewRedisAllowList(client redis.UniversalClient) *RedisAllowList {
	return &RedisAllowList{client: client}
}

func redisKey(actorID string) string {
	return RedisKeyPrefix + actorID
}

// Contains implements AllowList.
func (r *RedisAllowList) Contains(ctx context.Context, actorID, resource string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, redisKey(actorID), resource).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check whitelist of %s", actorID)
	}
	return ok, nil
}

// Add implements AllowList.
func (r *RedisAllowList) Add(ctx context.Context, actorID string, resources ...string) error {
	if len(resources) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, redisKey(actorID), toAny(resources)...).Err(); err != nil {
		return errors.Wrapf(err, "add to whitelist of %s", actorID)
	}
	return nil
}

// Remove implements AllowList.
func (r *RedisAllowList) Remove(ctx context.Context, actorID string, resources ...string) error {
	if len(resources) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, redisKey(actorID), toAny(resources)...).Err(); err != nil {
		return errors.Wrapf(err, "remove from whitelist of %s", actorID)
	}
	return nil
}

// Members implements AllowList. The result is sorted.
func (r *RedisAllowList) Members(ctx context.Context, actorID string) ([]string, error) {
	out, err := r.client.SMembers(ctx, redisKey(actorID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list whitelist of %s", actorID)
	}
	sort.Strings(out)
	return out, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var (
	_ AllowList = (*MemoryAllowList)(nil)
	_ AllowList = (*RedisAllowList)(nil)
)
