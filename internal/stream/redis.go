package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for NewRedisClient.
type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// NewRedisClient creates a client and verifies the connection with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisStore is a Store backed by Redis Streams.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup implements Store. The group starts at the beginning of the
// stream so entries appended before the first consumer ran are not lost.
func (s *RedisStore) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup implements Store.
func (s *RedisStore) ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error) {
	start := ">"
	block := args.Block
	if args.Pending {
		start = "0"
		block = -1
	} else if block <= 0 {
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, start},
		Count:    args.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, args.Group, args.Stream)
		}
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", args.Stream, args.Group, err)
	}

	var entries []Entry
	for _, st := range streams {
		entries = append(entries, toEntries(st.Messages)...)
	}
	return entries, nil
}

// Ack implements Store.
func (s *RedisStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return nil
}

// ClaimIdle implements Store using XAUTOCLAIM from the start of the pending list.
func (s *RedisStore) ClaimIdle(ctx context.Context, args ClaimArgs) ([]Entry, error) {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Start:    "0-0",
		Count:    args.Count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s/%s: %w", args.Stream, args.Group, err)
	}
	return toEntries(msgs), nil
}

// Pending implements Store.
func (s *RedisStore) Pending(ctx context.Context, stream, group string) (int64, error) {
	p, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}
	return p.Count, nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{ID: m.ID, Fields: m.Values})
	}
	return entries
}
