package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testStream = "events"
	testGroup  = "workers"
)

// storeFactories lets every contract test run against both implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client)
		},
	}
}

func fields(n string) map[string]any {
	return map[string]any{"n": n}
}

func fieldValue(t *testing.T, e Entry) string {
	t.Helper()
	switch v := e.Fields["n"].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	t.Fatalf("unexpected field type %T", e.Fields["n"])
	return ""
}

func TestStore_EnsureGroupIdempotent(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))
			require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))
		})
	}
}

func TestStore_ReadWithoutGroup(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			_, err := s.Append(ctx, testStream, fields("a"), 0)
			require.NoError(t, err)

			_, err = s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: "missing", Consumer: "c1", Count: 10})
			assert.ErrorIs(t, err, ErrNoGroup)
		})
	}
}

func TestStore_GroupDeliversBacklogOnce(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			// Entries appended before the group exists are still delivered.
			for _, n := range []string{"a", "b", "c"} {
				_, err := s.Append(ctx, testStream, fields(n), 0)
				require.NoError(t, err)
			}
			require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

			first, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 2})
			require.NoError(t, err)
			require.Len(t, first, 2)
			assert.Equal(t, "a", fieldValue(t, first[0]))
			assert.Equal(t, "b", fieldValue(t, first[1]))

			second, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c2", Count: 10})
			require.NoError(t, err)
			require.Len(t, second, 1)
			assert.Equal(t, "c", fieldValue(t, second[0]))

			empty, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10})
			require.NoError(t, err)
			assert.Empty(t, empty)

			pending, err := s.Pending(ctx, testStream, testGroup)
			require.NoError(t, err)
			assert.EqualValues(t, 3, pending)
		})
	}
}

func TestStore_PendingReplayAndAck(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

			id1, err := s.Append(ctx, testStream, fields("a"), 0)
			require.NoError(t, err)
			id2, err := s.Append(ctx, testStream, fields("b"), 0)
			require.NoError(t, err)
			assert.NotEqual(t, id1, id2)

			got, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10})
			require.NoError(t, err)
			require.Len(t, got, 2)

			require.NoError(t, s.Ack(ctx, testStream, testGroup, id1))

			// Only the unacknowledged entry is replayed, and only to its owner.
			replay, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10, Pending: true})
			require.NoError(t, err)
			require.Len(t, replay, 1)
			assert.Equal(t, id2, replay[0].ID)
			assert.Equal(t, "b", fieldValue(t, replay[0]))

			other, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c2", Count: 10, Pending: true})
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, s.Ack(ctx, testStream, testGroup, id2))
			pending, err := s.Pending(ctx, testStream, testGroup)
			require.NoError(t, err)
			assert.Zero(t, pending)
		})
	}
}

func TestStore_ClaimIdle(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

			_, err := s.Append(ctx, testStream, fields("a"), 0)
			require.NoError(t, err)

			got, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "dead", Count: 10})
			require.NoError(t, err)
			require.Len(t, got, 1)

			claimed, err := s.ClaimIdle(ctx, ClaimArgs{Stream: testStream, Group: testGroup, Consumer: "alive", MinIdle: 0, Count: 10})
			require.NoError(t, err)
			require.Len(t, claimed, 1)
			assert.Equal(t, got[0].ID, claimed[0].ID)

			mine, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "alive", Count: 10, Pending: true})
			require.NoError(t, err)
			assert.Len(t, mine, 1)
		})
	}
}

func TestMemoryStore_ClaimIdleRespectsMinIdle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

	_, err := s.Append(ctx, testStream, fields("a"), 0)
	require.NoError(t, err)
	_, err = s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 1})
	require.NoError(t, err)

	claimed, err := s.ClaimIdle(ctx, ClaimArgs{Stream: testStream, Group: testGroup, Consumer: "c2", MinIdle: time.Minute, Count: 10})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	now = now.Add(2 * time.Minute)
	claimed, err = s.ClaimIdle(ctx, ClaimArgs{Stream: testStream, Group: testGroup, Consumer: "c2", MinIdle: time.Minute, Count: 10})
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestMemoryStore_MaxLenTrimsOldest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

	first, err := s.Append(ctx, testStream, fields("a"), 0)
	require.NoError(t, err)
	_, err = s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 1})
	require.NoError(t, err)

	for _, n := range []string{"b", "c", "d"} {
		_, err := s.Append(ctx, testStream, fields(n), 2)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Len(testStream))

	// The trimmed entry stays pending but has lost its payload.
	replay, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10, Pending: true})
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, first, replay[0].ID)
	assert.Nil(t, replay[0].Fields)

	fresh, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "c", fieldValue(t, fresh[0]))
}

func TestMemoryStore_BlockingReadWakesOnAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

	var wg sync.WaitGroup
	var got []Entry
	var readErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, readErr = s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10, Block: 5 * time.Second})
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := s.Append(ctx, testStream, fields("late"), 0)
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, readErr)
	require.Len(t, got, 1)
	assert.Equal(t, "late", fieldValue(t, got[0]))
}

func TestMemoryStore_BlockingReadTimesOut(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureGroup(ctx, testStream, testGroup))

	start := time.Now()
	got, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10, Block: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMemoryStore_BlockingReadHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.EnsureGroup(context.Background(), testStream, testGroup))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.ReadGroup(ctx, ReadArgs{Stream: testStream, Group: testGroup, Consumer: "c1", Count: 10, Block: time.Minute})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisStore_AppendTrimsApproximately(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := s.Append(ctx, testStream, fields("x"), 5)
		require.NoError(t, err)
	}

	n, err := client.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(20))
	assert.GreaterOrEqual(t, n, int64(5))
}
