package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/stream"
)

const (
	testStream = "events"
	testGroup  = "workers"
	testType   = "scheduler.job.fired"
)

func testConfig(name string) Config {
	return Config{
		Stream:       testStream,
		Group:        testGroup,
		Consumer:     name,
		Count:        5,
		Block:        20 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
	}
}

func appendEvent(t *testing.T, store stream.Store, eventType string, n int) string {
	t.Helper()
	event, err := bus.NewEvent(eventType, "test", time.Now().UnixMilli(), map[string]any{"n": n})
	require.NoError(t, err)
	id, err := store.Append(context.Background(), testStream, event.ToFields(), 0)
	require.NoError(t, err)
	return id
}

// runConsumer starts c in the background and returns a function that stops
// it and waits for Start to return.
func runConsumer(t *testing.T, c *Consumer) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()
	require.Eventually(t, c.IsRunning, time.Second, time.Millisecond)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.Stop()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("consumer did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func pendingCount(t *testing.T, store stream.Store) int64 {
	t.Helper()
	n, err := store.Pending(context.Background(), testStream, testGroup)
	require.NoError(t, err)
	return n
}

// recorder collects handled event ids.
type recorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string]int)}
}

func (r *recorder) handle(_ context.Context, event bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[event.ID]++
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.seen {
		n += c
	}
	return n
}

// flakyStore fails the first failReads group reads.
type flakyStore struct {
	*stream.MemoryStore
	failReads atomic.Int32
	reads     atomic.Int32
}

func (s *flakyStore) ReadGroup(ctx context.Context, args stream.ReadArgs) ([]stream.Entry, error) {
	s.reads.Add(1)
	if s.failReads.Add(-1) >= 0 {
		return nil, errors.New("read tcp: connection reset by peer")
	}
	return s.MemoryStore.ReadGroup(ctx, args)
}

// countingSink records consumer outcomes.
type countingSink struct {
	metrics.NoopSink
	mu         sync.Mutex
	handled    map[string]int
	readErrors atomic.Int32
}

func newCountingSink() *countingSink {
	return &countingSink{handled: make(map[string]int)}
}

func (s *countingSink) EntryHandled(eventType, outcome string, _ time.Duration) {
	s.mu.Lock()
	s.handled[eventType+"/"+outcome]++
	s.mu.Unlock()
}

func (s *countingSink) ReadError() {
	s.readErrors.Add(1)
}

func (s *countingSink) outcomes(eventType, outcome string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled[eventType+"/"+outcome]
}

// blockRecordingStore records the Block of every read of new entries.
type blockRecordingStore struct {
	*stream.MemoryStore
	mu     sync.Mutex
	blocks []time.Duration
}

func (s *blockRecordingStore) ReadGroup(ctx context.Context, args stream.ReadArgs) ([]stream.Entry, error) {
	if !args.Pending {
		s.mu.Lock()
		s.blocks = append(s.blocks, args.Block)
		s.mu.Unlock()
	}
	return s.MemoryStore.ReadGroup(ctx, args)
}

func (s *blockRecordingStore) reads() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.blocks...)
}
