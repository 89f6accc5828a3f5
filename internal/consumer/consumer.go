// Package consumer reads domain events from one stream as a member of a
// consumer group and dispatches them to handlers by event type.
//
// Delivery is at-least-once. An entry is acknowledged only after its handler
// succeeds, or when no handler is registered for its type. Entries whose
// handler fails or that cannot be decoded stay pending and are redelivered
// to this consumer on restart, or to another member through ClaimIdle.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/aatumaykin/jobrelay/internal/bus"
	"github.com/aatumaykin/jobrelay/internal/constants"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/metrics"
	"github.com/aatumaykin/jobrelay/internal/stream"
	"github.com/aatumaykin/jobrelay/internal/workers"
)

// ErrAlreadyRunning is returned by Start on a consumer that is running.
var ErrAlreadyRunning = errors.New("consumer is already running")

// HandlerFunc processes one event. A non-nil error leaves the entry pending.
type HandlerFunc func(ctx context.Context, event bus.Event) error

// Config binds a consumer to a stream and a group.
type Config struct {
	Stream   string
	Group    string
	Consumer string

	Count        int64         // max entries per read
	Block        time.Duration // max wait for new entries, defaults to 5s
	ErrorBackoff time.Duration // pause after a failed read

	// ClaimIdle > 0 makes every iteration first take over entries that
	// other members left unacknowledged for at least this long.
	ClaimIdle time.Duration
	// Concurrency > 1 runs the handlers of one batch in parallel.
	Concurrency int
}

// Consumer is a single group member. Handlers may be registered at any time.
type Consumer struct {
	store   stream.Store
	cfg     Config
	logger  *logger.Logger
	metrics metrics.Sink

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	running atomic.Bool

	// runMu guards the channels of the current run. done is closed when the
	// loop of that run has returned.
	runMu    sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
	stopping bool
}

// New creates a consumer. log and sink may be nil.
func New(store stream.Store, cfg Config, log *logger.Logger, sink metrics.Sink) *Consumer {
	if cfg.Count <= 0 {
		cfg.Count = constants.DefaultReadCount
	}
	if cfg.Block <= 0 {
		cfg.Block = constants.DefaultReadBlock
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = constants.DefaultErrorBackoff
	}
	if log == nil {
		log = logger.Discard()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Consumer{
		store:   store,
		cfg:     cfg,
		metrics: sink,
		logger: log.Component("consumer").With(
			logger.Field{Key: "stream", Value: cfg.Stream},
			logger.Field{Key: "group", Value: cfg.Group},
			logger.Field{Key: "consumer", Value: cfg.Consumer}),
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandler binds fn to eventType, replacing any previous handler.
func (c *Consumer) RegisterHandler(eventType string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[eventType]; exists {
		c.logger.Warn("replacing handler", logger.Field{Key: "event_type", Value: eventType})
	}
	c.handlers[eventType] = fn
}

func (c *Consumer) handler(eventType string) (HandlerFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.handlers[eventType]
	return fn, ok
}

// IsRunning reports whether Start is executing its loop.
func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// Start joins the group and processes entries until Stop is called or ctx
// is cancelled. It returns nil on a clean shutdown and an error only when the
// group cannot be created. Start called while a stopped run is still
// finishing waits for that run to return first.
func (c *Consumer) Start(ctx context.Context) error {
	stopCh, done, err := c.beginRun(ctx)
	if err != nil {
		return err
	}
	defer c.endRun(done)

	if err := c.store.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group); err != nil {
		return errors.Wrapf(err, "ensure group %s on stream %s", c.cfg.Group, c.cfg.Stream)
	}

	var pool *workers.WorkerPool
	if c.cfg.Concurrency > 1 {
		pool = workers.NewPool(c.cfg.Concurrency, c.cfg.Concurrency, c.logger)
		pool.Start()
		defer pool.Stop()
	}

	fields := []logger.Field{
		{Key: "count", Value: c.cfg.Count},
		{Key: "block", Value: c.cfg.Block.String()},
	}
	if pool != nil {
		fields = append(fields,
			logger.Field{Key: "workers", Value: pool.WorkerCount()},
			logger.Field{Key: "queued", Value: pool.QueueSize()})
	}
	c.logger.Info("consumer started", fields...)

	c.replayPending(ctx, stopCh, pool)

	for !stopped(ctx, stopCh) {
		if c.cfg.ClaimIdle > 0 {
			claimed, err := c.store.ClaimIdle(ctx, stream.ClaimArgs{
				Stream:   c.cfg.Stream,
				Group:    c.cfg.Group,
				Consumer: c.cfg.Consumer,
				MinIdle:  c.cfg.ClaimIdle,
				Count:    c.cfg.Count,
			})
			if err != nil {
				c.readFailed(ctx, stopCh, "claim idle entries", err)
				continue
			}
			if len(claimed) > 0 {
				c.logger.Info("claimed idle entries", logger.Field{Key: "count", Value: len(claimed)})
				c.processBatch(ctx, pool, claimed)
			}
		}

		entries, err := c.store.ReadGroup(ctx, stream.ReadArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		})
		if err != nil {
			c.readFailed(ctx, stopCh, "read group", err)
			continue
		}
		c.processBatch(ctx, pool, entries)
	}

	c.logger.Info("consumer stopped")
	return nil
}

// beginRun claims the consumer for a new run.
func (c *Consumer) beginRun(ctx context.Context) (chan struct{}, chan struct{}, error) {
	for {
		c.runMu.Lock()
		if c.done == nil {
			break
		}
		if !c.stopping {
			c.runMu.Unlock()
			return nil, nil, ErrAlreadyRunning
		}
		prev := c.done
		c.runMu.Unlock()

		select {
		case <-prev:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	defer c.runMu.Unlock()

	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.stopping = false
	c.running.Store(true)
	return c.stopCh, c.done, nil
}

func (c *Consumer) endRun(done chan struct{}) {
	c.runMu.Lock()
	c.running.Store(false)
	c.stopCh = nil
	c.done = nil
	c.stopping = false
	c.runMu.Unlock()
	close(done)
}

// Stop asks the loop to exit. The current read finishes within Block and
// in-flight handlers run to completion before Start returns.
func (c *Consumer) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopCh == nil || c.stopping {
		return
	}
	c.stopping = true
	close(c.stopCh)
	c.running.Store(false)
}

func stopped(ctx context.Context, stopCh <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// replayPending redelivers entries this consumer read earlier but never
// acknowledged. It stops at the first batch that leaves something pending,
// since a pending read would return the same entries again.
func (c *Consumer) replayPending(ctx context.Context, stopCh <-chan struct{}, pool *workers.WorkerPool) {
	total := 0
	for !stopped(ctx, stopCh) {
		entries, err := c.store.ReadGroup(ctx, stream.ReadArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Count:    c.cfg.Count,
			Pending:  true,
		})
		if err != nil {
			c.logger.Error("failed to read pending entries", err)
			c.metrics.ReadError()
			return
		}
		if len(entries) == 0 {
			break
		}
		acked := c.processBatch(ctx, pool, entries)
		total += len(entries)
		if acked < len(entries) {
			break
		}
	}
	if total > 0 {
		c.logger.Info("replayed pending entries", logger.Field{Key: "count", Value: total})
	}
}

func (c *Consumer) readFailed(ctx context.Context, stopCh <-chan struct{}, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	c.metrics.ReadError()
	c.logger.Error("stream "+op+" failed", err,
		logger.Field{Key: "backoff", Value: c.cfg.ErrorBackoff.String()})

	if errors.Is(err, stream.ErrNoGroup) {
		if gerr := c.store.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group); gerr != nil {
			c.logger.Error("failed to recreate group", gerr)
		}
	}

	timer := time.NewTimer(c.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stopCh:
	case <-ctx.Done():
	}
}

// processBatch handles entries and returns how many were acknowledged.
// pool may be nil, in which case entries are handled in order.
func (c *Consumer) processBatch(ctx context.Context, pool *workers.WorkerPool, entries []stream.Entry) int {
	if len(entries) == 0 {
		return 0
	}

	if pool == nil || len(entries) == 1 {
		acked := 0
		for _, entry := range entries {
			if c.handleEntry(ctx, entry) == nil {
				acked++
			}
		}
		return acked
	}

	tasks := make([]workers.Task, len(entries))
	for i, entry := range entries {
		entry := entry
		tasks[i] = workers.Task{
			ID:  entry.ID,
			Run: func(ctx context.Context) error { return c.handleEntry(ctx, entry) },
		}
	}
	acked := 0
	for _, r := range pool.RunBatch(ctx, tasks) {
		if r.Error == nil {
			acked++
		}
	}
	return acked
}

// handleEntry returns nil when the entry was acknowledged.
func (c *Consumer) handleEntry(ctx context.Context, entry stream.Entry) error {
	log := c.logger.With(logger.Field{Key: "entry_id", Value: entry.ID})

	// Trimmed from the stream while pending: nothing left to handle.
	if len(entry.Fields) == 0 {
		log.Warn("entry has no fields, acknowledging")
		c.metrics.EntryHandled("unknown", metrics.OutcomeUnroutable, 0)
		return c.ack(ctx, entry.ID)
	}

	event, err := bus.FromFields(entry.Fields)
	if err != nil {
		log.Error("failed to decode entry", err)
		c.metrics.EntryHandled("unknown", metrics.OutcomeUndecoded, 0)
		return err
	}
	log = log.With(
		logger.Field{Key: "event_id", Value: event.ID},
		logger.Field{Key: "event_type", Value: event.Type})

	fn, ok := c.handler(event.Type)
	if !ok {
		log.Warn("no handler registered, acknowledging")
		c.metrics.EntryHandled(event.Type, metrics.OutcomeUnroutable, 0)
		return c.ack(ctx, entry.ID)
	}

	start := time.Now()
	if err := invoke(ctx, fn, event); err != nil {
		log.Error("handler failed, entry stays pending", err)
		c.metrics.EntryHandled(event.Type, metrics.OutcomeFailed, time.Since(start))
		return err
	}
	if err := c.ack(ctx, entry.ID); err != nil {
		log.Error("failed to acknowledge entry", err)
		c.metrics.EntryHandled(event.Type, metrics.OutcomeFailed, time.Since(start))
		return err
	}
	c.metrics.EntryHandled(event.Type, metrics.OutcomeAcked, time.Since(start))
	log.Debug("entry handled")
	return nil
}

// ack survives cancellation of ctx: a handler that already succeeded should
// not be redelivered just because shutdown started.
func (c *Consumer) ack(ctx context.Context, id string) error {
	return c.store.Ack(context.WithoutCancel(ctx), c.cfg.Stream, c.cfg.Group, id)
}

func invoke(ctx context.Context, fn HandlerFunc, event bus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", event.Type, r)
		}
	}()
	return fn(ctx, event)
}
