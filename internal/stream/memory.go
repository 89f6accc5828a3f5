package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It keeps Redis Streams group semantics
// (single delivery per group, pending lists, idle claiming) so a publisher
// and its consumers can run in one binary without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
}

type memStream struct {
	entries []memEntry
	lastMs  int64
	lastSeq int64
	groups  map[string]*memGroup
	// notify is closed and replaced on every append to wake blocked readers.
	notify chan struct{}
}

type memEntry struct {
	ms, seq int64
	id      string
	fields  map[string]any
}

type memGroup struct {
	lastMs, lastSeq int64
	pending         map[string]*memPending
}

type memPending struct {
	ms, seq     int64
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
}

func (s *MemoryStore) stream(name string) *memStream {
	st, ok := s.streams[name]
	if !ok {
		st = &memStream{
			groups: make(map[string]*memGroup),
			notify: make(chan struct{}),
		}
		s.streams[name] = st
	}
	return st
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)

	ms := s.now().UnixMilli()
	seq := int64(0)
	if ms <= st.lastMs {
		ms = st.lastMs
		seq = st.lastSeq + 1
	}
	st.lastMs, st.lastSeq = ms, seq

	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	id := fmt.Sprintf("%d-%d", ms, seq)
	st.entries = append(st.entries, memEntry{ms: ms, seq: seq, id: id, fields: copied})

	if maxLen > 0 && int64(len(st.entries)) > maxLen {
		st.entries = append([]memEntry(nil), st.entries[int64(len(st.entries))-maxLen:]...)
	}

	close(st.notify)
	st.notify = make(chan struct{})

	return id, nil
}

// EnsureGroup implements Store.
func (s *MemoryStore) EnsureGroup(ctx context.Context, stream, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(stream)
	if _, ok := st.groups[group]; !ok {
		st.groups[group] = &memGroup{lastMs: -1, lastSeq: -1, pending: make(map[string]*memPending)}
	}
	return nil
}

// ReadGroup implements Store.
func (s *MemoryStore) ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error) {
	var deadline <-chan time.Time
	if !args.Pending && args.Block > 0 {
		timer := time.NewTimer(args.Block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		st, ok := s.streams[args.Stream]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, args.Group, args.Stream)
		}
		g, ok := st.groups[args.Group]
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, args.Group, args.Stream)
		}

		var entries []Entry
		if args.Pending {
			entries = s.readPending(st, g, args.Consumer, args.Count)
		} else {
			entries = s.readNew(st, g, args.Consumer, args.Count)
		}
		notify := st.notify
		s.mu.Unlock()

		if len(entries) > 0 || deadline == nil {
			return entries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-notify:
		}
	}
}

func (s *MemoryStore) readNew(st *memStream, g *memGroup, consumer string, count int64) []Entry {
	var entries []Entry
	now := s.now()
	for _, e := range st.entries {
		if count > 0 && int64(len(entries)) >= count {
			break
		}
		if !after(e.ms, e.seq, g.lastMs, g.lastSeq) {
			continue
		}
		g.lastMs, g.lastSeq = e.ms, e.seq
		g.pending[e.id] = &memPending{ms: e.ms, seq: e.seq, consumer: consumer, deliveredAt: now, deliveries: 1}
		entries = append(entries, Entry{ID: e.id, Fields: e.fields})
	}
	return entries
}

func (s *MemoryStore) readPending(st *memStream, g *memGroup, consumer string, count int64) []Entry {
	ids := g.sortedPending(func(p *memPending) bool { return p.consumer == consumer })
	if count > 0 && int64(len(ids)) > count {
		ids = ids[:count]
	}

	now := s.now()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		p := g.pending[id]
		p.deliveredAt = now
		p.deliveries++
		entries = append(entries, Entry{ID: id, Fields: st.lookup(id)})
	}
	return entries
}

// Ack implements Store.
func (s *MemoryStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return nil
	}
	g, ok := st.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// ClaimIdle implements Store.
func (s *MemoryStore) ClaimIdle(ctx context.Context, args ClaimArgs) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[args.Stream]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, args.Group, args.Stream)
	}
	g, ok := st.groups[args.Group]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, args.Group, args.Stream)
	}

	now := s.now()
	ids := g.sortedPending(func(p *memPending) bool { return now.Sub(p.deliveredAt) >= args.MinIdle })
	if args.Count > 0 && int64(len(ids)) > args.Count {
		ids = ids[:args.Count]
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		p := g.pending[id]
		p.consumer = args.Consumer
		p.deliveredAt = now
		p.deliveries++
		entries = append(entries, Entry{ID: id, Fields: st.lookup(id)})
	}
	return entries, nil
}

// Pending implements Store.
func (s *MemoryStore) Pending(ctx context.Context, stream, group string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[stream]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNoGroup, group, stream)
	}
	g, ok := st.groups[group]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNoGroup, group, stream)
	}
	return int64(len(g.pending)), nil
}

// Len reports how many entries stream currently holds.
func (s *MemoryStore) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[stream]; ok {
		return len(st.entries)
	}
	return 0
}

// lookup returns the fields of id, or nil when the entry was trimmed.
func (st *memStream) lookup(id string) map[string]any {
	for _, e := range st.entries {
		if e.id == id {
			return e.fields
		}
	}
	return nil
}

func (g *memGroup) sortedPending(keep func(*memPending) bool) []string {
	ids := make([]string, 0, len(g.pending))
	for id, p := range g.pending {
		if keep(p) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.pending[ids[i]], g.pending[ids[j]]
		return after(b.ms, b.seq, a.ms, a.seq)
	})
	return ids
}

func after(ms, seq, refMs, refSeq int64) bool {
	return ms > refMs || (ms == refMs && seq > refSeq)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
