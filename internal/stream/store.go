// Package stream abstracts the durable, append-only stream store that carries
// events from the publisher to consumer groups.
//
// Two implementations share the same consumer-group semantics:
//   - RedisStore, backed by Redis Streams (XADD / XREADGROUP / XACK)
//   - MemoryStore, an in-process store for single-binary deployments and tests
//
// Within a group every entry is delivered to exactly one consumer and stays in
// the group's pending list until it is acknowledged.
package stream

import (
	"context"
	"errors"
	"time"
)

// ErrNoGroup is returned when reading from a group that was never created.
var ErrNoGroup = errors.New("stream: consumer group does not exist")

// Entry is a single stream record. Fields is nil when the entry is still
// pending but its payload has already been trimmed from the stream.
type Entry struct {
	ID     string
	Fields map[string]any
}

// ReadArgs describes a group read.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	// Block bounds how long a read of new entries waits when none are
	// available. Zero or negative means return immediately.
	Block time.Duration
	// Pending re-reads entries already delivered to Consumer but not yet
	// acknowledged, instead of claiming new ones. Pending reads never block.
	Pending bool
}

// ClaimArgs describes a transfer of idle pending entries to Consumer.
type ClaimArgs struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Count    int64
}

// Store is the producer/consumer API of a stream store.
type Store interface {
	// Append adds fields to stream and returns the store-assigned entry id.
	// maxLen > 0 approximately caps the stream length.
	Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error)
	// EnsureGroup creates group on stream, creating the stream when absent.
	// An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error
	// ReadGroup claims entries for a consumer. A read that times out returns
	// no entries and no error.
	ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error)
	// Ack removes ids from the group's pending list.
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// ClaimIdle moves entries idle for at least MinIdle to Consumer.
	ClaimIdle(ctx context.Context, args ClaimArgs) ([]Entry, error)
	// Pending reports how many entries of group await acknowledgement.
	Pending(ctx context.Context, stream, group string) (int64, error)
}
