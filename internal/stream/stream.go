// Package stream runs one independent worker per entity kind: fetch a batch
// from the kind's channel, enrich, dedup by natural key, upsert, commit.
package stream

import (
	"context"
	"time"

	"entitysync/internal/canonical"
)

type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING_BATCH"
	StateEnriching State = "ENRICHING"
	StateDeduping  State = "DEDUPING"
	StateWriting   State = "WRITING"
	StateStopped   State = "STOPPED"
)

// Message is one record read from a channel.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Source is a kind's channel as seen by its worker.
type Source interface {
	// FetchBatch blocks until the batch is full or its window elapses. A
	// window with no records yields an empty batch and no error. On
	// cancellation it returns whatever was already fetched with ctx.Err().
	FetchBatch(ctx context.Context) ([]Message, error)
	// Commit acknowledges msgs so they are not redelivered.
	Commit(ctx context.Context, msgs []Message) error
	// Reconnect replaces the underlying connection after a fetch failure.
	Reconnect(ctx context.Context) error
	Close() error
}

// Sink persists one batch of rows in a single idempotent statement.
type Sink[T any] interface {
	Upsert(ctx context.Context, rows []T) (int64, error)
}

// Strategy is what differs between kinds: how a channel payload decodes,
// what it enriches into, and the natural key of the result.
type Strategy[In, Out any] interface {
	Kind() canonical.Kind
	Decode(payload []byte) (In, error)
	Enrich(in In) ([]Out, error)
	Key(out Out) string
}
