package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	perrors "entitysync/internal/errors"
)

type fetchStep struct {
	msgs   []Message
	err    error
	before func()
}

// fakeSource replays scripted fetches, then cancels the run once drained.
type fakeSource struct {
	mu           sync.Mutex
	steps        []fetchStep
	onDrained    context.CancelFunc
	committed    [][]Message
	reconnects   int
	reconnectErr error
	closed       bool
}

func (f *fakeSource) FetchBatch(ctx context.Context) ([]Message, error) {
	f.mu.Lock()
	if len(f.steps) > 0 {
		step := f.steps[0]
		f.steps = f.steps[1:]
		f.mu.Unlock()
		if step.before != nil {
			step.before()
		}
		return step.msgs, step.err
	}
	f.mu.Unlock()
	if f.onDrained != nil {
		f.onDrained()
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSource) Commit(_ context.Context, msgs []Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs)
	return nil
}

func (f *fakeSource) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnectErr
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeSink behaves like an upserting table keyed by natural key.
type fakeSink[T any] struct {
	mu        sync.Mutex
	key       func(T) string
	rows      map[string]T
	calls     int
	failures  int
	violation bool
	onUpsert  func(ctx context.Context)
	lastBatch []T
}

func newFakeSink[T any](key func(T) string) *fakeSink[T] {
	return &fakeSink[T]{key: key, rows: map[string]T{}}
}

func (s *fakeSink[T]) Upsert(ctx context.Context, rows []T) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onUpsert != nil {
		s.onUpsert(ctx)
	}
	if ctx.Err() != nil {
		return 0, perrors.Wrap(perrors.CodeWrite, ctx.Err(), "upsert")
	}
	if s.violation {
		return 0, perrors.New(perrors.CodeConstraintViolation, `duplicate key value violates unique constraint "users_email_key"`)
	}
	if s.failures > 0 {
		s.failures--
		return 0, perrors.Wrap(perrors.CodeWrite, errors.New("connection reset by peer"), "upsert")
	}
	s.lastBatch = append([]T(nil), rows...)
	for _, r := range rows {
		s.rows[s.key(r)] = r
	}
	return int64(len(rows)), nil
}

func (s *fakeSink[T]) snapshot() map[string]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]T, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

func messages(t *testing.T, payloads ...any) []Message {
	t.Helper()
	out := make([]Message, 0, len(payloads))
	for i, p := range payloads {
		var b []byte
		switch v := p.(type) {
		case string:
			b = []byte(v)
		default:
			var err error
			if b, err = json.Marshal(v); err != nil {
				t.Fatalf("marshal: %v", err)
			}
		}
		out = append(out, Message{Topic: "test", Offset: int64(i), Value: b, Time: time.Now()})
	}
	return out
}
