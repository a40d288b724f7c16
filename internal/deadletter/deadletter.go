// Package deadletter keeps a local durable record of what the pipeline
// refused: malformed payloads a processor skipped and batches that failed
// fatally.
package deadletter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reasons an entry was dead-lettered.
const (
	ReasonMalformed  = "malformed"
	ReasonFatalBatch = "fatal_batch"
)

type Entry struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Channel string    `json:"channel"`
	Reason  string    `json:"reason"`
	Error   string    `json:"error"`
	BatchID string    `json:"batch_id,omitempty"`
	Key     string    `json:"key,omitempty"`
	Payload []byte    `json:"payload"`
	At      time.Time `json:"at"`
}

// NewEntry stamps an id and the current time.
func NewEntry(kind, channel, reason string, cause error, key string, payload []byte) Entry {
	e := Entry{
		ID:      uuid.NewString(),
		Kind:    kind,
		Channel: channel,
		Reason:  reason,
		Key:     key,
		Payload: append([]byte(nil), payload...),
		At:      time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// StoreKey orders entries by kind, then time: <kind>/<unix-nano>/<id>.
func (e Entry) StoreKey() string {
	return fmt.Sprintf("%s/%020d/%s", e.Kind, e.At.UnixNano(), e.ID)
}

// Store abstracts the dead-letter backend.
type Store interface {
	Put(e Entry) error
	// Range visits entries of kind in time order; an empty kind visits all.
	Range(kind string, fn func(e Entry) error) error
	Delete(e Entry) error
	Close() error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Entry)}
}

func (s *InMemoryStore) Put(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.StoreKey()] = e
	return nil
}

func (s *InMemoryStore) Range(kind string, fn func(e Entry) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if kind == "" || strings.HasPrefix(k, kind+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, s.data[k])
	}
	s.mu.RUnlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) Delete(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, e.StoreKey())
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Len is the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
