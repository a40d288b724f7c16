package deadletter

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func entryAt(kind string, at time.Time, key string) Entry {
	e := NewEntry(kind, kind, ReasonMalformed, errors.New("missing price"), key, []byte(`{"id":`+key+`}`))
	e.At = at
	return e
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		entryAt("products", base.Add(2*time.Second), "3"),
		entryAt("users", base, "9"),
		entryAt("products", base, "1"),
	}
	for _, e := range entries {
		if err := st.Put(e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	var keys []string
	if err := st.Range("products", func(e Entry) error {
		keys = append(keys, e.Key)
		return nil
	}); err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(keys) != 2 || keys[0] != "1" || keys[1] != "3" {
		t.Fatalf("want products in time order [1 3], got %v", keys)
	}

	var all []Entry
	_ = st.Range("", func(e Entry) error { all = append(all, e); return nil })
	if len(all) != 3 {
		t.Fatalf("want 3 entries, got %d", len(all))
	}
	if all[2].Kind != "users" || all[2].Error != "missing price" || string(all[2].Payload) != `{"id":9}` {
		t.Fatalf("bad entry: %+v", all[2])
	}

	if err := st.Delete(entries[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var left int
	_ = st.Range("products", func(Entry) error { left++; return nil })
	if left != 1 {
		t.Fatalf("want 1 product entry after delete, got %d", left)
	}

	stop := errors.New("stop")
	if err := st.Range("", func(Entry) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("callback error not propagated: %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestPebbleStore(t *testing.T) {
	st, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	exerciseStore(t, st)
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	e := entryAt("carts", time.Now(), "5")
	if err := st.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	var got []Entry
	_ = st.Range("carts", func(e Entry) error { got = append(got, e); return nil })
	if len(got) != 1 || got[0].ID != e.ID {
		t.Fatalf("entry lost across reopen: %+v", got)
	}
}

func TestInMemoryStore_ConcurrentPuts(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for _, kind := range []string{"products", "carts", "users"} {
		kind := kind
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := s.Put(NewEntry(kind, kind, ReasonMalformed, nil, "", nil)); err != nil {
					t.Errorf("put: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if s.Len() != 600 {
		t.Fatalf("want 600 entries, got %d", s.Len())
	}
}
