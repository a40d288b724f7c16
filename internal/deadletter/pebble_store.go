package deadletter

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

// Put syncs the WAL; dead letters are written rarely and must survive a crash.
func (p *PebbleStore) Put(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return p.db.Set([]byte(e.StoreKey()), b, pebble.Sync)
}

func (p *PebbleStore) Delete(e Entry) error {
	return p.db.Delete([]byte(e.StoreKey()), pebble.Sync)
}

func (p *PebbleStore) Range(kind string, fn func(e Entry) error) error {
	opts := &pebble.IterOptions{}
	if kind != "" {
		opts.LowerBound = []byte(kind + "/")
		opts.UpperBound = []byte(kind + "0") // '0' sorts right after '/'
	}
	it, err := p.db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return it.Error()
}
