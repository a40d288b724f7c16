package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"entitysync/internal/deadletter"
	"entitysync/internal/publish"
	"entitysync/internal/retry"
)

type filter struct {
	kind   string
	reason string
}

func (f filter) match(e deadletter.Entry) bool {
	return f.reason == "" || e.Reason == f.reason
}

func collect(st deadletter.Store, f filter) ([]deadletter.Entry, error) {
	var out []deadletter.Entry
	err := st.Range(f.kind, func(e deadletter.Entry) error {
		if f.match(e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func list(st deadletter.Store, f filter, w io.Writer) (int, error) {
	entries, err := collect(st, f)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\tkey=%s\tbatch=%s\t%s\n",
			e.At.Format("2006-01-02T15:04:05Z07:00"), e.Kind, e.Reason, e.Key, e.BatchID, e.Error)
	}
	return len(entries), nil
}

// replay republishes each entry's payload onto its channel and removes the
// entry once the broker acknowledged it.
func replay(ctx context.Context, st deadletter.Store, f filter, pub publish.Publisher, policy retry.Policy) (int, error) {
	entries, err := collect(st, f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := publish.PublishWithRetry(ctx, pub, policy, e.Channel, e.Key, json.RawMessage(e.Payload)); err != nil {
			return n, fmt.Errorf("replay %s: %w", e.ID, err)
		}
		if err := st.Delete(e); err != nil {
			return n, fmt.Errorf("delete %s: %w", e.ID, err)
		}
		n++
	}
	return n, nil
}

func purge(st deadletter.Store, f filter) (int, error) {
	entries, err := collect(st, f)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := st.Delete(e); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
