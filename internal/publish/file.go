package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FilePublisher appends records as JSON lines to <dir>/<channel>.jsonl.
// Used for dry runs and local debugging.
type FilePublisher struct {
	dir string
	mu  sync.Mutex
}

// Line is one appended record.
type Line struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

func NewFilePublisher(dir string) (*FilePublisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FilePublisher{dir: dir}, nil
}

// Path is the file backing channel.
func (w *FilePublisher) Path(channel string) string {
	return filepath.Join(w.dir, strings.ReplaceAll(channel, string(os.PathSeparator), "_")+".jsonl")
}

func (w *FilePublisher) Publish(_ context.Context, channel, key string, record any) error {
	b, err := encode(record)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.Path(channel), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(Line{Key: key, Record: b}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

func (w *FilePublisher) Close() error { return nil }
