// Package retry holds the bounded fixed-interval retry policy shared by
// connection setup, publishing and store writes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 10
	DefaultInterval    = 10 * time.Second
)

// Policy retries an operation up to MaxAttempts times with a fixed Interval
// between attempts, plus up to Jitter of random delay.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Jitter      time.Duration

	// Sleep replaces the context-aware wait between attempts. Tests use it to
	// record delays without waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is 10 attempts, 10 seconds apart.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}
}

// ExhaustedError is returned once every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends
// or the attempts run out. attempt starts at 1.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return fmt.Errorf("%s: %w (last error: %v)", op, err, last)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		last = err

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, p.delay()); err != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, err, last)
		}
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Last: last}
}

func (p Policy) delay() time.Duration {
	d := p.Interval
	if p.Jitter > 0 {
		d += time.Duration(jitterInt63n(int64(p.Jitter)))
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterInt63n(n int64) int64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterSource.Int63n(n)
}
