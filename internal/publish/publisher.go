// Package publish puts canonical records on their per-kind channel.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
	"entitysync/internal/retry"
)

// Publisher delivers one record to a channel. Publish returns only once the
// broker acknowledged the record.
type Publisher interface {
	Publish(ctx context.Context, channel string, key string, record any) error
	Close() error
}

// ChannelFor names the channel shared by every source for kind.
func ChannelFor(prefix string, kind canonical.Kind) string {
	if prefix == "" {
		return kind.String()
	}
	return prefix + "." + kind.String()
}

// PublishWithRetry retries retryable publish failures under policy.
func PublishWithRetry(ctx context.Context, p Publisher, policy retry.Policy, channel, key string, record any) error {
	err := policy.Do(ctx, "publish "+channel, func(ctx context.Context, _ int) error {
		err := p.Publish(ctx, channel, key, record)
		if err != nil && !perrors.IsRetryable(err) {
			return retry.Permanent(err)
		}
		return err
	})
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return perrors.Wrap(perrors.CodePublish, err, fmt.Sprintf("publish key %s to %s", key, channel))
	}
	return err
}

func encode(record any) ([]byte, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, err, "marshal record")
	}
	return b, nil
}

// Multi fans a record out to several publishers in order; the first failure
// stops the fan-out.
type Multi struct {
	publishers []Publisher
}

func NewMulti(ps ...Publisher) *Multi {
	return &Multi{publishers: ps}
}

func (m *Multi) Publish(ctx context.Context, channel, key string, record any) error {
	for _, p := range m.publishers {
		if err := p.Publish(ctx, channel, key, record); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var err error
	for _, p := range m.publishers {
		err = multierr.Append(err, p.Close())
	}
	return err
}
