// Package consume reads a kind's channel in batches for its worker.
package consume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
	"entitysync/internal/retry"
	"entitysync/internal/stream"
)

// messageReader abstracts kafka.Reader for testability.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	Brokers []string
	Topic   string
	GroupID string
	// BatchSize caps a batch; BatchWindow caps how long one is collected.
	BatchSize   int
	BatchWindow time.Duration
	// Reconnect governs re-creating the reader after a fetch failure.
	Reconnect retry.Policy
	Logger    *logger.Logger
}

// KafkaSource implements stream.Source over a consumer-group reader.
// Offsets are committed explicitly, never on an interval.
type KafkaSource struct {
	opts      Options
	reader    messageReader
	newReader func() messageReader
	dial      func(ctx context.Context) error
}

var _ stream.Source = (*KafkaSource)(nil)

func NewKafkaSource(opts Options) *KafkaSource {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	s := &KafkaSource{opts: opts}
	s.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        opts.Brokers,
			GroupID:        opts.GroupID,
			Topic:          opts.Topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: 0,
		})
	}
	s.dial = func(ctx context.Context) error { return dialAny(ctx, opts.Brokers) }
	s.reader = s.newReader()
	return s
}

// newKafkaSourceWith is only for tests to inject fake readers.
func newKafkaSourceWith(opts Options, newReader func() messageReader, dial func(context.Context) error) *KafkaSource {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &KafkaSource{opts: opts, reader: newReader(), newReader: newReader, dial: dial}
}

// FetchBatch collects up to BatchSize messages, stopping early when the
// window elapses. Window expiry is a normal close, not an error.
func (s *KafkaSource) FetchBatch(ctx context.Context) ([]stream.Message, error) {
	size := s.opts.BatchSize
	if size <= 0 {
		size = 1
	}
	wctx := ctx
	if s.opts.BatchWindow > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.opts.BatchWindow)
		defer cancel()
	}

	batch := make([]stream.Message, 0, size)
	for len(batch) < size {
		m, err := s.reader.FetchMessage(wctx)
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) && wctx.Err() != nil {
				return batch, nil
			}
			return batch, fmt.Errorf("fetch from %s: %w", s.opts.Topic, err)
		}
		batch = append(batch, stream.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		})
	}
	return batch, nil
}

func (s *KafkaSource) Commit(ctx context.Context, msgs []stream.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	km := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		km[i] = kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	}
	return s.reader.CommitMessages(ctx, km...)
}

// Reconnect drops the reader and builds a new one once a broker answers.
// Uncommitted messages are redelivered to the new reader.
func (s *KafkaSource) Reconnect(ctx context.Context) error {
	log := s.opts.Logger
	if err := s.reader.Close(); err != nil {
		log.Warn(log.WithField(ctx, "error", err.Error()), "closing broken reader")
	}
	err := s.opts.Reconnect.Do(ctx, "reconnect to "+s.opts.Topic, func(ctx context.Context, attempt int) error {
		err := s.dial(ctx)
		if err != nil {
			log.Warn(log.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "broker not reachable")
		}
		return err
	})
	if err != nil {
		return perrors.Wrap(perrors.CodeConnection, err, "reconnect")
	}
	s.reader = s.newReader()
	log.Info(ctx, "reader reconnected")
	return nil
}

func (s *KafkaSource) Close() error { return s.reader.Close() }

func dialAny(ctx context.Context, brokers []string) error {
	lastErr := errors.New("no brokers configured")
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}
