package publish

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	perrors "entitysync/internal/errors"
)

// KafkaPublisher publishes through segmentio/kafka-go. Writes are
// synchronous and wait for all in-sync replicas.
type KafkaPublisher struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaPublisher builds a writer with no fixed topic; each message names
// its channel. The hash balancer keeps one key on one partition.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, channel, key string, record any) error {
	b, err := encode(record)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{Topic: channel, Key: []byte(key), Value: b})
	if err != nil {
		return perrors.Wrap(perrors.CodePublish, err, fmt.Sprintf("kafka write to %s", channel))
	}
	return nil
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }

// probeKafka succeeds once any broker accepts a connection.
func probeKafka(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return lastErr
}
