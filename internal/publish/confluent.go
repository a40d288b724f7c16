package publish

import (
	"context"
	"fmt"
	"strings"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
)

const (
	probeTimeoutMs = 5000
	flushTimeoutMs = 5000
)

// ConfluentPublisher publishes through librdkafka with an idempotent
// producer. Publish waits for the delivery report of its message.
type ConfluentPublisher struct {
	producer *ck.Producer
	log      *logger.Logger
	done     chan struct{}
}

func NewConfluentPublisher(brokers []string, log *logger.Logger) (*ConfluentPublisher, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	c := &ConfluentPublisher{producer: p, log: log, done: make(chan struct{})}
	go c.drainEvents()
	return c, nil
}

// drainEvents surfaces client-level errors; per-message reports go to the
// channel passed to Produce.
func (c *ConfluentPublisher) drainEvents() {
	defer close(c.done)
	for e := range c.producer.Events() {
		if kerr, ok := e.(ck.Error); ok {
			c.log.Warn(c.log.WithField(context.Background(), "kafka_error_code", kerr.Code().String()), kerr.Error())
		}
	}
}

func (c *ConfluentPublisher) probe() error {
	_, err := c.producer.GetMetadata(nil, false, probeTimeoutMs)
	return err
}

func (c *ConfluentPublisher) Publish(ctx context.Context, channel, key string, record any) error {
	b, err := encode(record)
	if err != nil {
		return err
	}
	topic := channel
	deliveries := make(chan ck.Event, 1)
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            []byte(key),
		Value:          b,
	}
	if err := c.producer.Produce(msg, deliveries); err != nil {
		return perrors.Wrap(perrors.CodePublish, err, fmt.Sprintf("produce to %s", channel))
	}
	select {
	case <-ctx.Done():
		return perrors.Wrap(perrors.CodePublish, ctx.Err(), fmt.Sprintf("awaiting delivery to %s", channel))
	case e := <-deliveries:
		m, ok := e.(*ck.Message)
		if !ok {
			return perrors.Newf(perrors.CodePublish, "unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return perrors.Wrap(perrors.CodePublish, m.TopicPartition.Error, fmt.Sprintf("delivery to %s", channel))
		}
		return nil
	}
}

func (c *ConfluentPublisher) Close() error {
	if left := c.producer.Flush(flushTimeoutMs); left > 0 {
		c.log.Warn(c.log.WithField(context.Background(), "unflushed", left), "closing producer with undelivered messages")
	}
	c.producer.Close()
	<-c.done
	return nil
}
