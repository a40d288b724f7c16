package publish

import (
	"context"
	"fmt"

	"entitysync/internal/config"
	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
	"entitysync/internal/retry"
)

// Connect builds the configured backend and waits until the broker is
// reachable, retrying under policy. Exhaustion is a CONNECTION_ERROR.
func Connect(ctx context.Context, cfg config.KafkaConfig, policy retry.Policy, log *logger.Logger) (Publisher, error) {
	ctx = log.WithField(ctx, "broker_client", cfg.Client)
	switch cfg.Client {
	case config.BrokerFile:
		return NewFilePublisher(cfg.FileSinkDir)

	case config.BrokerConfluent:
		p, err := NewConfluentPublisher(cfg.BrokerList(), log)
		if err != nil {
			return nil, perrors.Wrap(perrors.CodeConnection, err, "create confluent producer")
		}
		if err := awaitBroker(ctx, policy, log, func(context.Context) error { return p.probe() }); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil

	case config.BrokerKafkaGo, "":
		brokers := cfg.BrokerList()
		if err := awaitBroker(ctx, policy, log, func(ctx context.Context) error { return probeKafka(ctx, brokers) }); err != nil {
			return nil, err
		}
		return NewKafkaPublisher(brokers), nil
	}
	return nil, fmt.Errorf("unknown broker client %q", cfg.Client)
}

func awaitBroker(ctx context.Context, policy retry.Policy, log *logger.Logger, probe func(context.Context) error) error {
	err := policy.Do(ctx, "connect to broker", func(ctx context.Context, attempt int) error {
		err := probe(ctx)
		if err != nil {
			log.Warn(log.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "broker not reachable")
		}
		return err
	})
	if err != nil {
		return perrors.Wrap(perrors.CodeConnection, err, "broker unreachable")
	}
	log.Info(ctx, "broker reachable")
	return nil
}
