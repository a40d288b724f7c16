package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"entitysync/internal/canonical"
	"entitysync/internal/config"
	"entitysync/internal/consume"
	"entitysync/internal/logger"
	"entitysync/internal/metrics"
	"entitysync/internal/publish"
	"entitysync/internal/store"
	"entitysync/internal/stream"
)

type worker interface {
	Run(ctx context.Context) error
	State() stream.State
}

// newWorker wires the processor for kind onto its channel and table.
func newWorker(kind canonical.Kind, cfg *config.Config, writer *store.Writer, opts stream.Options, logg *logger.Logger) (worker, error) {
	channel := publish.ChannelFor(cfg.Kafka.TopicPrefix, kind)
	opts.Channel = channel
	source := consume.NewKafkaSource(consume.Options{
		Brokers:     cfg.Kafka.BrokerList(),
		Topic:       channel,
		GroupID:     cfg.Kafka.ConsumerGroup,
		BatchSize:   cfg.Batch.Size,
		BatchWindow: cfg.Batch.Window,
		Reconnect:   cfg.Retry.Policy(),
		Logger:      logg,
	})
	switch kind {
	case canonical.KindProduct:
		return stream.New[canonical.Product, canonical.Product](stream.ProductStrategy{}, source, store.NewProductSink(writer), opts), nil
	case canonical.KindCart:
		return stream.New[canonical.Cart, canonical.CartItem](stream.CartStrategy{}, source, store.NewCartItemSink(writer), opts), nil
	case canonical.KindUser:
		return stream.New[canonical.User, canonical.User](stream.UserStrategy{}, source, store.NewUserSink(writer), opts), nil
	}
	_ = source.Close()
	return nil, fmt.Errorf("no worker for kind %q", kind)
}

// runAll runs every worker until ctx ends. A worker that fails fatally
// stops alone; the others keep going. The returned error combines every
// worker failure.
func runAll(ctx context.Context, workers map[canonical.Kind]worker, logg *logger.Logger) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for kind, w := range workers {
		kind, w := kind, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logg.Error(logg.WithField(ctx, "entity_kind", kind.String()), "worker stopped", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// health fails while any worker has stopped but the process has not been
// asked to shut down, so a supervisor can restart it.
func health(ctx context.Context, workers map[canonical.Kind]worker) metrics.HealthCheck {
	return func() error {
		if ctx.Err() != nil {
			return nil
		}
		var stopped []string
		for kind, w := range workers {
			if w.State() == stream.StateStopped {
				stopped = append(stopped, kind.String())
			}
		}
		if len(stopped) == 0 {
			return nil
		}
		sort.Strings(stopped)
		return fmt.Errorf("workers stopped: %s", strings.Join(stopped, ", "))
	}
}
