package main

import (
	"context"
	"encoding/json"

	"entitysync/internal/canonical"
	perrors "entitysync/internal/errors"
	"entitysync/internal/logger"
	"entitysync/internal/metrics"
	"entitysync/internal/normalize"
	"entitysync/internal/publish"
	"entitysync/internal/retry"
)

type keyer interface{ Key() string }

// ingester normalizes raw records of one (source, kind) and publishes them
// on the kind's channel.
type ingester struct {
	normalizer *normalize.Normalizer
	publisher  publish.Publisher
	policy     retry.Policy
	channel    string
	source     string
	kind       canonical.Kind
	log        *logger.Logger
	metrics    *metrics.Registry

	published int
	malformed int
}

// handle publishes one record. Malformed records are logged and counted;
// only publish failures are returned.
func (in *ingester) handle(ctx context.Context, raw json.RawMessage) error {
	rec, err := in.normalizer.Normalize(in.source, raw, in.kind)
	if err != nil {
		if !perrors.IsCode(err, perrors.CodeMalformedRecord) {
			return err
		}
		in.malformed++
		in.log.Warn(in.log.WithField(ctx, "error", err.Error()), "skipping malformed source record")
		return nil
	}
	key := rec.(keyer).Key()
	if err := publish.PublishWithRetry(ctx, in.publisher, in.policy, in.channel, key, rec); err != nil {
		return err
	}
	in.published++
	in.metrics.CountPublished(in.kind.String(), in.source)
	return nil
}
