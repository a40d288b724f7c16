package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"entitysync/internal/canonical"
	"entitysync/internal/config"
	"entitysync/internal/logger"
	"entitysync/internal/metrics"
	"entitysync/internal/normalize"
	"entitysync/internal/publish"
)

type options struct {
	source      string
	kind        canonical.Kind
	inputFile   string
	mirrorDir   string
	metricsAddr string
}

func main() {
	var (
		opts     options
		kindName string
	)
	flag.StringVar(&opts.source, "source", normalize.SourceFakeStore, "upstream source tag")
	flag.StringVar(&kindName, "kind", "products", "products|carts|users")
	flag.StringVar(&opts.inputFile, "file", "-", "JSON array or JSONL of raw records, - for stdin")
	flag.StringVar(&opts.mirrorDir, "mirror", "", "also append published records as JSONL under this directory")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics while ingesting")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "ingest"})
	kind, err := canonical.ParseKind(kindName)
	if err != nil {
		logg.Error(context.Background(), "invalid kind", err)
		os.Exit(2)
	}
	opts.kind = kind

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	if err := run(opts, logg); err != nil {
		logg.Error(context.Background(), "ingest failed", err)
		os.Exit(1)
	}
}

func run(opts options, logg *logger.Logger) error {
	cfg, err := config.LoadWithoutDB()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "ingest",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"source": opts.source, "entity_kind": opts.kind.String()})

	reg := metrics.NewRegistry()
	if opts.metricsAddr != "" {
		srv := reg.Server(opts.metricsAddr, nil)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer srv.Close()
	}

	pub, err := publish.Connect(ctx, cfg.Kafka, cfg.Retry.Policy(), logg)
	if err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	if opts.mirrorDir != "" {
		mirror, err := publish.NewFilePublisher(opts.mirrorDir)
		if err != nil {
			_ = pub.Close()
			return fmt.Errorf("open mirror: %w", err)
		}
		pub = publish.NewMulti(pub, mirror)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logg.Error(ctx, "error closing publisher", err)
		}
	}()

	in := &ingester{
		normalizer: normalize.Default(),
		publisher:  pub,
		policy:     cfg.Retry.Policy(),
		channel:    publish.ChannelFor(cfg.Kafka.TopicPrefix, opts.kind),
		source:     opts.source,
		kind:       opts.kind,
		log:        logg,
		metrics:    reg,
	}

	var r io.Reader = os.Stdin
	if opts.inputFile != "-" {
		f, err := os.Open(opts.inputFile)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	err = eachRecord(r, func(raw json.RawMessage) error { return in.handle(ctx, raw) })
	summary := logg.WithFields(ctx, map[string]any{"published": in.published, "malformed": in.malformed, "channel": in.channel})
	if err != nil {
		return fmt.Errorf("ingest aborted after %d records: %w", in.published, err)
	}
	logg.Info(summary, "ingest finished")
	return nil
}
