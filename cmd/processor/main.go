package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"entitysync/internal/canonical"
	"entitysync/internal/config"
	"entitysync/internal/deadletter"
	"entitysync/internal/logger"
	"entitysync/internal/metrics"
	"entitysync/internal/store"
	"entitysync/internal/stream"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "processor"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	if err := run(logg); err != nil {
		logg.Error(context.Background(), "processor failed", err)
		os.Exit(1)
	}
}

func run(logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg = logger.New(logger.Options{
		ServiceName: "processor",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.Client == config.BrokerFile {
		logg.Warn(ctx, "file broker client only applies to publishing; workers still consume from kafka")
	}

	dbClient, err := store.Open(ctx, cfg.DB, cfg.Retry.Policy(), logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	dl, err := deadletter.NewPebbleStore(cfg.Ops.DeadLetterDir)
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}
	defer func() {
		if err := dl.Close(); err != nil {
			logg.Error(context.Background(), "error closing dead-letter store", err)
		}
	}()

	kinds, err := cfg.Workers.ParsedKinds()
	if err != nil {
		return err
	}
	reg := metrics.NewRegistry()
	writer := store.NewWriter(dbClient)
	opts := stream.Options{
		WriteTimeout: cfg.Batch.WriteTimeout,
		WritePolicy:  cfg.Batch.WritePolicy(),
		DeadLetters:  dl,
		Metrics:      reg,
		Logger:       logg,
	}
	workers := make(map[canonical.Kind]worker, len(kinds))
	for _, kind := range kinds {
		w, err := newWorker(kind, cfg, writer, opts, logg)
		if err != nil {
			return fmt.Errorf("build %s worker: %w", kind, err)
		}
		workers[kind] = w
	}

	srv := reg.Server(cfg.Ops.MetricsAddr, health(ctx, workers))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(logg.WithField(ctx, "kinds", cfg.Workers.Kinds), "starting processor")
	if err := runAll(ctx, workers, logg); err != nil {
		return fmt.Errorf("workers failed: %w", err)
	}
	logg.Info(ctx, "processor shutting down gracefully")
	return nil
}
