package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"entitysync/internal/config"
	"entitysync/internal/deadletter"
	"entitysync/internal/logger"
	"entitysync/internal/publish"
)

func main() {
	var (
		action string
		dir    string
		f      filter
	)
	flag.StringVar(&action, "action", "list", "list|replay|purge")
	flag.StringVar(&dir, "dir", "", "dead-letter directory (default PIPELINE_DEADLETTER_DIR)")
	flag.StringVar(&f.kind, "kind", "", "only entries of this kind")
	flag.StringVar(&f.reason, "reason", "", "only entries with this reason: malformed|fatal_batch")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "deadletter"})
	switch action {
	case "list", "purge", "replay":
	default:
		logg.Warn(logg.WithField(context.Background(), "action", action), "unknown action")
		os.Exit(2)
	}
	_ = godotenv.Load()
	if err := run(action, dir, f, logg); err != nil {
		logg.Error(context.Background(), "dead-letter action failed", err)
		os.Exit(1)
	}
}

func run(action, dir string, f filter, logg *logger.Logger) error {
	cfg, err := config.LoadWithoutDB()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dir == "" {
		dir = cfg.Ops.DeadLetterDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"action": action, "dir": dir})

	st, err := deadletter.NewPebbleStore(dir)
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logg.Error(ctx, "error closing dead-letter store", err)
		}
	}()

	var n int
	switch action {
	case "list":
		n, err = list(st, f, os.Stdout)
	case "purge":
		n, err = purge(st, f)
	case "replay":
		pub, cerr := publish.Connect(ctx, cfg.Kafka, cfg.Retry.Policy(), logg)
		if cerr != nil {
			return fmt.Errorf("connect publisher: %w", cerr)
		}
		n, err = replay(ctx, st, f, pub, cfg.Retry.Policy())
		if cerr := pub.Close(); cerr != nil {
			logg.Warn(logg.WithField(ctx, "error", cerr.Error()), "closing publisher")
		}
	}
	if err != nil {
		return fmt.Errorf("%s after %d entries: %w", action, n, err)
	}
	logg.Info(logg.WithField(ctx, "entries", n), "dead-letter action finished")
	return nil
}
