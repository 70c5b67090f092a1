// Command reconcile repairs drifted comment counts.
//
// By default it runs one pass and exits, which suits a cron job or a manual
// invocation after an incident. With a schedule configured it stays
// resident and runs on the cron expression instead.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/akashpatel/courseloop/internal/config"
	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/gateway/sqlitegw"
	"github.com/akashpatel/courseloop/internal/gateway/supabase"
	"github.com/akashpatel/courseloop/internal/reconcile"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reconcile failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()

	configPath := flag.String("config", "", "path to an optional YAML config file")
	schedule := flag.String("schedule", "", "cron expression; overrides config, empty runs once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *schedule != "" {
		cfg.Reconcile.Schedule = *schedule
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	r := reconcile.New(store, logger)

	if cfg.Reconcile.Schedule == "" {
		_, err := r.Run(context.Background())
		return err
	}

	// Scheduled mode: stay resident and run on the cron expression until
	// interrupted. cron.Recover keeps one bad pass from killing the loop.
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err = c.AddFunc(cfg.Reconcile.Schedule, func() {
		if _, err := r.Run(context.Background()); err != nil {
			logger.Error("scheduled pass failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	logger.Info("reconcile running on schedule", slog.String("schedule", cfg.Reconcile.Schedule))
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	<-c.Stop().Done()
	return nil
}

// openStore connects to whichever backend the config names. The job only
// needs row access, so it uses the gateway purely as a RowStore.
func openStore(cfg *config.Config, logger *slog.Logger) (gateway.RowStore, func(), error) {
	switch cfg.Backend {
	case "local":
		db, err := sqlitegw.New(cfg.LocalDBPath(), logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		client, err := supabase.New(supabase.Config{
			ProjectURL: cfg.Supabase.ProjectURL,
			AnonKey:    cfg.Supabase.AnonKey,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}
