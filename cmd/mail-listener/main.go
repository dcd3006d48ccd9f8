package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/lease"
	"catalogsync/internal/listener"
	"catalogsync/internal/observability"
	"catalogsync/internal/storage"
)

// mail-listener is the long-running form of `catalogsync mail:listen`.
func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := observability.NewLogger(cfg.LogLevel)
	must(err)
	defer func() { _ = logger.Sync() }()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store catalog.Store = db
	if cfg.UsePostgres() {
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL, 4)
		must(err)
		defer pg.Close()
		store = pg
	}

	var locker lease.Locker = lease.NewLocalLocker()
	if cfg.RedisURL != "" {
		rl, err := lease.NewRedisLocker(cfg.RedisURL)
		must(err)
		defer rl.Close()
		locker = rl
	}

	sync := catalog.NewSyncService(cfg, store, db, catalog.StaticSource{}, locker, logger)
	svc := listener.NewService(db, cfg, sync, logger)

	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
