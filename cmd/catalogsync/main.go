package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"catalogsync/internal"
	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/connectors/gsheets"
	"catalogsync/internal/lease"
	"catalogsync/internal/listener"
	"catalogsync/internal/observability"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/server"
	"catalogsync/internal/storage"
)

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *storage.DB
	store   catalog.Store
	source  catalog.Source
	locker  lease.Locker
	sync    *catalog.SyncService
	closers []func()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	must(err)
	defer a.close()

	cmd := os.Args[1]
	switch cmd {
	case "catalog:sync":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		sheet := fs.String("sheet", "all", "sheet name or all")
		dryRun := fs.Bool("dry-run", false, "process without writing")
		_ = fs.Parse(os.Args[2:])
		res, err := a.sync.Sync(ctx, catalog.SyncOptions{Sheet: *sheet, DryRun: *dryRun})
		must(err)
		printJSON(res)
		if res.Partial() {
			a.close()
			os.Exit(2)
		}
	case "catalog:diagnose":
		report := a.reconciler().Run(ctx)
		printJSON(report)
		if !report.Consistent {
			a.close()
			os.Exit(2)
		}
	case "catalog:prune":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report without deleting")
		_ = fs.Parse(os.Args[2:])
		res, err := a.sync.Prune(ctx, *dryRun)
		must(err)
		printJSON(res)
	case "catalog:availability":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		code := fs.String("code", "", "product code")
		available := fs.Bool("available", true, "visible on the web")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*code) == "" {
			must(fmt.Errorf("--code is required"))
		}
		rec, err := a.sync.SetAvailability(ctx, *code, *available)
		must(err)
		printJSON(rec)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		category := fs.String("category", "", "only this category")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		index, err := a.sync.Products(ctx, storage.ProductFilter{Category: *category})
		must(err)
		records := make([]internal.ProductRecord, 0, index.Len())
		for _, group := range index.Groups {
			records = append(records, group.Products...)
		}
		must(pipeline.ExportAvailabilityXLSX(records, *out))
		fmt.Printf("exported %d products to %s\n", len(records), *out)
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", a.cfg.HTTPAddr, "listen address")
		_ = fs.Parse(os.Args[2:])
		srv := server.New(a.sync, a.reconciler(), a.logger)
		a.logger.Info("serving catalog", zap.String("addr", *addr))
		must(server.Serve(ctx, *addr, srv.Routes()))
	case "mail:listen":
		s := listener.NewService(a.db, a.cfg, a.sync, a.logger)
		must(s.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	a.db, err = storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.db.Close() })
	a.store = a.db

	if cfg.UsePostgres() {
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL, max(cfg.SyncWorkers+2, 4))
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.store = pg
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SourceMode)) {
	case "sheets_api":
		conn, err := gsheets.NewConnector(ctx, cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.source = conn
	default:
		a.source = catalog.NewClient(cfg, logger)
	}

	if cfg.RedisURL != "" {
		rl, err := lease.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rl.Close() })
		a.locker = rl
	} else {
		a.locker = lease.NewLocalLocker()
	}

	a.sync = catalog.NewSyncService(cfg, a.store, a.db, a.source, a.locker, logger)
	return a, nil
}

func (a *app) reconciler() *reconcile.Reconciler {
	serving := reconcile.IndexServingCounter(a.sync)
	if a.cfg.ServingURL != "" {
		serving = reconcile.HTTPServingCounter(a.cfg.ServingURL, nil)
	}
	return reconcile.New(a.cfg.ReconcileTolerance, a.logger,
		reconcile.Stage{Name: "source", Counter: reconcile.SourceCounter(a.source)},
		reconcile.Stage{Name: "store", Counter: reconcile.StoreCounter(a.store)},
		reconcile.Stage{Name: "serving", Counter: serving},
	)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func usage() {
	fmt.Println("usage: catalogsync <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:sync [--sheet=all] [--dry-run]")
	fmt.Println("  catalog:diagnose")
	fmt.Println("  catalog:prune [--dry-run]")
	fmt.Println("  catalog:availability --code=11223344 --available=false")
	fmt.Println("  export:xlsx --out=./out/availability.xlsx [--category=...]")
	fmt.Println("  serve [--addr=:8080]")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
