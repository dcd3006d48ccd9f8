package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalogsync/internal"
	"catalogsync/internal/config"
	"catalogsync/internal/lease"
	"catalogsync/internal/observability"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/storage"
)

const (
	LeaseName       = "catalog-products"
	lastSyncKey     = "catalog.last_sync"
	sampleSize      = 5
	defaultLeaseTTL = 2 * time.Minute
)

type SyncOptions struct {
	// Sheet is a tab name, or "all"/empty for every configured tab.
	Sheet  string
	DryRun bool
}

type SheetReport struct {
	Sheet   string                 `json:"sheet"`
	Rows    int                    `json:"rows"`
	Records int                    `json:"records"`
	Mapping internal.ColumnMapping `json:"mapping"`
	Skipped []pipeline.RowError    `json:"skipped,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

type SyncResult struct {
	RunID      string                            `json:"runId"`
	DryRun     bool                              `json:"dryRun"`
	StartedAt  time.Time                         `json:"startedAt"`
	DurationMs int64                             `json:"durationMs"`
	Processed  int                               `json:"processed"`
	Upserted   int                               `json:"upserted"`
	Unchanged  int                               `json:"unchanged"`
	Failed     int                               `json:"failed"`
	Skipped    int                               `json:"skipped"`
	Duplicates int                               `json:"duplicates"`
	Available  int                               `json:"available"`
	Sheets     []SheetReport                     `json:"sheets"`
	Batches    []BatchResult                     `json:"batches"`
	Mappings   map[string]internal.ColumnMapping `json:"mappings"`
	Sample     []internal.ProductRecord          `json:"sample"`
	Errors     []string                          `json:"errors"`
}

// Partial reports whether some sheet or batch failed.
func (r SyncResult) Partial() bool {
	return r.Failed > 0 || len(r.Errors) > 0
}

type SyncService struct {
	store       Store
	journal     Journal
	source      Source
	locker      lease.Locker
	processor   *pipeline.Processor
	coordinator *Coordinator
	leaseTTL    time.Duration
	workers     int
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncService wires a sync run. journal may be nil.
func NewSyncService(cfg config.Config, store Store, journal Journal, source Source, locker lease.Locker, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := time.Duration(cfg.SyncLeaseTTLSec) * time.Second
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	workers := cfg.SyncWorkers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &SyncService{
		store:       store,
		journal:     journal,
		source:      source,
		locker:      locker,
		processor:   pipeline.NewProcessor(cfg.StockThreshold, cfg.TaxRate),
		coordinator: NewCoordinator(store, cfg.SyncBatchSize, workers, time.Duration(cfg.SyncWriteTimeoutMs)*time.Millisecond, logger),
		leaseTTL:    ttl,
		workers:     workers,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *SyncService) Sync(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	return s.SyncFrom(ctx, s.source, opts)
}

// SyncFrom runs one sync over source. It fails fast with lease.ErrLeaseHeld
// when another run owns the table. Sheet and batch failures are reported in
// the result, not as an error.
func (s *SyncService) SyncFrom(ctx context.Context, source Source, opts SyncOptions) (SyncResult, error) {
	start := s.now()
	res := SyncResult{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: start.UTC(),
		Mappings:  map[string]internal.ColumnMapping{},
	}
	logger := s.logger.With(zap.String("run_id", res.RunID))

	refs, err := source.ListSheets(ctx)
	if err != nil {
		return res, fmt.Errorf("list sheets: %w", err)
	}
	refs, err = selectSheets(refs, opts.Sheet)
	if err != nil {
		return res, err
	}

	var held lease.Lease
	if !opts.DryRun {
		held, err = s.locker.Acquire(ctx, LeaseName, s.leaseTTL)
		if err != nil {
			observability.SyncRuns.WithLabelValues("lease_held").Inc()
			return res, fmt.Errorf("acquire sync lease: %w", err)
		}
		defer s.release(ctx, held)
	}

	stored, err := s.store.ListProducts(ctx, storage.ProductFilter{})
	if err != nil {
		return res, fmt.Errorf("load catalog snapshot: %w", err)
	}
	snapshot := BuildIndex(stored)

	fetchStart := s.now()
	outcomes := s.processSheets(ctx, source, refs, snapshot.Lookup)
	fetchMs := s.now().Sub(fetchStart).Milliseconds()

	var records []internal.ProductRecord
	for _, out := range outcomes {
		if out.err != nil {
			res.Errors = append(res.Errors, out.err.Error())
			res.Sheets = append(res.Sheets, SheetReport{Sheet: out.ref.Name, Error: out.err.Error()})
			logger.Warn("sheet failed", zap.String("sheet", out.ref.Name), zap.Error(out.err))
			continue
		}
		for _, sr := range out.results {
			res.Sheets = append(res.Sheets, SheetReport{
				Sheet:   sr.Sheet,
				Rows:    sr.Rows,
				Records: len(sr.Records),
				Mapping: sr.Mapping,
				Skipped: sr.Skipped,
			})
			res.Mappings[sr.Sheet] = sr.Mapping
			res.Skipped += len(sr.Skipped)
			records = append(records, sr.Records...)
		}
	}
	res.Processed = len(records)
	records, res.Duplicates = DedupeByCode(records)
	for _, rec := range records {
		if rec.AvailableOnWeb {
			res.Available++
		}
	}
	res.Sample = records[:min(sampleSize, len(records))]
	observability.SyncSkippedRows.Add(float64(res.Skipped))

	var upsertMs int64
	if !opts.DryRun {
		upsertStart := s.now()
		up, err := s.coordinator.Upsert(ctx, held, records)
		if err != nil {
			return res, err
		}
		upsertMs = s.now().Sub(upsertStart).Milliseconds()
		res.Upserted, res.Unchanged, res.Failed, res.Batches = up.Upserted, up.Unchanged, up.Failed, up.Batches
		for _, b := range up.Batches {
			if b.Failed() {
				res.Errors = append(res.Errors, fmt.Sprintf("batch %d: %s", b.Index, b.Error))
			}
		}
	}

	res.DurationMs = s.now().Sub(start).Milliseconds()
	s.record(res, fetchMs, upsertMs, logger)
	return res, nil
}

type sheetOutcome struct {
	ref     internal.SheetRef
	results []pipeline.SheetResult
	err     error
}

// processSheets fetches and processes every ref concurrently. Outcomes keep
// ref order so later sheets win duplicate codes deterministically.
func (s *SyncService) processSheets(ctx context.Context, source Source, refs []internal.SheetRef, lookup pipeline.Lookup) []sheetOutcome {
	outcomes := make([]sheetOutcome, len(refs))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, ref := range refs {
		g.Go(func() error {
			outcomes[i].ref = ref
			sheets, err := source.Fetch(ctx, ref)
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			for _, sheet := range sheets {
				outcomes[i].results = append(outcomes[i].results, s.processor.ProcessSheet(sheet, lookup))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *SyncService) record(res SyncResult, fetchMs, upsertMs int64, logger *zap.Logger) {
	outcome := "ok"
	switch {
	case res.DryRun:
		outcome = "dry_run"
	case res.Partial():
		outcome = "partial"
	}
	observability.SyncRuns.WithLabelValues(outcome).Inc()

	logger.Info("catalog sync done",
		zap.String("outcome", outcome),
		zap.Int("sheets", len(res.Sheets)),
		zap.Int("processed", res.Processed),
		zap.Int("upserted", res.Upserted),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates),
		zap.Int64("duration_ms", res.DurationMs),
	)

	if s.journal == nil {
		return
	}
	kind := "sync"
	if res.DryRun {
		kind = "sync_dry_run"
	}
	timings := map[string]float64{
		"fetchMs":  float64(fetchMs),
		"upsertMs": float64(upsertMs),
		"totalMs":  float64(res.DurationMs),
	}
	counts := map[string]int{
		"sheets":     len(res.Sheets),
		"processed":  res.Processed,
		"upserted":   res.Upserted,
		"unchanged":  res.Unchanged,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
		"duplicates": res.Duplicates,
		"available":  res.Available,
	}
	if err := s.journal.InsertRun(res.RunID, kind, timings, counts); err != nil {
		logger.Warn("record sync run failed", zap.Error(err))
	}
	if !res.DryRun {
		if err := s.journal.SetMetadata(lastSyncKey, res.StartedAt.Format(time.RFC3339)); err != nil {
			logger.Warn("record last sync failed", zap.Error(err))
		}
	}
}
