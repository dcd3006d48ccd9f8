package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"catalogsync/internal"
	"catalogsync/internal/lease"
	"catalogsync/internal/observability"
)

const (
	DefaultBatchSize    = 100
	DefaultWorkers      = 4
	DefaultWriteTimeout = 30 * time.Second
)

type BatchResult struct {
	Index     int    `json:"index"`
	Size      int    `json:"size"`
	Written   int    `json:"written"`
	Unchanged int    `json:"unchanged"`
	Error     string `json:"error,omitempty"`
}

func (b BatchResult) Failed() bool { return b.Error != "" }

type UpsertResult struct {
	Upserted  int           `json:"upserted"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Batches   []BatchResult `json:"batches"`
}

// Coordinator writes records in fixed-size batches through a bounded worker
// pool. A failed batch is reported and never retried; other batches still
// run.
type Coordinator struct {
	store        Store
	batchSize    int
	workers      int
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewCoordinator(store Store, batchSize, workers int, writeTimeout time.Duration, logger *zap.Logger) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, batchSize: batchSize, workers: workers, writeTimeout: writeTimeout, logger: logger}
}

// Upsert merges records into the store. l must be held by the caller and is
// renewed while batches run. Every batch is bounded by the write timeout and
// by the lease, and commits only after re-checking ownership inside the store
// transaction. Once the lease is lost every remaining batch fails with
// lease.ErrLeaseLost.
func (c *Coordinator) Upsert(ctx context.Context, l lease.Lease, records []internal.ProductRecord) (UpsertResult, error) {
	if l == nil {
		return UpsertResult{}, errors.New("upsert requires a held lease")
	}
	records, _ = DedupeByCode(records)
	batches := chunk(records, c.batchSize)
	results := make([]BatchResult, len(batches))

	leaseCtx, stop := lease.KeepAlive(ctx, l)
	defer stop()

	var lost atomic.Bool
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = c.writeBatch(leaseCtx, l, &lost, i, batch)
			return nil
		})
	}
	_ = g.Wait()

	res := UpsertResult{Batches: results}
	for _, b := range results {
		if b.Failed() {
			res.Failed += b.Size
			continue
		}
		res.Upserted += b.Written
		res.Unchanged += b.Unchanged
	}

	observability.SyncRecords.WithLabelValues("upserted").Add(float64(res.Upserted))
	observability.SyncRecords.WithLabelValues("unchanged").Add(float64(res.Unchanged))
	observability.SyncRecords.WithLabelValues("failed").Add(float64(res.Failed))
	return res, nil
}

func (c *Coordinator) writeBatch(ctx context.Context, l lease.Lease, lost *atomic.Bool, index int, batch []internal.ProductRecord) BatchResult {
	start := time.Now()
	defer func() { observability.SyncBatchDuration.Observe(time.Since(start).Seconds()) }()

	res := BatchResult{Index: index, Size: len(batch)}
	fail := func(err error) BatchResult {
		res.Written, res.Unchanged = 0, 0
		res.Error = err.Error()
		c.logger.Warn("batch failed", zap.Int("batch", index), zap.Int("size", len(batch)), zap.Error(err))
		return res
	}

	// failWrite attributes errors caused by losing the lease mid-batch.
	failWrite := func(err error) BatchResult {
		if !errors.Is(err, lease.ErrLeaseLost) && lease.Lost(ctx) {
			err = fmt.Errorf("%w: %v", lease.ErrLeaseLost, err)
		}
		if errors.Is(err, lease.ErrLeaseLost) {
			lost.Store(true)
		}
		return fail(err)
	}

	if lost.Load() || lease.Lost(ctx) {
		lost.Store(true)
		return fail(lease.ErrLeaseLost)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := l.Valid(ctx); err != nil {
		return failWrite(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	codes := make([]string, len(batch))
	for i, rec := range batch {
		codes[i] = rec.Code
	}
	stored, err := c.store.GetProducts(ctx, codes)
	if err != nil {
		return failWrite(fmt.Errorf("load stored records: %w", err))
	}

	toWrite := make([]internal.ProductRecord, 0, len(batch))
	for _, rec := range batch {
		if prev, ok := stored[rec.Code]; ok {
			rec = MergeRecord(prev, rec)
			if SameRecord(prev, rec) {
				res.Unchanged++
				continue
			}
		}
		toWrite = append(toWrite, rec)
	}

	if len(toWrite) > 0 {
		if err := c.store.UpsertProducts(ctx, toWrite, l.Valid); err != nil {
			return failWrite(err)
		}
	}
	res.Written = len(toWrite)
	c.logger.Debug("batch written", zap.Int("batch", index), zap.Int("written", res.Written), zap.Int("unchanged", res.Unchanged))
	return res
}

func chunk(records []internal.ProductRecord, size int) [][]internal.ProductRecord {
	var out [][]internal.ProductRecord
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
