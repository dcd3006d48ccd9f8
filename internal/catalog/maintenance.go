package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalogsync/internal"
	"catalogsync/internal/lease"
	"catalogsync/internal/pipeline"
	"catalogsync/internal/storage"
	"catalogsync/internal/util"
)

type PruneResult struct {
	DryRun  bool     `json:"dryRun"`
	Scanned int      `json:"scanned"`
	Invalid []string `json:"invalid"`
	Deleted int      `json:"deleted"`
}

// Prune removes records whose code no longer satisfies the code rule. Such
// records can only come from older imports, since sync skips them.
func (s *SyncService) Prune(ctx context.Context, dryRun bool) (PruneResult, error) {
	res := PruneResult{DryRun: dryRun}

	var held lease.Lease
	if !dryRun {
		var err error
		held, err = s.locker.Acquire(ctx, LeaseName, s.leaseTTL)
		if err != nil {
			return res, fmt.Errorf("acquire sync lease: %w", err)
		}
		defer s.release(ctx, held)
	}

	products, err := s.store.ListProducts(ctx, storage.ProductFilter{})
	if err != nil {
		return res, fmt.Errorf("list products: %w", err)
	}
	res.Scanned = len(products)
	for _, p := range products {
		if !util.IsValidCode(p.Code) {
			res.Invalid = append(res.Invalid, p.Code)
		}
	}
	if dryRun || len(res.Invalid) == 0 {
		return res, nil
	}

	for _, codes := range chunkStrings(res.Invalid, s.coordinator.batchSize) {
		if err := held.Valid(ctx); err != nil {
			return res, fmt.Errorf("delete invalid products: %w", err)
		}
		n, err := s.store.DeleteProducts(ctx, codes)
		res.Deleted += n
		if err != nil {
			return res, fmt.Errorf("delete invalid products: %w", err)
		}
	}

	s.logger.Info("catalog prune done", zap.Int("scanned", res.Scanned), zap.Int("deleted", res.Deleted))
	if s.journal != nil {
		if err := s.journal.InsertRun(uuid.NewString(), "prune", nil, map[string]int{"scanned": res.Scanned, "deleted": res.Deleted}); err != nil {
			s.logger.Warn("record prune run failed", zap.Error(err))
		}
	}
	return res, nil
}

// SetAvailability overrides the web availability of one product. The
// stored reasons are left as they were; the next sync recomputes both.
func (s *SyncService) SetAvailability(ctx context.Context, code string, available bool) (internal.ProductRecord, error) {
	held, err := s.locker.Acquire(ctx, LeaseName, s.leaseTTL)
	if err != nil {
		return internal.ProductRecord{}, fmt.Errorf("acquire sync lease: %w", err)
	}
	defer s.release(ctx, held)

	p, err := s.store.GetProduct(ctx, code)
	if err != nil {
		return internal.ProductRecord{}, err
	}
	pipeline.OverrideAvailability(&p, available)
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertProducts(ctx, []internal.ProductRecord{p}, held.Valid); err != nil {
		return internal.ProductRecord{}, fmt.Errorf("save override for %s: %w", code, err)
	}
	s.logger.Info("availability overridden", zap.String("code", code), zap.Bool("available", available))
	return p, nil
}

// Products returns the stored catalog matching filter as an index for the
// serving layer.
func (s *SyncService) Products(ctx context.Context, filter storage.ProductFilter) (*Index, error) {
	products, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	return BuildIndex(products), nil
}

func (s *SyncService) Product(ctx context.Context, code string) (internal.ProductRecord, error) {
	return s.store.GetProduct(ctx, code)
}

// release drops held even when ctx is already cancelled.
func (s *SyncService) release(ctx context.Context, held lease.Lease) {
	if err := held.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("lease release failed", zap.String("lease", held.Name()), zap.Error(err))
	}
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(in); start += size {
		out = append(out, in[start:min(start+size, len(in))])
	}
	return out
}
