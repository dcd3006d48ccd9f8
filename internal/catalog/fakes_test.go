package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"catalogsync/internal"
	"catalogsync/internal/config"
	"catalogsync/internal/lease"
	"catalogsync/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	products map[string]internal.ProductRecord
	writes   int
	failCode string
	// delays slow down successive UpsertProducts calls, in call order.
	delays []time.Duration
}

func newMemStore(products ...internal.ProductRecord) *memStore {
	s := &memStore{products: map[string]internal.ProductRecord{}}
	for _, p := range products {
		s.products[p.Code] = p
	}
	return s
}

func (s *memStore) UpsertProducts(ctx context.Context, products []internal.ProductRecord, guard storage.Guard) error {
	s.mu.Lock()
	var delay time.Duration
	if len(s.delays) > 0 {
		delay, s.delays = s.delays[0], s.delays[1:]
	}
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if s.failCode != "" && p.Code == s.failCode {
			return fmt.Errorf("constraint violation on %s", p.Code)
		}
	}
	if guard != nil {
		if err := guard(ctx); err != nil {
			return err
		}
	}
	for _, p := range products {
		s.products[p.Code] = p
		s.writes++
	}
	return nil
}

func (s *memStore) GetProducts(_ context.Context, codes []string) (map[string]internal.ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]internal.ProductRecord{}
	for _, c := range codes {
		if p, ok := s.products[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

func (s *memStore) GetProduct(_ context.Context, code string) (internal.ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[code]
	if !ok {
		return internal.ProductRecord{}, fmt.Errorf("product %s: %w", code, storage.ErrNotFound)
	}
	return p, nil
}

func (s *memStore) ListProducts(_ context.Context, filter storage.ProductFilter) ([]internal.ProductRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []internal.ProductRecord
	for _, p := range s.products {
		if filter.AvailableOnly && !p.AvailableOnWeb {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) CountProducts(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products), nil
}

func (s *memStore) DeleteProducts(_ context.Context, codes []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range codes {
		if _, ok := s.products[c]; ok {
			delete(s.products, c)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(code string) internal.ProductRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[code]
}

type memJournal struct {
	mu       sync.Mutex
	runs     []string
	meta     map[string]string
	failRuns error
}

func (j *memJournal) InsertRun(runID, kind string, _ map[string]float64, _ map[string]int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failRuns != nil {
		return j.failRuns
	}
	j.runs = append(j.runs, kind+":"+runID)
	return nil
}

func (j *memJournal) SetMetadata(key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.meta == nil {
		j.meta = map[string]string{}
	}
	j.meta[key] = value
	return nil
}

// releaseFailLocker hands out working leases whose Release always fails.
type releaseFailLocker struct {
	inner lease.Locker
}

func (l releaseFailLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (lease.Lease, error) {
	held, err := l.inner.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return releaseFailLease{held}, nil
}

type releaseFailLease struct {
	lease.Lease
}

func (releaseFailLease) Release(context.Context) error { return errors.New("connection reset") }

// lostLease reports itself lost after validFor successful checks.
type lostLease struct {
	mu       sync.Mutex
	validFor int
}

func (l *lostLease) Name() string                  { return LeaseName }
func (l *lostLease) Owner() string                 { return "test" }
func (l *lostLease) Deadline() time.Time           { return time.Now().Add(time.Hour) }
func (l *lostLease) Renew(context.Context) error   { return nil }
func (l *lostLease) Release(context.Context) error { return nil }

func (l *lostLease) Valid(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.validFor <= 0 {
		return lease.ErrLeaseLost
	}
	l.validFor--
	return nil
}

// unreachableLease expires at a fixed deadline because its renewals never
// reach the lock server, so another run may take the lock afterwards.
type unreachableLease struct {
	deadline time.Time
}

func (l *unreachableLease) Name() string        { return LeaseName }
func (l *unreachableLease) Owner() string       { return "stalled" }
func (l *unreachableLease) Deadline() time.Time { return l.deadline }
func (l *unreachableLease) Renew(context.Context) error {
	return errors.New("dial tcp: i/o timeout")
}
func (l *unreachableLease) Release(context.Context) error { return nil }

func (l *unreachableLease) Valid(context.Context) error {
	if !time.Now().Before(l.deadline) {
		return lease.ErrLeaseLost
	}
	return nil
}

type failingSource struct {
	StaticSource
	fail string
}

func (s failingSource) ListSheets(ctx context.Context) ([]internal.SheetRef, error) {
	refs, _ := s.StaticSource.ListSheets(ctx)
	return append(refs, internal.SheetRef{Name: s.fail}), nil
}

func (s failingSource) Fetch(ctx context.Context, ref internal.SheetRef) ([]internal.Sheet, error) {
	if ref.Name == s.fail {
		return nil, errors.New("source timeout")
	}
	return s.StaticSource.Fetch(ctx, ref)
}

func testConfig() config.Config {
	return config.Config{
		SourceTimeoutMs:    2000,
		SourceRateLimitRPS: 1000,
		SyncBatchSize:      100,
		SyncWorkers:        4,
		SyncLeaseTTLSec:    60,
		StockThreshold:     10,
		TaxRate:            0.19,
	}
}

func validRecord(code string, stock int) internal.ProductRecord {
	return internal.ProductRecord{
		Code:         code,
		Name:         "Plancha " + code,
		Category:     "Planchas",
		Stock:        stock,
		WidthRaw:     "1.22m",
		LengthRaw:    "2.44m",
		WidthMeters:  1.22,
		LengthMeters: 2.44,
		SourceSheet:  "Planchas",
		UpdatedAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}
