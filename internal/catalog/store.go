package catalog

import (
	"context"
	"errors"

	"catalogsync/internal"
	"catalogsync/internal/storage"
)

var (
	ErrSheetNotFound = errors.New("sheet not found")
	ErrNotFound      = storage.ErrNotFound
)

// Store is the product table boundary. storage.DB (sqlite) and
// storage.PGStore (Postgres) implement it.
type Store interface {
	// UpsertProducts commits only if guard (when non-nil) passes inside the
	// write transaction.
	UpsertProducts(ctx context.Context, products []internal.ProductRecord, guard storage.Guard) error
	GetProducts(ctx context.Context, codes []string) (map[string]internal.ProductRecord, error)
	GetProduct(ctx context.Context, code string) (internal.ProductRecord, error)
	ListProducts(ctx context.Context, filter storage.ProductFilter) ([]internal.ProductRecord, error)
	CountProducts(ctx context.Context) (int, error)
	DeleteProducts(ctx context.Context, codes []string) (int, error)
}

// Journal records run history and bookkeeping values.
type Journal interface {
	InsertRun(runID, kind string, timings map[string]float64, counts map[string]int) error
	SetMetadata(key, value string) error
}
