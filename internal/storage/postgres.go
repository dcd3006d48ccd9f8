package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogsync/internal"
)

// PGStore keeps the product table in Postgres. Run history, metadata and
// mail bookkeeping stay in the local sqlite file.
type PGStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &PGStore{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS products (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT '',
  color TEXT NOT NULL DEFAULT '',
  width_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
  length_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
  width_raw TEXT NOT NULL DEFAULT '',
  length_raw TEXT NOT NULL DEFAULT '',
  thickness_raw TEXT NOT NULL DEFAULT '',
  cost_price NUMERIC NOT NULL DEFAULT 0,
  net_price NUMERIC NOT NULL DEFAULT 0,
  price_with_tax NUMERIC NOT NULL DEFAULT 0,
  previous_price NUMERIC NOT NULL DEFAULT 0,
  price_changed BOOLEAN NOT NULL DEFAULT FALSE,
  price_change_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
  price_change_date TIMESTAMPTZ,
  new_pricing BOOLEAN NOT NULL DEFAULT FALSE,
  stock INTEGER NOT NULL DEFAULT 0,
  has_image BOOLEAN NOT NULL DEFAULT FALSE,
  image_path TEXT,
  available_on_web BOOLEAN NOT NULL DEFAULT FALSE,
  availability_override BOOLEAN NOT NULL DEFAULT FALSE,
  failure_reasons TEXT[] NOT NULL DEFAULT '{}',
  source_sheet TEXT NOT NULL DEFAULT '',
  source_order INTEGER NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category, type);
CREATE INDEX IF NOT EXISTS idx_products_available ON products(available_on_web);
`)
	return err
}

const pgProductColumns = `code, name, category, type, color,
  width_meters, length_meters, width_raw, length_raw, thickness_raw,
  cost_price, net_price, price_with_tax, previous_price,
  price_changed, price_change_percent, price_change_date, new_pricing,
  stock, has_image, image_path, available_on_web, availability_override, failure_reasons,
  source_sheet, source_order, updated_at`

const pgUpsert = `INSERT INTO products (` + pgProductColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
ON CONFLICT (code) DO UPDATE SET
  name=EXCLUDED.name,
  category=EXCLUDED.category,
  type=EXCLUDED.type,
  color=EXCLUDED.color,
  width_meters=EXCLUDED.width_meters,
  length_meters=EXCLUDED.length_meters,
  width_raw=EXCLUDED.width_raw,
  length_raw=EXCLUDED.length_raw,
  thickness_raw=EXCLUDED.thickness_raw,
  cost_price=EXCLUDED.cost_price,
  net_price=EXCLUDED.net_price,
  price_with_tax=EXCLUDED.price_with_tax,
  previous_price=EXCLUDED.previous_price,
  price_changed=EXCLUDED.price_changed,
  price_change_percent=EXCLUDED.price_change_percent,
  price_change_date=EXCLUDED.price_change_date,
  new_pricing=EXCLUDED.new_pricing,
  stock=EXCLUDED.stock,
  has_image=EXCLUDED.has_image,
  image_path=EXCLUDED.image_path,
  available_on_web=EXCLUDED.available_on_web,
  availability_override=EXCLUDED.availability_override,
  failure_reasons=EXCLUDED.failure_reasons,
  source_sheet=EXCLUDED.source_sheet,
  source_order=EXCLUDED.source_order,
  updated_at=EXCLUDED.updated_at`

func (s *PGStore) UpsertProducts(ctx context.Context, products []internal.ProductRecord, guard Guard) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, p := range products {
		b.Queue(pgUpsert,
			p.Code, p.Name, p.Category, p.Type, p.Color,
			p.WidthMeters, p.LengthMeters, p.WidthRaw, p.LengthRaw, p.ThicknessRaw,
			p.CostPrice, p.NetPrice, p.PriceWithTax, p.PreviousPrice,
			p.PriceChanged, p.PriceChangePercent, p.PriceChangeDate, p.NewPricing,
			p.Stock, p.HasImage, p.ImagePath, p.AvailableOnWeb, p.AvailabilityOverride, nonNilStrings(p.FailureReasons),
			p.SourceSheet, p.SourceOrder, p.UpdatedAt,
		)
	}
	br := tx.SendBatch(ctx, b)
	for _, p := range products {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert %s: %w", p.Code, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	if err := guard.check(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetProducts(ctx context.Context, codes []string) (map[string]internal.ProductRecord, error) {
	out := make(map[string]internal.ProductRecord, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	products, err := s.ListProducts(ctx, ProductFilter{Codes: codes})
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.Code] = p
	}
	return out, nil
}

func (s *PGStore) GetProduct(ctx context.Context, code string) (internal.ProductRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgProductColumns+` FROM products WHERE code = $1`, code)
	if err != nil {
		return internal.ProductRecord{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPGProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return internal.ProductRecord{}, fmt.Errorf("product %s: %w", code, ErrNotFound)
	}
	return p, err
}

func (s *PGStore) ListProducts(ctx context.Context, filter ProductFilter) ([]internal.ProductRecord, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Codes) > 0 {
		where = append(where, "code = ANY("+arg(filter.Codes)+")")
	}
	if filter.Category != "" {
		where = append(where, "category = "+arg(filter.Category))
	}
	if filter.Type != "" {
		where = append(where, "type = "+arg(filter.Type))
	}
	if filter.AvailableOnly {
		where = append(where, "available_on_web")
	}
	if filter.MinStock > 0 {
		where = append(where, "stock >= "+arg(filter.MinStock))
	}

	query := `SELECT ` + pgProductColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category, type, source_order, code"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPGProduct)
}

func (s *PGStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (s *PGStore) DeleteProducts(ctx context.Context, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE code = ANY($1)`, codes)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanPGProduct(row pgx.CollectableRow) (internal.ProductRecord, error) {
	var p internal.ProductRecord
	err := row.Scan(
		&p.Code, &p.Name, &p.Category, &p.Type, &p.Color,
		&p.WidthMeters, &p.LengthMeters, &p.WidthRaw, &p.LengthRaw, &p.ThicknessRaw,
		&p.CostPrice, &p.NetPrice, &p.PriceWithTax, &p.PreviousPrice,
		&p.PriceChanged, &p.PriceChangePercent, &p.PriceChangeDate, &p.NewPricing,
		&p.Stock, &p.HasImage, &p.ImagePath, &p.AvailableOnWeb, &p.AvailabilityOverride, &p.FailureReasons,
		&p.SourceSheet, &p.SourceOrder, &p.UpdatedAt,
	)
	return p, err
}
