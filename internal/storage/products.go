package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal"
)

// ProductFilter narrows ListProducts. Zero values mean "any".
type ProductFilter struct {
	Codes         []string
	Category      string
	Type          string
	AvailableOnly bool
	MinStock      int
}

const productColumns = `code, name, category, type, color,
  widthMeters, lengthMeters, widthRaw, lengthRaw, thicknessRaw,
  costPrice, netPrice, priceWithTax, previousPrice,
  priceChanged, priceChangePercent, priceChangeDate, newPricing,
  stock, hasImage, imagePath, availableOnWeb, availabilityOverride, failureReasons,
  sourceSheet, sourceOrder, updatedAt`

// Guard runs inside a write transaction right before commit. An error rolls
// the transaction back; the sync passes its lease check here so a writer
// that lost the lease cannot commit.
type Guard func(ctx context.Context) error

func (g Guard) check(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g(ctx)
}

// UpsertProducts writes every record as a full row keyed by code inside one
// transaction, so a batch either lands completely or not at all. guard may be
// nil.
func (d *DB) UpsertProducts(ctx context.Context, products []internal.ProductRecord, guard Guard) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO products (`+productColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
  name=excluded.name,
  category=excluded.category,
  type=excluded.type,
  color=excluded.color,
  widthMeters=excluded.widthMeters,
  lengthMeters=excluded.lengthMeters,
  widthRaw=excluded.widthRaw,
  lengthRaw=excluded.lengthRaw,
  thicknessRaw=excluded.thicknessRaw,
  costPrice=excluded.costPrice,
  netPrice=excluded.netPrice,
  priceWithTax=excluded.priceWithTax,
  previousPrice=excluded.previousPrice,
  priceChanged=excluded.priceChanged,
  priceChangePercent=excluded.priceChangePercent,
  priceChangeDate=excluded.priceChangeDate,
  newPricing=excluded.newPricing,
  stock=excluded.stock,
  hasImage=excluded.hasImage,
  imagePath=excluded.imagePath,
  availableOnWeb=excluded.availableOnWeb,
  availabilityOverride=excluded.availabilityOverride,
  failureReasons=excluded.failureReasons,
  sourceSheet=excluded.sourceSheet,
  sourceOrder=excluded.sourceOrder,
  updatedAt=excluded.updatedAt
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range products {
		reasonsJSON, _ := json.Marshal(nonNilStrings(p.FailureReasons))
		var changeDate *string
		if p.PriceChangeDate != nil {
			s := p.PriceChangeDate.UTC().Format(time.RFC3339)
			changeDate = &s
		}
		if _, err := stmt.ExecContext(ctx,
			p.Code, p.Name, p.Category, p.Type, p.Color,
			p.WidthMeters, p.LengthMeters, p.WidthRaw, p.LengthRaw, p.ThicknessRaw,
			p.CostPrice, p.NetPrice, p.PriceWithTax, p.PreviousPrice,
			p.PriceChanged, p.PriceChangePercent, changeDate, p.NewPricing,
			p.Stock, p.HasImage, p.ImagePath, p.AvailableOnWeb, p.AvailabilityOverride, string(reasonsJSON),
			p.SourceSheet, p.SourceOrder, p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", p.Code, err)
		}
	}

	if err := guard.check(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProducts returns the stored records for codes keyed by code. Unknown
// codes are absent from the map.
func (d *DB) GetProducts(ctx context.Context, codes []string) (map[string]internal.ProductRecord, error) {
	out := make(map[string]internal.ProductRecord, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	products, err := d.ListProducts(ctx, ProductFilter{Codes: codes})
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.Code] = p
	}
	return out, nil
}

func (d *DB) GetProduct(ctx context.Context, code string) (internal.ProductRecord, error) {
	products, err := d.ListProducts(ctx, ProductFilter{Codes: []string{code}})
	if err != nil {
		return internal.ProductRecord{}, err
	}
	if len(products) == 0 {
		return internal.ProductRecord{}, fmt.Errorf("product %s: %w", code, ErrNotFound)
	}
	return products[0], nil
}

func (d *DB) ListProducts(ctx context.Context, filter ProductFilter) ([]internal.ProductRecord, error) {
	var where []string
	var args []any
	if len(filter.Codes) > 0 {
		where = append(where, "code IN ("+placeholders(len(filter.Codes))+")")
		for _, c := range filter.Codes {
			args = append(args, c)
		}
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.AvailableOnly {
		where = append(where, "availableOnWeb = 1")
	}
	if filter.MinStock > 0 {
		where = append(where, "stock >= ?")
		args = append(args, filter.MinStock)
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY category, type, sourceOrder, code"

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ProductRecord
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (d *DB) DeleteProducts(ctx context.Context, codes []string) (int, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	res, err := d.conn.ExecContext(ctx, `DELETE FROM products WHERE code IN (`+placeholders(len(codes))+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSQLiteProduct(rows *sql.Rows) (internal.ProductRecord, error) {
	var p internal.ProductRecord
	var changeDate, imagePath sql.NullString
	var reasonsJSON, updatedAt string
	if err := rows.Scan(
		&p.Code, &p.Name, &p.Category, &p.Type, &p.Color,
		&p.WidthMeters, &p.LengthMeters, &p.WidthRaw, &p.LengthRaw, &p.ThicknessRaw,
		&p.CostPrice, &p.NetPrice, &p.PriceWithTax, &p.PreviousPrice,
		&p.PriceChanged, &p.PriceChangePercent, &changeDate, &p.NewPricing,
		&p.Stock, &p.HasImage, &imagePath, &p.AvailableOnWeb, &p.AvailabilityOverride, &reasonsJSON,
		&p.SourceSheet, &p.SourceOrder, &updatedAt,
	); err != nil {
		return internal.ProductRecord{}, err
	}
	if changeDate.Valid {
		if t, err := time.Parse(time.RFC3339, changeDate.String); err == nil {
			p.PriceChangeDate = &t
		}
	}
	if imagePath.Valid {
		v := imagePath.String
		p.ImagePath = &v
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &p.FailureReasons); err != nil {
		return internal.ProductRecord{}, fmt.Errorf("product %s failure reasons: %w", p.Code, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = t
	} else {
		return internal.ProductRecord{}, errors.Join(fmt.Errorf("product %s updatedAt %q", p.Code, updatedAt), err)
	}
	return p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
