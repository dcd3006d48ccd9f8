package pipeline

import (
	"fmt"
	"strings"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

// RowError describes a source row that was skipped.
type RowError struct {
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("sheet %s row %d: %s", e.Sheet, e.Row, e.Reason)
}

const minFields = 2

// ToProductRecord is the single place where an untyped row becomes a
// ProductRecord. order is the 1-based data row number inside the sheet.
// Unmapped roles leave their fields empty.
func ToProductRecord(row internal.RawRow, mapping internal.ColumnMapping, sheet string, order int, taxRate float64) (internal.ProductRecord, error) {
	if len(row) < minFields {
		return internal.ProductRecord{}, RowError{Sheet: sheet, Row: order, Reason: fmt.Sprintf("too few fields (%d)", len(row))}
	}

	code := strings.ReplaceAll(mapping.Field(row, internal.RoleCode), " ", "")
	if !util.IsValidCode(code) {
		return internal.ProductRecord{}, RowError{Sheet: sheet, Row: order, Reason: fmt.Sprintf("invalid code %q", code)}
	}

	rec := internal.ProductRecord{
		Code:         code,
		Name:         util.NormalizeSpaces(mapping.Field(row, internal.RoleName)),
		Category:     strings.TrimSpace(sheet),
		Type:         util.NormalizeSpaces(mapping.Field(row, internal.RoleType)),
		Color:        util.NormalizeSpaces(mapping.Field(row, internal.RoleColor)),
		WidthRaw:     mapping.Field(row, internal.RoleWidth),
		LengthRaw:    mapping.Field(row, internal.RoleLength),
		ThicknessRaw: mapping.Field(row, internal.RoleThickness),
		SourceSheet:  sheet,
		SourceOrder:  order,
	}
	if _, mapped := mapping.Index(internal.RoleThickness); !mapped {
		rec.ThicknessRaw = thicknessFromText(rec.Type, rec.Name)
	}

	if w, ok := ParseDimension(rec.WidthRaw); ok {
		rec.WidthMeters = w
	}
	if l, ok := ParseDimension(rec.LengthRaw); ok {
		rec.LengthMeters = l
	}

	if net, ok := util.ParseAmount(mapping.Field(row, internal.RolePrice)); ok {
		rec.NetPrice = net
		rec.PriceWithTax = PriceWithTax(net, taxRate)
	}
	if stock, ok := util.ParseStock(mapping.Field(row, internal.RoleStock)); ok {
		rec.Stock = stock
	}

	return rec, nil
}
