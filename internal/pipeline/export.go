package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"catalogsync/internal"
)

// ExportAvailabilityXLSX writes one row per product with its visibility
// decision, so operators can see why a product is hidden.
func ExportAvailabilityXLSX(records []internal.ProductRecord, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{
		"code", "name", "category", "type", "color",
		"width", "length", "thickness",
		"net_price", "price_with_tax", "previous_price", "price_changed", "price_change_pct",
		"stock", "has_image", "available_on_web", "manual_override", "failing_reasons",
		"source_sheet", "source_order",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, rec := range records {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, rec.Code)
		set(2, rec.Name)
		set(3, rec.Category)
		set(4, rec.Type)
		set(5, rec.Color)
		set(6, FormatDimension(rec.WidthMeters))
		set(7, FormatDimension(rec.LengthMeters))
		set(8, rec.ThicknessRaw)
		set(9, rec.NetPrice.InexactFloat64())
		set(10, rec.PriceWithTax.InexactFloat64())
		set(11, rec.PreviousPrice.InexactFloat64())
		set(12, rec.PriceChanged)
		set(13, rec.PriceChangePercent)
		set(14, rec.Stock)
		set(15, rec.HasImage)
		set(16, rec.AvailableOnWeb)
		set(17, rec.AvailabilityOverride)
		set(18, strings.Join(FailingReasons(rec.FailureReasons), "\n"))
		set(19, rec.SourceSheet)
		set(20, rec.SourceOrder)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
