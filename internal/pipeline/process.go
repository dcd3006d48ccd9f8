package pipeline

import (
	"errors"
	"time"

	"catalogsync/internal"
)

// Lookup returns the stored record for a code, if any.
type Lookup func(code string) (internal.ProductRecord, bool)

type Processor struct {
	Rules        []DetectRule
	Availability AvailabilityRules
	TaxRate      float64
	Now          func() time.Time
}

func NewProcessor(stockThreshold int, taxRate float64) *Processor {
	return &Processor{
		Rules:        DefaultRules,
		Availability: AvailabilityRules{StockThreshold: stockThreshold},
		TaxRate:      taxRate,
		Now:          time.Now,
	}
}

type SheetResult struct {
	Sheet   string                   `json:"sheet"`
	Rows    int                      `json:"rows"`
	Mapping internal.ColumnMapping   `json:"mapping"`
	Records []internal.ProductRecord `json:"-"`
	Skipped []RowError               `json:"skipped"`
}

// ProcessSheet detects the column mapping from the header and first data
// row, then converts, prices and evaluates every data row. Rows that cannot
// become a record are skipped and reported; they never fail the sheet.
func (p *Processor) ProcessSheet(sheet internal.Sheet, existing Lookup) SheetResult {
	res := SheetResult{Sheet: sheet.Name}
	if len(sheet.Rows) < 2 {
		res.Mapping = internal.NewColumnMapping(nil)
		return res
	}

	header, data := sheet.Rows[0], sheet.Rows[1:]
	res.Rows = len(data)
	res.Mapping = DetectColumns(header, data[0], p.Rules)

	now := p.now()
	for i, row := range data {
		rec, err := ToProductRecord(row, res.Mapping, sheet.Name, i+1, p.TaxRate)
		if err != nil {
			var rowErr RowError
			if errors.As(err, &rowErr) {
				res.Skipped = append(res.Skipped, rowErr)
			} else {
				res.Skipped = append(res.Skipped, RowError{Sheet: sheet.Name, Row: i + 1, Reason: err.Error()})
			}
			continue
		}

		var prev *internal.ProductRecord
		if existing != nil {
			if stored, ok := existing(rec.Code); ok {
				prev = &stored
				rec.HasImage = stored.HasImage
				rec.ImagePath = stored.ImagePath
			}
		}
		TrackPriceChange(&rec, prev, now)
		p.Availability.Apply(&rec)
		rec.UpdatedAt = now
		res.Records = append(res.Records, rec)
	}
	return res
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}
