package catalog

import (
	"slices"
	"strings"

	"catalogsync/internal"
)

// MergeRecord combines a stored record with an incoming one. Sync-owned
// fields always come from incoming; descriptive fields keep the stored value
// when the incoming one is empty.
func MergeRecord(stored, incoming internal.ProductRecord) internal.ProductRecord {
	out := incoming
	if strings.TrimSpace(out.Name) == "" {
		out.Name = stored.Name
	}
	if strings.TrimSpace(out.Category) == "" {
		out.Category = stored.Category
	}
	if strings.TrimSpace(out.Type) == "" {
		out.Type = stored.Type
	}
	if strings.TrimSpace(out.Color) == "" {
		out.Color = stored.Color
	}
	if out.CostPrice.IsZero() {
		out.CostPrice = stored.CostPrice
	}
	if !out.HasImage && out.ImagePath == nil {
		out.HasImage = stored.HasImage
		out.ImagePath = stored.ImagePath
	}
	return out
}

// SameRecord reports whether a and b hold the same catalog content.
// UpdatedAt is ignored.
func SameRecord(a, b internal.ProductRecord) bool {
	return a.Code == b.Code &&
		a.Name == b.Name &&
		a.Category == b.Category &&
		a.Type == b.Type &&
		a.Color == b.Color &&
		a.WidthMeters == b.WidthMeters &&
		a.LengthMeters == b.LengthMeters &&
		a.WidthRaw == b.WidthRaw &&
		a.LengthRaw == b.LengthRaw &&
		a.ThicknessRaw == b.ThicknessRaw &&
		a.CostPrice.Equal(b.CostPrice) &&
		a.NetPrice.Equal(b.NetPrice) &&
		a.PriceWithTax.Equal(b.PriceWithTax) &&
		a.PreviousPrice.Equal(b.PreviousPrice) &&
		a.PriceChanged == b.PriceChanged &&
		a.PriceChangePercent == b.PriceChangePercent &&
		sameTime(a, b) &&
		a.NewPricing == b.NewPricing &&
		a.Stock == b.Stock &&
		a.HasImage == b.HasImage &&
		sameString(a.ImagePath, b.ImagePath) &&
		a.AvailableOnWeb == b.AvailableOnWeb &&
		a.AvailabilityOverride == b.AvailabilityOverride &&
		slices.Equal(a.FailureReasons, b.FailureReasons) &&
		a.SourceSheet == b.SourceSheet &&
		a.SourceOrder == b.SourceOrder
}

func sameTime(a, b internal.ProductRecord) bool {
	if a.PriceChangeDate == nil || b.PriceChangeDate == nil {
		return a.PriceChangeDate == nil && b.PriceChangeDate == nil
	}
	return a.PriceChangeDate.Equal(*b.PriceChangeDate)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DedupeByCode keeps one record per code. The later record wins but keeps
// the position of the first occurrence. It returns the number of dropped
// duplicates.
func DedupeByCode(records []internal.ProductRecord) ([]internal.ProductRecord, int) {
	out := make([]internal.ProductRecord, 0, len(records))
	pos := make(map[string]int, len(records))
	dupes := 0
	for _, rec := range records {
		if i, ok := pos[rec.Code]; ok {
			out[i] = rec
			dupes++
			continue
		}
		pos[rec.Code] = len(out)
		out = append(out, rec)
	}
	return out, dupes
}
