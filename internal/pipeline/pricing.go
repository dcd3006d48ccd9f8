package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"catalogsync/internal"
)

const DefaultTaxRate = 0.19

// PriceWithTax applies the single fixed tax rate and rounds to whole
// currency units.
func PriceWithTax(net decimal.Decimal, rate float64) decimal.Decimal {
	return net.Mul(decimal.NewFromFloat(1 + rate)).Round(0)
}

// TrackPriceChange compares p.NetPrice with the stored record and fills the
// price-change fields. prev is nil when the code was never stored, which is
// not a change. An unchanged price keeps the change fields already stored,
// so replaying a sync does not erase the last detected change.
func TrackPriceChange(p *internal.ProductRecord, prev *internal.ProductRecord, now time.Time) {
	p.PriceChanged = false
	p.PriceChangePercent = 0
	p.PriceChangeDate = nil
	p.NewPricing = false
	p.PreviousPrice = decimal.Zero

	if prev == nil {
		return
	}

	old := prev.NetPrice
	if old.Equal(p.NetPrice) {
		p.PreviousPrice = prev.PreviousPrice
		p.PriceChanged = prev.PriceChanged
		p.PriceChangePercent = prev.PriceChangePercent
		p.PriceChangeDate = prev.PriceChangeDate
		p.NewPricing = prev.NewPricing
		return
	}

	at := now
	p.PreviousPrice = old
	p.PriceChangeDate = &at
	if old.IsZero() {
		p.NewPricing = true
		return
	}

	p.PriceChanged = true
	pct := p.NetPrice.Sub(old).Div(old).Mul(decimal.NewFromInt(100)).Round(2)
	p.PriceChangePercent = pct.InexactFloat64()
}
