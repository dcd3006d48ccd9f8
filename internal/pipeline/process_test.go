package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

const panelSheet = `SKU,Nombre,Tipo,Ancho,Largo,Precio,Stock
11223344,Panel A,Alveolar,0.81,3.00,15000,12
`

func newTestProcessor() *Processor {
	p := NewProcessor(10, DefaultTaxRate)
	p.Now = func() time.Time { return fixedNow }
	return p
}

func TestProcessSheetEndToEnd(t *testing.T) {
	res := newTestProcessor().ProcessSheet(ParseSheet("Policarbonato", panelSheet), nil)

	require.Equal(t, 1, res.Rows)
	require.Empty(t, res.Skipped)
	require.Equal(t, 7, res.Mapping.Len())
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	require.Equal(t, "11223344", rec.Code)
	require.Equal(t, "Panel A", rec.Name)
	require.Equal(t, "Alveolar", rec.Type)
	require.Equal(t, "Policarbonato", rec.Category)
	require.Equal(t, 0.81, rec.WidthMeters)
	require.Equal(t, 3.0, rec.LengthMeters)
	require.Equal(t, "17850", rec.PriceWithTax.String())
	require.Equal(t, 12, rec.Stock)
	require.Equal(t, 1, rec.SourceOrder)
	require.Equal(t, fixedNow, rec.UpdatedAt)

	// the raw width "0.81" has no unit suffix and there is no image
	require.False(t, rec.AvailableOnWeb)
	failing := FailingReasons(rec.FailureReasons)
	require.Len(t, failing, 2)
	require.Contains(t, failing[0], "incomplete dimensions")
	require.Contains(t, failing[1], "no image")
}

func TestProcessSheetSkipsMalformedRows(t *testing.T) {
	text := `SKU,Nombre,Ancho,Largo,Espesor,Precio,Stock
11223344,Panel A,1.05m,2.90m,6mm,"$15.000",12
1234,Corto,1.05m,2.90m,6mm,"$15.000",12
solo
22334455,Panel B,"0,81m","2,10m",8mm,"$9.990",3
`
	res := newTestProcessor().ProcessSheet(ParseSheet("Alveolar", text), nil)

	require.Equal(t, 4, res.Rows)
	require.Len(t, res.Records, 2)
	require.Len(t, res.Skipped, 2)
	require.Equal(t, 2, res.Skipped[0].Row)
	require.Contains(t, res.Skipped[0].Reason, "invalid code")
	require.Equal(t, 3, res.Skipped[1].Row)
	require.Contains(t, res.Skipped[1].Reason, "too few fields")

	second := res.Records[1]
	require.Equal(t, 4, second.SourceOrder)
	require.Equal(t, 0.81, second.WidthMeters)
	require.Equal(t, 2.1, second.LengthMeters)
	require.Equal(t, "8mm", second.ThicknessRaw)
	require.True(t, second.NetPrice.Equal(decimal.NewFromInt(9990)))
}

func TestProcessSheetUsesStoredRecord(t *testing.T) {
	text := `SKU,Nombre,Ancho,Largo,Espesor,Precio,Stock
11223344,Panel A,1.05m,2.90m,6mm,1190,12
`
	stored := internal.ProductRecord{
		Code:      "11223344",
		NetPrice:  decimal.NewFromInt(1000),
		HasImage:  true,
		ImagePath: util.StringPtr("/img/11223344.jpg"),
	}
	lookup := func(code string) (internal.ProductRecord, bool) {
		if code == stored.Code {
			return stored, true
		}
		return internal.ProductRecord{}, false
	}

	res := newTestProcessor().ProcessSheet(ParseSheet("Alveolar", text), lookup)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	require.True(t, rec.PriceChanged)
	require.Equal(t, 19.0, rec.PriceChangePercent)
	require.True(t, rec.HasImage)
	require.True(t, rec.AvailableOnWeb)
	require.Empty(t, FailingReasons(rec.FailureReasons))
}

func TestProcessSheetHeaderOnly(t *testing.T) {
	res := newTestProcessor().ProcessSheet(ParseSheet("Vacia", "SKU,Nombre\n"), nil)
	require.Zero(t, res.Rows)
	require.Empty(t, res.Records)
	require.Zero(t, res.Mapping.Len())
}
