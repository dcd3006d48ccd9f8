package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"catalogsync/internal"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		line string
		want internal.RawRow
	}{
		{name: "quoted delimiter", line: `A,"B,C",D`, want: internal.RawRow{"A", "B,C", "D"}},
		{name: "trims fields", line: ` 11223344 , Panel A ,12`, want: internal.RawRow{"11223344", "Panel A", "12"}},
		{name: "empty fields kept", line: `a,,c,`, want: internal.RawRow{"a", "", "c", ""}},
		{name: "decimal comma in quotes", line: `"2,10m","0,81"`, want: internal.RawRow{"2,10m", "0,81"}},
		{name: "unterminated quote", line: `x,"y,z`, want: internal.RawRow{"x", "y,z"}},
		{name: "crlf", line: "a,b\r\n", want: internal.RawRow{"a", "b"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Tokenize(tc.line))
		})
	}
}

func TestParseSheetSkipsBlankLines(t *testing.T) {
	text := "\uFEFFSKU,Nombre\r\n\r\n11223344,Panel A\r\n,\r\n22334455,Panel B\r\n"
	sheet := ParseSheet("Policarbonato", text)

	require.Equal(t, "Policarbonato", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	require.Equal(t, internal.RawRow{"SKU", "Nombre"}, sheet.Rows[0])
	require.Equal(t, "22334455", sheet.Rows[2][0])
}
