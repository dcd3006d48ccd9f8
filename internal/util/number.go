package util

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reCurrency      = regexp.MustCompile(`[$€£]|(?i)\bclp\b`)
	reThousandsDot  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComa = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reMixedDotComa  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d+$`)
	reMixedComaDot  = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+\.\d+$`)
)

// HasCurrencySymbol reports whether s carries a currency marker.
func HasCurrencySymbol(s string) bool {
	return reCurrency.MatchString(s)
}

// ParseAmount parses a human-entered money value such as "$15.000",
// "15,000", "1.234,50" or "15000". Dots and commas in groups of three are
// read as thousands separators.
func ParseAmount(input string) (decimal.Decimal, bool) {
	token := reCurrency.ReplaceAllString(input, "")
	token = NormalizeNumericToken(token)
	if token == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseStock parses a stock cell. Fractions are truncated and negative
// values clamp to zero.
func ParseStock(input string) (int, bool) {
	token := NormalizeNumericToken(input)
	if token == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	if f < 0 {
		return 0, true
	}
	return int(f), true
}

// ParseDecimal parses a plain decimal with either separator ("0,81",
// "2.10"). Unlike ParseAmount it never treats a dot as a thousands mark.
func ParseDecimal(input string) (float64, bool) {
	token := strings.TrimSpace(strings.ReplaceAll(input, ",", "."))
	if token == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func NormalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(strings.TrimSpace(token), " ", "")
	compact = strings.ReplaceAll(compact, "\u00A0", "")
	switch {
	case reMixedDotComa.MatchString(compact):
		return strings.ReplaceAll(strings.ReplaceAll(compact, ".", ""), ",", ".")
	case reMixedComaDot.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case reThousandsDot.MatchString(compact):
		return strings.ReplaceAll(compact, ".", "")
	case reThousandsComa.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case strings.Contains(compact, ",") && !strings.Contains(compact, "."):
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
