package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces    = regexp.MustCompile(`\s+`)
	reValidCode = regexp.MustCompile(`^\d{8,}$`)
	reDigitRun  = regexp.MustCompile(`\d{8,}`)
)

// FoldHeader lowercases s, strips diacritics and collapses whitespace so
// "Categoría " and "CATEGORIA" compare equal.
func FoldHeader(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, input)
	if err != nil {
		folded = input
	}
	folded = strings.ToLower(folded)
	folded = reSpaces.ReplaceAllString(folded, " ")
	return strings.TrimSpace(folded)
}

// IsValidCode reports whether code is a product code of 8 or more digits.
func IsValidCode(code string) bool {
	return reValidCode.MatchString(strings.TrimSpace(code))
}

// HasDigitRun reports whether s contains 8 or more consecutive digits.
func HasDigitRun(s string) bool {
	return reDigitRun.MatchString(s)
}

// Digits keeps only the ASCII digits of s.
func Digits(s string) string {
	out := strings.Builder{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(strings.ReplaceAll(input, "\u00A0", " "), " "))
}

func StringPtr(v string) *string { return &v }
