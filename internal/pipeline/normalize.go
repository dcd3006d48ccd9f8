package pipeline

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDimension  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(mm|cm|m)?$`)
	reLengthUnit = regexp.MustCompile(`\d\s*(mm|cm|m)$`)
	reThickness  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*mm\b`)
)

// ParseDimension converts a spreadsheet dimension token into meters.
// "6mm" and "81cm" are scaled, "2,10m" and bare numbers are meters.
// Empty, "null", "undefined", zero and unparseable tokens report ok=false,
// meaning the dimension is unspecified.
func ParseDimension(token string) (meters float64, ok bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" || t == "null" || t == "undefined" {
		return 0, false
	}
	t = strings.ReplaceAll(t, ",", ".")
	m := reDimension.FindStringSubmatch(t)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "mm":
		v /= 1000
	case "cm":
		v /= 100
	}
	if v == 0 {
		return 0, false
	}
	return roundTo(v, 6), true
}

// FormatDimension renders a stored meters value for display. Values below
// one meter come out in centimeters ("81cm"), the rest in meters with at
// most two decimals ("2.1m"). Unspecified values render as "".
//
// This is display only: ingestion never reads a bare number as centimeters.
func FormatDimension(meters float64) string {
	if meters <= 0 {
		return ""
	}
	if meters < 1 {
		return strconv.FormatFloat(roundTo(meters*100, 2), 'f', -1, 64) + "cm"
	}
	return strconv.FormatFloat(roundTo(meters, 2), 'f', -1, 64) + "m"
}

// FormatRawDimension formats a raw spreadsheet token for display.
func FormatRawDimension(token string) string {
	meters, ok := ParseDimension(token)
	if !ok {
		return ""
	}
	return FormatDimension(meters)
}

// hasLengthUnit reports whether a width/length token ends in a length unit.
func hasLengthUnit(token string) bool {
	return reLengthUnit.MatchString(strings.ToLower(strings.TrimSpace(token)))
}

func hasThicknessUnit(token string) bool {
	return strings.Contains(strings.ToLower(token), "mm")
}

// thicknessFromText pulls a "6mm"-style token out of a product name or type.
func thicknessFromText(values ...string) string {
	for _, v := range values {
		if m := reThickness.FindStringSubmatch(v); m != nil {
			return m[1] + "mm"
		}
	}
	return ""
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
