package pipeline

import (
	"strings"

	"catalogsync/internal"
)

const (
	delimiter = ','
	quoteChar = '"'
)

// Tokenize splits one delimited line into fields. A delimiter between a pair
// of quotes is literal text. Quotes only toggle quote mode and are dropped;
// each field is trimmed. Malformed quoting never fails, an unterminated quote
// simply runs to the end of the line.
func Tokenize(line string) internal.RawRow {
	line = strings.TrimRight(line, "\r\n")
	fields := internal.RawRow{}
	var current strings.Builder
	inQuotes := false

	for _, r := range line {
		switch {
		case r == quoteChar:
			inQuotes = !inQuotes
		case r == delimiter && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))
	return fields
}

// ParseSheet tokenizes a whole CSV document. Blank lines are dropped; the
// first remaining line is the header row.
func ParseSheet(name, text string) internal.Sheet {
	sheet := internal.Sheet{Name: name}
	for _, line := range splitLines(text) {
		row := Tokenize(line)
		if isBlankRow(row) {
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

func splitLines(text string) []string {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

func isBlankRow(row internal.RawRow) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}
