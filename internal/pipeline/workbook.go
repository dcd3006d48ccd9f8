package pipeline

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

var reColumnLetter = regexp.MustCompile(`^[A-Z]{1,2}$`)

// SheetsFromXLSX reads every tab of a workbook as a sheet.
func SheetsFromXLSX(content []byte) ([]internal.Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []internal.Sheet{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		if sheet := SheetFromCells(name, rows); len(sheet.Rows) > 0 {
			out = append(out, sheet)
		}
	}
	return out, nil
}

// SheetFromCells builds a sheet from an already split grid, as returned by
// a workbook reader or the Sheets API. Cells are trimmed and blank rows
// dropped.
func SheetFromCells(name string, rows [][]string) internal.Sheet {
	sheet := internal.Sheet{Name: name}
	for _, row := range rows {
		cells := normalizeCells(row)
		if isBlankRow(cells) {
			continue
		}
		sheet.Rows = append(sheet.Rows, cells)
	}
	return sheet
}

// SheetsFromHTML reads the tables of a published spreadsheet page. The
// column-letter row and row-number column that spreadsheet viewers add are
// dropped.
func SheetsFromHTML(name, html string) []internal.Sheet {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	tables := doc.Find("table")
	out := []internal.Sheet{}
	tables.Each(func(i int, table *goquery.Selection) {
		sheetName := name
		if tables.Length() > 1 {
			sheetName = name + "#" + strconv.Itoa(i+1)
		}
		sheet := internal.Sheet{Name: sheetName}
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := internal.RawRow{}
			tr.Find("th,td").Each(func(j int, cell *goquery.Selection) {
				text := util.NormalizeSpaces(cell.Text())
				if j == 0 && goquery.NodeName(cell) == "th" && isRowNumber(text) {
					return
				}
				cells = append(cells, text)
			})
			if isBlankRow(cells) || isColumnLetterRow(cells) {
				return
			}
			sheet.Rows = append(sheet.Rows, cells)
		})
		if len(sheet.Rows) > 0 {
			out = append(out, sheet)
		}
	})
	return out
}

func normalizeCells(row []string) internal.RawRow {
	out := make(internal.RawRow, 0, len(row))
	for _, c := range row {
		out = append(out, util.NormalizeSpaces(c))
	}
	return out
}

func isColumnLetterRow(cells internal.RawRow) bool {
	for _, c := range cells {
		if c != "" && !reColumnLetter.MatchString(c) {
			return false
		}
	}
	return true
}

func isRowNumber(text string) bool {
	return text == "" || util.Digits(text) == text
}
