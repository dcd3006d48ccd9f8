package pipeline

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"catalogsync/internal"
)

// SheetsFromEmailRaw extracts the CSV and XLSX attachments of a raw RFC 822
// message. A CSV attachment becomes one sheet named after the file; every tab
// of an XLSX attachment becomes its own sheet.
func SheetsFromEmailRaw(raw []byte) ([]internal.Sheet, string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}

	sheets := []internal.Sheet{}
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		lower := strings.ToLower(filename)
		base := strings.TrimSuffix(filename, filepath.Ext(filename))

		switch {
		case strings.HasSuffix(lower, ".csv"):
			sheet := ParseSheet(base, string(att.Content))
			if len(sheet.Rows) > 0 {
				sheets = append(sheets, sheet)
			}
		case strings.HasSuffix(lower, ".xlsx"):
			extra, err := SheetsFromXLSX(att.Content)
			if err != nil {
				continue
			}
			sheets = append(sheets, extra...)
		}
	}

	return sheets, env.GetHeader("Subject"), nil
}
