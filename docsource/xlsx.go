package docsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXReader renders every non-empty sheet as a heading line followed by
// one "Header: value" line per cell, so that the line-oriented experts see
// labels next to values.
type XLSXReader struct{}

func (r *XLSXReader) Formats() []string { return []string{"xlsx", "xlsm"} }

func (r *XLSXReader) Read(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Debug("docsource: skipping unreadable sheet", "sheet", sheet, "error", err)
			continue
		}
		if s := renderSheet(sheet, rows); s != "" {
			sheets = append(sheets, s)
		}
	}
	if len(sheets) == 0 {
		return "", errors.New("no data found in XLSX")
	}
	return strings.Join(sheets, "\n\n"), nil
}

// renderSheet treats the first row as headers. Rows after it become
// "Header: value" lines joined by ", ". Cells without a header are written
// bare.
func renderSheet(name string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sheet: " + name)
	headers := rows[0]
	if len(rows) == 1 {
		b.WriteString("\n" + strings.Join(headers, ", "))
		return b.String()
	}
	for _, row := range rows[1:] {
		var cells []string
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
				cells = append(cells, strings.TrimSpace(headers[i])+": "+v)
			} else {
				cells = append(cells, v)
			}
		}
		if len(cells) > 0 {
			b.WriteString("\n" + strings.Join(cells, ", "))
		}
	}
	return b.String()
}
