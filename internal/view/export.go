package view

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"taptendance/internal/ledger"
)

const sheetName = "Attendance"

// Column width clamp, in character units.
const (
	minColWidth = 10
	maxColWidth = 60
)

var unsafeTitleChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeTitle turns a user-supplied export title into a filesystem-safe
// token: reserved and control characters stripped, length capped at 80,
// whitespace collapsed to single underscores. An empty result falls back
// to attendance_<date>.
func SanitizeTitle(raw string, now time.Time) string {
	s := unsafeTitleChars.ReplaceAllString(strings.TrimSpace(raw), "")
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80])
	}
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "attendance_" + now.Format("2006-01-02")
	}
	return s
}

// Filename builds the export artifact name from the sanitized title.
func Filename(rawTitle string, now time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", SanitizeTitle(rawTitle, now), now.Format("2006-01-02"))
}

// ColWidths auto-sizes columns from header and cell content: the longest
// value scaled by 1.15 plus padding, clamped to [10, 60].
func ColWidths(headers []string, rows []Row) []float64 {
	widths := make([]float64, len(headers))
	for i, h := range headers {
		maxLen := len(h)
		for _, row := range rows {
			if v := row.Values()[i]; len(v) > maxLen {
				maxLen = len(v)
			}
		}
		w := math.Ceil(float64(maxLen)*1.15) + 2
		if w < minColWidth {
			w = minColWidth
		}
		if w > maxColWidth {
			w = maxColWidth
		}
		widths[i] = w
	}
	return widths
}

// WriteXLSX renders records as the export workbook: a title row merged
// across the data columns, a blank spacer row, then the header and data
// table with auto-sized columns.
func WriteXLSX(w io.Writer, records []ledger.Record, title string, now time.Time) error {
	if title = strings.TrimSpace(title); title == "" {
		title = "Attendance Records - " + now.Format("2006-01-02")
	}
	rows := Project(records)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	if err := f.SetCellValue(sheetName, "A1", title); err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(Headers))
	if err != nil {
		return err
	}
	if err := f.MergeCell(sheetName, "A1", lastCol+"1"); err != nil {
		return err
	}

	// row 2 stays blank; header on row 3, data from row 4
	for i, h := range Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 3)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	for ri, row := range rows {
		for ci, v := range row.Values() {
			cell, err := excelize.CoordinatesToCellName(ci+1, ri+4)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
	}

	for i, width := range ColWidths(Headers, rows) {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return err
		}
	}

	return f.Write(w)
}
