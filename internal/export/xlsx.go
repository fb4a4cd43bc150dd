// Package export renders a validation report as a workbook the operator can
// take back to the source spreadsheet: every preview row with the flagged
// cells highlighted, plus a sheet listing each check outcome.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// ChecksSheet is the name of the sheet listing check outcomes.
const ChecksSheet = "Checks"

// ContentType is the MIME type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName suggests a download name for a report of dataset sel.
func FileName(sel core.DatasetSelector, at time.Time) string {
	name := strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, string(sel)))
	if name == "" {
		name = "report"
	}
	return fmt.Sprintf("%s-validation-%s.xlsx", name, at.Format("20060102-150405"))
}

type styles struct {
	header  int
	flagged int
	failed  int
}

// WriteReport writes report to w as an xlsx workbook. Previews are written in
// full, not capped like the review screen.
func WriteReport(w io.Writer, report *core.ValidationReport) error {
	if report == nil {
		return core.ErrNoReport
	}

	f := excelize.NewFile()
	defer f.Close()

	st, err := newStyles(f)
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", ChecksSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	tables := core.Annotate(report, longestTable(report))
	if err := writeChecks(f, st, report, tables); err != nil {
		return err
	}
	for _, table := range tables {
		if err := writeTable(f, st, table); err != nil {
			return fmt.Errorf("write table %s: %w", table.Name, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error

	st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9E1F2"}},
	})
	if err != nil {
		return st, fmt.Errorf("header style: %w", err)
	}
	st.flagged, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFC7CE"}},
	})
	if err != nil {
		return st, fmt.Errorf("flagged style: %w", err)
	}
	st.failed, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "9C0006"},
	})
	if err != nil {
		return st, fmt.Errorf("failed style: %w", err)
	}
	return st, nil
}

func writeChecks(f *excelize.File, st styles, report *core.ValidationReport, tables []core.AnnotatedTable) error {
	status := "PASSED"
	if !report.Valid {
		status = "FAILED"
	}
	if err := f.SetSheetRow(ChecksSheet, "A1", &[]any{"Validation", status}); err != nil {
		return err
	}
	if err := f.SetSheetRow(ChecksSheet, "A3", &[]any{"Table", "Check", "Passed", "Message", "Flagged cells"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(ChecksSheet, "A3", "E3", st.header); err != nil {
		return err
	}

	row := 4
	for _, table := range tables {
		for _, check := range table.Checks {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := []any{table.Name, check.Name, check.Passed, check.Message, table.Flagged}
			if err := f.SetSheetRow(ChecksSheet, cell, &values); err != nil {
				return err
			}
			if !check.Passed {
				end, _ := excelize.CoordinatesToCellName(len(values), row)
				if err := f.SetCellStyle(ChecksSheet, cell, end, st.failed); err != nil {
					return err
				}
			}
			row++
		}
	}
	return f.SetColWidth(ChecksSheet, "A", "D", 24)
}

func writeTable(f *excelize.File, st styles, table core.AnnotatedTable) error {
	if _, err := f.NewSheet(table.Name); err != nil {
		return err
	}

	for c, col := range table.Columns {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(table.Name, cell, col); err != nil {
			return err
		}
	}
	if len(table.Columns) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(table.Columns), 1)
		if err := f.SetCellStyle(table.Name, "A1", end, st.header); err != nil {
			return err
		}
	}

	for _, row := range table.Rows {
		for c, cell := range row.Cells {
			name, _ := excelize.CoordinatesToCellName(c+1, row.Index+2)
			if v := cellValue(cell.Value); v != nil {
				if err := f.SetCellValue(table.Name, name, v); err != nil {
					return err
				}
			}
			if cell.Flagged {
				if err := f.SetCellStyle(table.Name, name, name, st.flagged); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func cellValue(v core.CellValue) any {
	switch raw := v.Raw().(type) {
	case nil:
		return nil
	case json.Number:
		if f, err := raw.Float64(); err == nil {
			return f
		}
		return raw.String()
	default:
		return raw
	}
}

func longestTable(report *core.ValidationReport) int {
	n := 1
	for _, rows := range report.Previews {
		n = max(n, len(rows))
	}
	return n
}
