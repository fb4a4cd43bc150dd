package core

import (
	"fmt"
	"sort"
)

// DefaultPreviewRows is the number of rows shown per table on review.
const DefaultPreviewRows = 20

// AnnotatedCell is one displayed cell and whether the service flagged it.
type AnnotatedCell struct {
	Column  string    `json:"column"`
	Value   CellValue `json:"value"`
	Flagged bool      `json:"flagged"`
}

// AnnotatedRow is one displayed preview row.
type AnnotatedRow struct {
	Index int             `json:"index"`
	Cells []AnnotatedCell `json:"cells"`
}

// NamedCheck pairs a check name with its outcome.
type NamedCheck struct {
	Name string `json:"name"`
	CheckOutcome
}

// AnnotatedTable is the review view of one table.
type AnnotatedTable struct {
	Name      string         `json:"name"`
	Checks    []NamedCheck   `json:"checks"`
	Columns   []string       `json:"columns"`
	Rows      []AnnotatedRow `json:"rows"`
	TotalRows int            `json:"total_rows"`
	Remaining int            `json:"remaining"`
	Flagged   int            `json:"flagged"`
}

// Passed reports whether every check on the table passed.
func (t AnnotatedTable) Passed() bool {
	for _, c := range t.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Summary describes the rows cut by the display cap, e.g. "5 more rows".
// It is empty when nothing was cut.
func (t AnnotatedTable) Summary() string {
	switch t.Remaining {
	case 0:
		return ""
	case 1:
		return "1 more row"
	default:
		return fmt.Sprintf("%d more rows", t.Remaining)
	}
}

// Annotate joins the report's error locations against its previews and
// returns, per table, at most limit rows with every cell marked flagged or
// not. Column headers come from the first preview row; a table without rows
// has no columns. A non-positive limit selects DefaultPreviewRows.
//
// Annotate has no side effects: the same report always yields the same output.
func Annotate(report *ValidationReport, limit int) []AnnotatedTable {
	if report == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultPreviewRows
	}

	tables := report.Tables()
	out := make([]AnnotatedTable, 0, len(tables))
	for _, name := range tables {
		rows := report.Previews[name]

		at := AnnotatedTable{
			Name:      name,
			Checks:    sortedChecks(report.CheckResults[name]),
			TotalRows: len(rows),
			Flagged:   report.FlaggedCount(name),
		}
		if len(rows) > 0 {
			at.Columns = rows[0].Columns()
		}

		shown := min(len(rows), limit)
		at.Remaining = len(rows) - shown
		at.Rows = make([]AnnotatedRow, 0, shown)
		for i := 0; i < shown; i++ {
			ar := AnnotatedRow{Index: i, Cells: make([]AnnotatedCell, 0, len(at.Columns))}
			for _, col := range at.Columns {
				v, _ := rows[i].Get(col)
				ar.Cells = append(ar.Cells, AnnotatedCell{
					Column:  col,
					Value:   v,
					Flagged: report.IsCellFlagged(name, i, col),
				})
			}
			at.Rows = append(at.Rows, ar)
		}

		out = append(out, at)
	}
	return out
}

func sortedChecks(checks map[string]CheckOutcome) []NamedCheck {
	out := make([]NamedCheck, 0, len(checks))
	for name, outcome := range checks {
		out = append(out, NamedCheck{Name: name, CheckOutcome: outcome})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
