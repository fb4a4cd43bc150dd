package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// ReportData is the review section of the page.
type ReportData struct {
	Valid        bool
	FailedChecks []string
	Tables       []core.AnnotatedTable
}

// Report renders the verdict, failed checks and one preview per table.
func Report(r ReportData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<section id="report"><h2>Report: `)
		if r.Valid {
			hw.raw(`<span class="pass">valid</span>`)
		} else {
			hw.raw(`<span class="fail">invalid</span>`)
		}
		hw.raw(` <a href="/api/report/export">download .xlsx</a></h2>`)

		if len(r.FailedChecks) > 0 {
			hw.raw(`<ul>`)
			for _, msg := range r.FailedChecks {
				hw.raw(`<li class="fail">`)
				hw.text(msg)
				hw.raw(`</li>`)
			}
			hw.raw(`</ul>`)
		}

		for _, t := range r.Tables {
			hw.component(PreviewTable(t))
		}
		hw.raw(`</section>`)
		return hw.err
	})
}

// PreviewTable renders one annotated table: its checks, the capped rows with
// flagged cells highlighted, and the "N more rows" summary.
func PreviewTable(t core.AnnotatedTable) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<h3>`)
		hw.text(t.Name)
		hw.raw(` <span class="code">`)
		hw.int(t.TotalRows)
		hw.raw(` rows, `)
		hw.int(t.Flagged)
		hw.raw(` flagged cells</span></h3>`)

		if len(t.Checks) > 0 {
			hw.raw(`<ul>`)
			for _, c := range t.Checks {
				if c.Passed {
					hw.raw(`<li class="pass">`)
				} else {
					hw.raw(`<li class="fail">`)
				}
				hw.text(c.Name)
				hw.raw(`: `)
				hw.text(c.Message)
				hw.raw(`</li>`)
			}
			hw.raw(`</ul>`)
		}

		if len(t.Columns) == 0 {
			hw.raw(`<p class="more">No rows.</p>`)
			return hw.err
		}

		hw.raw(`<table><thead><tr><th>#</th>`)
		for _, col := range t.Columns {
			hw.raw(`<th>`)
			hw.text(col)
			hw.raw(`</th>`)
		}
		hw.raw(`</tr></thead><tbody>`)
		for _, row := range t.Rows {
			hw.raw(`<tr><td>`)
			hw.int(row.Index)
			hw.raw(`</td>`)
			for _, cell := range row.Cells {
				if cell.Flagged {
					hw.raw(`<td class="flagged">`)
				} else {
					hw.raw(`<td>`)
				}
				hw.text(cell.Value.String())
				hw.raw(`</td>`)
			}
			hw.raw(`</tr>`)
		}
		hw.raw(`</tbody></table>`)

		if summary := t.Summary(); summary != "" {
			hw.raw(`<p class="more">`)
			hw.text(summary)
			hw.raw(`</p>`)
		}
		return hw.err
	})
}
