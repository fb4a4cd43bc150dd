package templates

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// PageData feeds the console page.
type PageData struct {
	State     core.State
	Datasets  []core.Dataset
	Report    *ReportData
	Error     *core.UserMessage // failure recorded by the workflow
	Flash     *core.UserMessage // one-shot rejection from the last form post
	MaxFileMB int64
}

// Page renders the whole console.
func Page(d PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		hw.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>sheetgate</title>`)
		hw.raw(pageStyle)
		hw.raw(`</head><body><header><h1>sheetgate</h1>`)
		hw.component(StatusBadge(d.State.Availability))
		hw.raw(`<span>phase: <strong>`)
		hw.text(string(d.State.Phase))
		hw.raw(`</strong></span></header>`)

		if d.Flash != nil {
			hw.component(ErrorAlert(d.Flash.Message, d.Flash.Action, d.Flash.Code))
		}
		if d.Error != nil {
			hw.component(ErrorAlert(d.Error.Message, d.Error.Action, d.Error.Code))
		}
		if d.State.Notice != "" {
			hw.component(Notice(d.State.Notice))
		}

		hw.component(controls(d))
		if d.Report != nil {
			hw.component(Report(*d.Report))
		}

		hw.raw(pageScript)
		hw.raw(`</body></html>`)
		return hw.err
	})
}

// controls renders the dataset, file and action forms.
func controls(d PageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := newWriter(ctx, w)
		st := d.State

		hw.raw(`<section><form method="post" action="/api/file" enctype="multipart/form-data">`)
		hw.raw(`<label>Dataset <select name="dataset"`)
		if st.Selector != "" {
			hw.raw(` disabled`)
		}
		hw.raw(`><option value="">Select…</option>`)
		for _, ds := range d.Datasets {
			hw.raw(`<option value="`)
			hw.text(string(ds.Selector))
			hw.raw(`"`)
			if ds.Selector == st.Selector {
				hw.raw(` selected`)
			}
			hw.raw(`>`)
			hw.text(ds.Label)
			hw.raw(`</option>`)
		}
		hw.raw(`</select></label>`)

		hw.raw(`<label>Spreadsheet (max `)
		hw.raw(strconv.FormatInt(d.MaxFileMB, 10))
		hw.raw(` MB) <input type="file" name="file" accept=".xlsx,.xls,.csv"></label>`)
		if st.File != nil {
			hw.raw(`<span>chosen: `)
			hw.text(st.File.Name)
			hw.raw(` (`)
			hw.raw(strconv.FormatInt(st.File.Size, 10))
			hw.raw(` bytes)</span>`)
		}
		hw.raw(`<button type="submit">Choose file</button>`)
		hw.raw(`<button type="submit" name="validate" value="true" class="needs-ready"`)
		disabledIf(hw, st.AwaitingBackend())
		hw.raw(`>Choose &amp; validate</button></form>`)

		hw.raw(`<form method="post" action="/api/validate" class="inline"><button type="submit" class="needs-ready"`)
		disabledIf(hw, !st.CanValidate)
		hw.raw(`>Validate</button></form>`)
		hw.raw(`<form method="post" action="/api/save" class="inline"><button type="submit"`)
		disabledIf(hw, !st.CanSave)
		hw.raw(`>Save</button></form>`)
		hw.raw(`<form method="post" action="/api/clear" class="inline"><button type="submit">Clear</button></form>`)

		if st.AwaitingBackend() {
			hw.raw(`<p class="more">Waiting for the validation service…</p>`)
		}
		hw.raw(`</section>`)
		return hw.err
	})
}

func disabledIf(hw *htmlWriter, cond bool) {
	if cond {
		hw.raw(` disabled`)
	}
}

const pageStyle = `<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2933; }
  header { display: flex; align-items: center; gap: 1rem; }
  .badge { padding: .2rem .6rem; border-radius: 1rem; font-size: .85rem; color: #fff; }
  .badge.ready { background: #2f855a; }
  .badge.checking { background: #b7791f; }
  .badge.unreachable { background: #c53030; }
  .alert { padding: .75rem 1rem; border-radius: .4rem; margin: 1rem 0; }
  .alert.error { background: #fff5f5; border: 1px solid #feb2b2; }
  .alert.notice { background: #f0fff4; border: 1px solid #9ae6b4; }
  .alert p { margin: .25rem 0 0; }
  .code { color: #718096; font-size: .85rem; }
  form { margin: .75rem 0; }
  form.inline { display: inline; }
  table { border-collapse: collapse; margin: .5rem 0 1.5rem; }
  th, td { border: 1px solid #e2e8f0; padding: .25rem .6rem; text-align: left; }
  th { background: #edf2f7; }
  td.flagged { background: #ffc7ce; color: #9c0006; font-weight: 600; }
  .pass { color: #2f855a; }
  .fail { color: #c53030; }
  .more { color: #718096; font-style: italic; }
</style>`

const pageScript = `<script>
  (function () {
    var badge = document.getElementById("status");
    var src = new EventSource("/api/status/stream");
    src.addEventListener("status", function (e) {
      var a = JSON.parse(e.data).availability;
      badge.textContent = a;
      badge.className = "badge " + a;
      document.querySelectorAll(".needs-ready").forEach(function (b) {
        if (a !== "ready") { b.disabled = true; }
      });
    });
    src.addEventListener("complete", function () { src.close(); });
  })();
</script>`
