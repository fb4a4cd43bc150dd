package web

import (
	"net/http"

	"github.com/JonMunkholm/sheetgate/internal/core"
	"github.com/JonMunkholm/sheetgate/internal/web/templates"
)

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	v := s.view(sess)

	data := templates.PageData{
		State:     v.State,
		Datasets:  core.Datasets(),
		Flash:     sess.takeFlash(),
		MaxFileMB: s.cfg.Upload.MaxFileSize >> 20,
	}
	if v.Report != nil {
		data.Report = &templates.ReportData{
			Valid:        v.Report.Valid,
			FailedChecks: v.Report.FailedChecks,
			Tables:       v.Report.Tables,
		}
	}
	if v.State.Err != nil {
		msg := core.MapError(v.State.Err)
		data.Error = &msg
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := templates.Page(data).Render(r.Context(), w); err != nil {
		s.logger.Error("render page", "error", err)
	}
}
